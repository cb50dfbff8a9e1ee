package routing

import (
	"context"
	"log"
	"net/http"
	"runtime/debug"
)

type Router struct {
	exact    map[string]map[string]routeEntry
	patterns []*patternRoutes
}

type routeEntry struct {
	handler http.Handler
}

type patternRoutes struct {
	pattern PathPattern
	methods map[string]routeEntry
}

func NewRouter() *Router {
	return &Router{exact: make(map[string]map[string]routeEntry)}
}

func (r *Router) Handle(rc RouteClass, method string, path string, h http.Handler) {
	entry := routeEntry{handler: recovered(rc, h)}

	if p, ok := parsePathPattern(path); ok {
		for _, pr := range r.patterns {
			if pr.pattern.raw == path {
				pr.methods[method] = entry
				return
			}
		}
		r.patterns = append(r.patterns, &patternRoutes{
			pattern: p,
			methods: map[string]routeEntry{method: entry},
		})
		return
	}

	if r.exact[path] == nil {
		r.exact[path] = make(map[string]routeEntry)
	}
	r.exact[path][method] = entry
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if methods, ok := r.exact[req.URL.Path]; ok {
		entry, ok := methods[req.Method]
		if !ok {
			WriteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		entry.handler.ServeHTTP(w, req)
		return
	}

	for _, pr := range r.patterns {
		params := pr.pattern.Params(req.URL.Path)
		if params == nil {
			continue
		}
		entry, ok := pr.methods[req.Method]
		if !ok {
			WriteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		entry.handler.ServeHTTP(w, req.WithContext(withPathParams(req.Context(), params)))
		return
	}

	WriteError(w, req, http.StatusNotFound, "not_found", "not found")
}

func recovered(rc RouteClass, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s [%s]: %v\n%s", req.Method, req.URL.Path, rc, rec, debug.Stack())
				WriteError(w, req, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		h.ServeHTTP(w, req)
	})
}

type pathParamsKey struct{}

func withPathParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, pathParamsKey{}, params)
}

// PathParam returns the named path parameter bound by the router, or "" when
// the route carried no such parameter.
func PathParam(ctx context.Context, name string) string {
	params, _ := ctx.Value(pathParamsKey{}).(map[string]string)
	return params[name]
}
