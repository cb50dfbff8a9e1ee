package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruleboard/ruleboard/internal/routing"
	"github.com/ruleboard/ruleboard/modules/rules/domain/ports"
	"github.com/ruleboard/ruleboard/modules/rules/infrastructure/persistence"
	"github.com/ruleboard/ruleboard/modules/rules/presentation/controllers"
	"github.com/ruleboard/ruleboard/modules/rules/services"
)

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

type HandlerOptions struct {
	RuleStore ports.RuleStore
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}

	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	authorizer, err := loadAuthorizer()
	if err != nil {
		return nil, err
	}

	store := opts.RuleStore
	if store == nil {
		pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		store = persistence.NewRulePGStore(pool)
	}

	ruleService := services.NewRuleService(store)
	rules := controllers.RulesController{Service: ruleService}

	router := routing.NewRouter()
	handle := func(method string, path string, h http.HandlerFunc) {
		router.Handle(classifier.Classify(path), method, path, h)
	}

	handle(http.MethodGet, "/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	handle(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	handle(http.MethodPost, "/api/rules", rules.HandleRulesCollectionAPI)
	handle(http.MethodPost, "/api/rules/bulk-update", rules.HandleRulesBulkUpdateAPI)
	handle(http.MethodGet, "/api/rules/{id}", rules.HandleRuleAPI)
	handle(http.MethodPut, "/api/rules/{id}", rules.HandleRuleAPI)
	handle(http.MethodDelete, "/api/rules/{id}", rules.HandleRuleAPI)
	handle(http.MethodPost, "/api/rules/{id}/reorder", rules.HandleRuleReorderAPI)

	return withAuthz(authorizer, router), nil
}

func defaultAllowlistPath() (string, error) {
	path := filepath.Join("config", "routing", "allowlist.yaml")
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: allowlist not found")
}
