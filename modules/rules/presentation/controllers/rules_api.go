package controllers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ruleboard/ruleboard/internal/routing"
	"github.com/ruleboard/ruleboard/modules/rules/domain/types"
	"github.com/ruleboard/ruleboard/modules/rules/services"
	"github.com/ruleboard/ruleboard/pkg/httperr"
)

type RulesController struct {
	Service services.RuleService
}

type createRuleAPIRequest struct {
	TenantID    string                  `json:"tenantId"`
	Name        string                  `json:"name"`
	Source      *[]types.SourceRef      `json:"source"`
	Destination *[]types.DestinationRef `json:"destination"`
	Action      string                  `json:"action"`
}

type updateRuleAPIRequest struct {
	TenantID    string                  `json:"tenantId"`
	Name        *string                 `json:"name"`
	Source      *[]types.SourceRef      `json:"source"`
	Destination *[]types.DestinationRef `json:"destination"`
	Action      *string                 `json:"action"`
}

type reorderRuleAPIRequest struct {
	BeforeID string `json:"beforeId"`
	AfterID  string `json:"afterId"`
}

type bulkUpdateAPIItem struct {
	ID          string                  `json:"_id"`
	Name        *string                 `json:"name"`
	Source      *[]types.SourceRef      `json:"source"`
	Destination *[]types.DestinationRef `json:"destination"`
	Action      *string                 `json:"action"`
}

// HandleRulesCollectionAPI serves POST /api/rules.
func (c RulesController) HandleRulesCollectionAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req createRuleAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}

	rule, err := c.Service.Create(r.Context(), services.CreateRuleRequest{
		TenantID:    req.TenantID,
		Name:        req.Name,
		Source:      req.Source,
		Destination: req.Destination,
		Action:      req.Action,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// HandleRuleAPI serves GET /api/rules/{id} (the path segment is a tenant ID
// for listing), PUT /api/rules/{id} and DELETE /api/rules/{id}.
func (c RulesController) HandleRuleAPI(w http.ResponseWriter, r *http.Request) {
	id := routing.PathParam(r.Context(), "id")

	switch r.Method {
	case http.MethodGet:
		c.listRules(w, r, id)
	case http.MethodPut:
		c.updateRule(w, r, id)
	case http.MethodDelete:
		c.deleteRule(w, r, id)
	default:
		routing.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c RulesController) listRules(w http.ResponseWriter, r *http.Request, tenantID string) {
	q := r.URL.Query()
	page := parseIntParam(q.Get("page"))
	limit := parseIntParam(q.Get("limit"))
	ascending := strings.EqualFold(strings.TrimSpace(q.Get("sort")), "asc")

	res, err := c.Service.List(r.Context(), tenantID, services.ListRequest{
		Page:      page,
		Limit:     limit,
		Ascending: ascending,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	if res.Rules == nil {
		res.Rules = make([]types.Rule, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  res.Rules,
		"total": res.Total,
		"page":  res.Page,
		"limit": res.Limit,
	})
}

func (c RulesController) updateRule(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRuleAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}

	rule, err := c.Service.Update(r.Context(), id, services.UpdateRuleRequest{
		TenantID:    req.TenantID,
		Name:        req.Name,
		Source:      req.Source,
		Destination: req.Destination,
		Action:      req.Action,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (c RulesController) deleteRule(w http.ResponseWriter, r *http.Request, id string) {
	if err := c.Service.Delete(r.Context(), id); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Rule deleted successfully"})
}

// HandleRuleReorderAPI serves POST /api/rules/{id}/reorder.
func (c RulesController) HandleRuleReorderAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	id := routing.PathParam(r.Context(), "id")

	var req reorderRuleAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}

	newIndex, err := c.Service.Reorder(r.Context(), id, strings.TrimSpace(req.BeforeID), strings.TrimSpace(req.AfterID))
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Rule reordered successfully",
		"newIndex": newIndex,
	})
}

// HandleRulesBulkUpdateAPI serves POST /api/rules/bulk-update.
func (c RulesController) HandleRulesBulkUpdateAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var body struct {
		Rules json.RawMessage `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		routing.WriteError(w, r, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	var items []bulkUpdateAPIItem
	if len(body.Rules) == 0 || json.Unmarshal(body.Rules, &items) != nil {
		routing.WriteError(w, r, http.StatusBadRequest, "bad_request", "rules must be an array")
		return
	}

	updates := make([]services.BulkUpdateItem, 0, len(items))
	for _, item := range items {
		updates = append(updates, services.BulkUpdateItem{
			ID:          item.ID,
			Name:        item.Name,
			Source:      item.Source,
			Destination: item.Destination,
			Action:      item.Action,
		})
	}

	result := c.Service.BulkUpdate(r.Context(), updates)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Bulk update completed",
		"result":  result,
	})
}

func (c RulesController) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case httperr.IsBadRequest(err):
		routing.WriteFieldError(w, r, http.StatusBadRequest, "bad_request", err.Error(), httperr.BadRequestField(err))
	case httperr.IsNotFound(err):
		routing.WriteError(w, r, http.StatusNotFound, "not_found", err.Error())
	case httperr.IsForbidden(err):
		routing.WriteError(w, r, http.StatusForbidden, "forbidden", err.Error())
	case httperr.IsConflict(err):
		routing.WriteError(w, r, http.StatusConflict, "conflict", err.Error())
	default:
		log.Printf("rules api: %v", err)
		routing.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseIntParam(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
