package services

import (
	"context"
	"errors"
	"strings"

	"github.com/ruleboard/ruleboard/modules/rules/domain/ports"
	"github.com/ruleboard/ruleboard/modules/rules/domain/types"
	"github.com/ruleboard/ruleboard/modules/rules/ordering"
	"github.com/ruleboard/ruleboard/pkg/httperr"
	"github.com/ruleboard/ruleboard/pkg/uuidv7"
)

const (
	defaultPageLimit = 20

	// Conflicting writers invalidate a planned key; the plan is recomputed
	// from a fresh snapshot, not the whole request.
	keyWriteAttempts = 3
)

var newUUID = uuidv7.NewString

type RuleService interface {
	List(ctx context.Context, tenantID string, req ListRequest) (ListResult, error)
	Create(ctx context.Context, req CreateRuleRequest) (types.Rule, error)
	Update(ctx context.Context, id string, req UpdateRuleRequest) (types.Rule, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, id string, beforeID string, afterID string) (float64, error)
	BulkUpdate(ctx context.Context, items []BulkUpdateItem) []BulkUpdateResult
	Rebalance(ctx context.Context, tenantID string) error
}

type ListRequest struct {
	Page      int
	Limit     int
	Ascending bool
}

type ListResult struct {
	Rules []types.Rule
	Total int
	Page  int
	Limit int
}

type CreateRuleRequest struct {
	TenantID    string
	Name        string
	Source      *[]types.SourceRef
	Destination *[]types.DestinationRef
	Action      string
}

type UpdateRuleRequest struct {
	TenantID    string
	Name        *string
	Source      *[]types.SourceRef
	Destination *[]types.DestinationRef
	Action      *string
}

type BulkUpdateItem struct {
	ID          string
	Name        *string
	Source      *[]types.SourceRef
	Destination *[]types.DestinationRef
	Action      *string
}

type BulkUpdateResult struct {
	ID    string `json:"_id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ruleService struct {
	store  ports.RuleStore
	engine *ordering.Engine
}

func NewRuleService(store ports.RuleStore) RuleService {
	return &ruleService{store: store, engine: ordering.NewEngine(store)}
}

func (s *ruleService) List(ctx context.Context, tenantID string, req ListRequest) (ListResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ListResult{}, httperr.NewBadRequestField("Missing tenantId", "tenantId")
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultPageLimit
	}

	rules, total, err := s.store.ListByTenant(ctx, tenantID, ports.ListQuery{
		Ascending: req.Ascending,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	})
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Rules: rules, Total: total, Page: page, Limit: limit}, nil
}

func (s *ruleService) Create(ctx context.Context, req CreateRuleRequest) (types.Rule, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	switch {
	case req.TenantID == "":
		return types.Rule{}, httperr.NewBadRequestField("Missing required fields", "tenantId")
	case req.Source == nil:
		return types.Rule{}, httperr.NewBadRequestField("Missing required fields", "source")
	case req.Destination == nil:
		return types.Rule{}, httperr.NewBadRequestField("Missing required fields", "destination")
	case req.Action == "":
		return types.Rule{}, httperr.NewBadRequestField("Missing required fields", "action")
	}
	action := types.Action(req.Action)
	if !action.Valid() {
		return types.Rule{}, httperr.NewBadRequestField("Invalid action", "action")
	}

	for i := 0; i < keyWriteAttempts; i++ {
		plan, err := s.engine.PlanInsert(ctx, req.TenantID)
		if err != nil {
			return types.Rule{}, err
		}
		id, err := newUUID()
		if err != nil {
			return types.Rule{}, err
		}

		created, err := s.store.Create(ctx, types.Rule{
			ID:          id,
			TenantID:    req.TenantID,
			Name:        req.Name,
			RuleIndex:   plan.Key,
			Source:      *req.Source,
			Destination: *req.Destination,
			Action:      action,
		})
		if errors.Is(err, ports.ErrDuplicateIndex) {
			continue
		}
		if err != nil {
			return types.Rule{}, err
		}
		return created, nil
	}
	return types.Rule{}, httperr.NewConflict("Duplicate ruleIndex")
}

func (s *ruleService) Update(ctx context.Context, id string, req UpdateRuleRequest) (types.Rule, error) {
	if strings.TrimSpace(id) == "" {
		return types.Rule{}, httperr.NewBadRequestField("Missing rule ID", "id")
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		return types.Rule{}, httperr.NewBadRequestField("Missing tenantId", "tenantId")
	}

	rule, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrRuleNotFound) {
			return types.Rule{}, httperr.NewNotFound("Rule not found")
		}
		return types.Rule{}, err
	}
	if rule.Cleanup() {
		return types.Rule{}, httperr.NewForbidden("Cleanup rule cannot be edited")
	}
	if rule.TenantID != req.TenantID {
		return types.Rule{}, httperr.NewForbidden("Access denied to this rule")
	}

	patch, err := fieldPatch(req.Name, req.Source, req.Destination, req.Action)
	if err != nil {
		return types.Rule{}, err
	}
	if patch.Empty() {
		return rule, nil
	}

	updated, err := s.store.UpdateFields(ctx, id, patch)
	if err != nil {
		if errors.Is(err, ports.ErrRuleNotFound) {
			return types.Rule{}, httperr.NewNotFound("Rule not found")
		}
		return types.Rule{}, err
	}
	return updated, nil
}

func (s *ruleService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return httperr.NewBadRequestField("Missing rule ID", "id")
	}

	err := s.store.Delete(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrRuleNotFound):
		return httperr.NewNotFound("Rule not found")
	case errors.Is(err, ports.ErrCleanupRule):
		return httperr.NewForbidden("Cleanup rule cannot be deleted")
	default:
		return err
	}
}

func (s *ruleService) Reorder(ctx context.Context, id string, beforeID string, afterID string) (float64, error) {
	if strings.TrimSpace(id) == "" {
		return 0, httperr.NewBadRequestField("Missing rule ID", "id")
	}

	rebalanced := false
	for i := 0; i < keyWriteAttempts; i++ {
		plan, err := s.engine.PlanMove(ctx, id, beforeID, afterID)
		if errors.Is(err, ordering.ErrPrecisionExhausted) {
			// The gap between the drop target's neighbors collapsed. Spread
			// the tenant's keys out once, then re-plan.
			if rebalanced {
				return 0, httperr.NewConflict("Rule indexes exhausted for tenant")
			}
			rule, ferr := s.store.FindByID(ctx, id)
			if errors.Is(ferr, ports.ErrRuleNotFound) {
				return 0, httperr.NewNotFound("Rule not found")
			}
			if ferr != nil {
				return 0, ferr
			}
			if err := s.Rebalance(ctx, rule.TenantID); err != nil {
				return 0, err
			}
			rebalanced = true
			continue
		}
		if err != nil {
			return 0, err
		}
		if plan.NoOp {
			return plan.NewKey, nil
		}

		err = s.store.UpdateKeyGuarded(ctx, plan.Rule.TenantID, id, plan.NewKey, plan.Guards)
		switch {
		case err == nil:
			return plan.NewKey, nil
		case errors.Is(err, ports.ErrStaleSnapshot), errors.Is(err, ports.ErrDuplicateIndex):
			continue
		case errors.Is(err, ports.ErrRuleNotFound):
			return 0, httperr.NewNotFound("Rule not found")
		default:
			return 0, err
		}
	}
	return 0, httperr.NewConflict("Rule order changed concurrently")
}

func (s *ruleService) BulkUpdate(ctx context.Context, items []BulkUpdateItem) []BulkUpdateResult {
	results := make([]BulkUpdateResult, 0, len(items))
	for _, item := range items {
		results = append(results, s.bulkUpdateOne(ctx, item))
	}
	return results
}

func (s *ruleService) bulkUpdateOne(ctx context.Context, item BulkUpdateItem) BulkUpdateResult {
	if strings.TrimSpace(item.ID) == "" {
		return BulkUpdateResult{ID: item.ID, Error: "Missing rule ID"}
	}

	rule, err := s.store.FindByID(ctx, item.ID)
	if err != nil {
		if errors.Is(err, ports.ErrRuleNotFound) {
			return BulkUpdateResult{ID: item.ID, Error: "Rule not found"}
		}
		return BulkUpdateResult{ID: item.ID, Error: "Update failed"}
	}
	if rule.Cleanup() {
		return BulkUpdateResult{ID: item.ID, Error: "Cleanup rule cannot be edited"}
	}

	patch, err := fieldPatch(item.Name, item.Source, item.Destination, item.Action)
	if err != nil {
		return BulkUpdateResult{ID: item.ID, Error: err.Error()}
	}
	if patch.Empty() {
		return BulkUpdateResult{ID: item.ID, OK: true}
	}

	if _, err := s.store.UpdateFields(ctx, item.ID, patch); err != nil {
		if errors.Is(err, ports.ErrRuleNotFound) {
			return BulkUpdateResult{ID: item.ID, Error: "Rule not found"}
		}
		return BulkUpdateResult{ID: item.ID, Error: "Update failed"}
	}
	return BulkUpdateResult{ID: item.ID, OK: true}
}

// Rebalance renumbers a tenant's non-cleanup rules to fresh gapped keys,
// preserving relative order. Maintenance path, not exposed over HTTP.
func (s *ruleService) Rebalance(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return httperr.NewBadRequestField("Missing tenantId", "tenantId")
	}

	rules, _, err := s.store.ListByTenant(ctx, tenantID, ports.ListQuery{Ascending: true})
	if err != nil {
		return err
	}

	assign := make([]ports.KeyAssignment, 0, len(rules))
	next := ordering.Gap
	for _, r := range rules {
		if r.Cleanup() {
			continue
		}
		assign = append(assign, ports.KeyAssignment{RuleID: r.ID, Key: next})
		next += ordering.Gap
	}
	if len(assign) == 0 {
		return nil
	}
	return s.store.RenumberTenant(ctx, tenantID, assign)
}

func fieldPatch(name *string, source *[]types.SourceRef, destination *[]types.DestinationRef, action *string) (ports.FieldPatch, error) {
	patch := ports.FieldPatch{Name: name, Source: source, Destination: destination}
	if action != nil {
		a := types.Action(*action)
		if !a.Valid() {
			return ports.FieldPatch{}, httperr.NewBadRequestField("Invalid action", "action")
		}
		patch.Action = &a
	}
	return patch, nil
}
