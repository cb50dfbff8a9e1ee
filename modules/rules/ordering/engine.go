package ordering

import (
	"context"
	"errors"

	"github.com/ruleboard/ruleboard/modules/rules/domain/ports"
	"github.com/ruleboard/ruleboard/modules/rules/domain/types"
	"github.com/ruleboard/ruleboard/pkg/httperr"
)

// Engine turns insert and reorder requests into key computations plus the
// invariant checks that make them safe. It holds no state of its own; every
// plan is a pure function over a store snapshot and safe to retry.
type Engine struct {
	store ports.RuleStore
}

func NewEngine(store ports.RuleStore) *Engine {
	return &Engine{store: store}
}

// InsertPlan is the position assigned to a newly created rule. The first
// rule a tenant ever creates becomes the cleanup rule at key 0.
type InsertPlan struct {
	Key     float64
	Cleanup bool
}

// MovePlan is the outcome of planning a reorder. Guards carry the neighbor
// keys read during planning so the caller can write the new key with a
// compare-and-swap. NoOp means the rule already sits between the requested
// neighbors and nothing must be written.
type MovePlan struct {
	Rule   types.Rule
	NewKey float64
	Guards []ports.KeyGuard
	NoOp   bool
}

func (e *Engine) PlanInsert(ctx context.Context, tenantID string) (InsertPlan, error) {
	maxKey, ok, err := e.store.MaxKey(ctx, tenantID)
	if err != nil {
		return InsertPlan{}, err
	}
	if !ok {
		return InsertPlan{Key: 0, Cleanup: true}, nil
	}
	return InsertPlan{Key: Append(maxKey, true)}, nil
}

func (e *Engine) PlanMove(ctx context.Context, ruleID string, beforeID string, afterID string) (MovePlan, error) {
	rule, err := e.store.FindByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, ports.ErrRuleNotFound) {
			return MovePlan{}, httperr.NewNotFound("Rule not found")
		}
		return MovePlan{}, err
	}
	if rule.Cleanup() {
		return MovePlan{}, httperr.NewForbidden("Cleanup rule cannot be reordered")
	}
	// A rule is trivially adjacent to itself; a move anchored on the moved
	// rule cannot change the order.
	if beforeID == ruleID || afterID == ruleID {
		return MovePlan{Rule: rule, NewKey: rule.RuleIndex, NoOp: true}, nil
	}

	var (
		guards    []ports.KeyGuard
		beforeKey *float64
		afterKey  *float64
	)
	if beforeID != "" {
		before, err := e.resolveNeighbor(ctx, rule.TenantID, beforeID)
		if err != nil {
			return MovePlan{}, httperr.NewBadRequestField("Invalid beforeId reference", "beforeId")
		}
		beforeKey = &before.RuleIndex
		guards = append(guards, ports.KeyGuard{RuleID: before.ID, Key: before.RuleIndex})
	}
	if afterID != "" {
		after, err := e.resolveNeighbor(ctx, rule.TenantID, afterID)
		if err != nil {
			return MovePlan{}, httperr.NewBadRequestField("Invalid afterId reference", "afterId")
		}
		afterKey = &after.RuleIndex
		guards = append(guards, ports.KeyGuard{RuleID: after.ID, Key: after.RuleIndex})
	}

	noop, err := e.alreadyInPlace(ctx, rule, beforeID, afterID)
	if err != nil {
		return MovePlan{}, err
	}
	if noop {
		return MovePlan{Rule: rule, NewKey: rule.RuleIndex, NoOp: true}, nil
	}

	var newKey float64
	if beforeKey == nil && afterKey == nil {
		maxKey, ok, err := e.store.MaxKey(ctx, rule.TenantID)
		if err != nil {
			return MovePlan{}, err
		}
		newKey = Append(maxKey, ok)
	} else {
		newKey, err = Between(beforeKey, afterKey)
		if err != nil {
			if errors.Is(err, ErrPrecisionExhausted) {
				return MovePlan{}, err
			}
			return MovePlan{}, httperr.NewBadRequest("Resulting rule index is not a valid position")
		}
	}
	if newKey <= 0 {
		return MovePlan{}, httperr.NewBadRequest("Resulting rule index is not a valid position")
	}

	return MovePlan{Rule: rule, NewKey: newKey, Guards: guards}, nil
}

func (e *Engine) resolveNeighbor(ctx context.Context, tenantID string, id string) (types.Rule, error) {
	ref, err := e.store.FindByID(ctx, id)
	if err != nil {
		return types.Rule{}, err
	}
	if ref.TenantID != tenantID {
		return types.Rule{}, ports.ErrRuleNotFound
	}
	return ref, nil
}

// alreadyInPlace reports whether the requested neighbors are exactly the
// rule's current adjacent rules; an empty request id matches a missing
// neighbor. Such a move would not change the tenant's order.
func (e *Engine) alreadyInPlace(ctx context.Context, rule types.Rule, beforeID string, afterID string) (bool, error) {
	lower, upper, err := e.store.Neighbors(ctx, rule.TenantID, rule.RuleIndex)
	if err != nil {
		return false, err
	}

	lowerID := ""
	if lower != nil {
		lowerID = lower.ID
	}
	upperID := ""
	if upper != nil {
		upperID = upper.ID
	}
	return beforeID == lowerID && afterID == upperID, nil
}
