package ports

import (
	"context"
	"errors"

	"github.com/ruleboard/ruleboard/modules/rules/domain/types"
)

var (
	ErrRuleNotFound   = errors.New("rule not found")
	ErrDuplicateIndex = errors.New("duplicate rule index for tenant")
	// ErrStaleSnapshot is returned by UpdateKeyGuarded when a guard neighbor
	// moved between the planning read and the write.
	ErrStaleSnapshot = errors.New("neighbor keys changed since read")
	ErrCleanupRule   = errors.New("cleanup rule is protected")
)

// ListQuery selects a page of a tenant's rules. Limit <= 0 means no paging.
type ListQuery struct {
	Ascending bool
	Offset    int
	Limit     int
}

// FieldPatch carries a partial field update. Nil members are left untouched;
// the rule index is never part of a field patch.
type FieldPatch struct {
	Name        *string
	Source      *[]types.SourceRef
	Destination *[]types.DestinationRef
	Action      *types.Action
}

func (p FieldPatch) Empty() bool {
	return p.Name == nil && p.Source == nil && p.Destination == nil && p.Action == nil
}

// KeyGuard pins a neighbor to the rule index observed when a move was
// planned. A guarded key write only succeeds while every guard still holds.
type KeyGuard struct {
	RuleID string
	Key    float64
}

// KeyAssignment is one row of a tenant-wide renumbering.
type KeyAssignment struct {
	RuleID string
	Key    float64
}

type RuleStore interface {
	ListByTenant(ctx context.Context, tenantID string, q ListQuery) ([]types.Rule, int, error)
	FindByID(ctx context.Context, id string) (types.Rule, error)
	MaxKey(ctx context.Context, tenantID string) (float64, bool, error)
	// Neighbors returns the rules directly below and above key in the
	// tenant's ascending order. Either may be nil at the edges.
	Neighbors(ctx context.Context, tenantID string, key float64) (lower *types.Rule, upper *types.Rule, err error)
	Create(ctx context.Context, r types.Rule) (types.Rule, error)
	UpdateFields(ctx context.Context, id string, patch FieldPatch) (types.Rule, error)
	UpdateKeyGuarded(ctx context.Context, tenantID string, id string, newKey float64, guards []KeyGuard) error
	Delete(ctx context.Context, id string) error
	// RenumberTenant rewrites the given rule indexes in one transaction.
	RenumberTenant(ctx context.Context, tenantID string, assign []KeyAssignment) error
}
