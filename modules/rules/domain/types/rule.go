package types

import "time"

type Action string

const (
	ActionAllow Action = "Allow"
	ActionBlock Action = "Block"
)

func (a Action) Valid() bool {
	return a == ActionAllow || a == ActionBlock
}

// SourceRef identifies a sender the rule applies to.
type SourceRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DestinationRef identifies a delivery target the rule applies to.
type DestinationRef struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Rule is a tenant-scoped access-control entry. RuleIndex establishes the
// total order within a tenant; the rule at index 0 is the tenant's cleanup
// rule and can never be edited, moved, or deleted.
type Rule struct {
	ID          string           `json:"_id"`
	TenantID    string           `json:"tenantId"`
	Name        string           `json:"name,omitempty"`
	RuleIndex   float64          `json:"ruleIndex"`
	Source      []SourceRef      `json:"source"`
	Destination []DestinationRef `json:"destination"`
	Action      Action           `json:"action"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Cleanup reports whether r is the tenant's pinned default rule.
func (r Rule) Cleanup() bool { return r.RuleIndex == 0 }
