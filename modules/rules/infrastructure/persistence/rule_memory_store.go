package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruleboard/ruleboard/modules/rules/domain/ports"
	"github.com/ruleboard/ruleboard/modules/rules/domain/types"
)

// RuleMemoryStore keeps rules in process memory. It backs the server when no
// database is configured and the service tests.
type RuleMemoryStore struct {
	mu    sync.Mutex
	rules map[string]types.Rule
	now   func() time.Time
}

func NewRuleMemoryStore() *RuleMemoryStore {
	return &RuleMemoryStore{
		rules: make(map[string]types.Rule),
		now:   time.Now,
	}
}

// WithClock replaces the timestamp source, for tests.
func (s *RuleMemoryStore) WithClock(now func() time.Time) *RuleMemoryStore {
	s.now = now
	return s
}

func (s *RuleMemoryStore) ListByTenant(_ context.Context, tenantID string, q ports.ListQuery) ([]types.Rule, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.tenantRulesLocked(tenantID)
	if !q.Ascending {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}

	total := len(all)
	if q.Limit <= 0 {
		return all, total, nil
	}
	if q.Offset >= len(all) {
		return []types.Rule{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[q.Offset:end], total, nil
}

func (s *RuleMemoryStore) FindByID(_ context.Context, id string) (types.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return types.Rule{}, ports.ErrRuleNotFound
	}
	return r, nil
}

func (s *RuleMemoryStore) MaxKey(_ context.Context, tenantID string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxKey, found := 0.0, false
	for _, r := range s.rules {
		if r.TenantID != tenantID {
			continue
		}
		if !found || r.RuleIndex > maxKey {
			maxKey = r.RuleIndex
			found = true
		}
	}
	return maxKey, found, nil
}

func (s *RuleMemoryStore) Neighbors(_ context.Context, tenantID string, key float64) (*types.Rule, *types.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lower, upper *types.Rule
	for _, r := range s.rules {
		if r.TenantID != tenantID {
			continue
		}
		r := r
		if r.RuleIndex < key && (lower == nil || r.RuleIndex > lower.RuleIndex) {
			lower = &r
		}
		if r.RuleIndex > key && (upper == nil || r.RuleIndex < upper.RuleIndex) {
			upper = &r
		}
	}
	return lower, upper, nil
}

func (s *RuleMemoryStore) Create(_ context.Context, r types.Rule) (types.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rules {
		if existing.TenantID == r.TenantID && existing.RuleIndex == r.RuleIndex {
			return types.Rule{}, ports.ErrDuplicateIndex
		}
	}

	now := s.now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Source == nil {
		r.Source = []types.SourceRef{}
	}
	if r.Destination == nil {
		r.Destination = []types.DestinationRef{}
	}
	s.rules[r.ID] = r
	return r, nil
}

func (s *RuleMemoryStore) UpdateFields(_ context.Context, id string, patch ports.FieldPatch) (types.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return types.Rule{}, ports.ErrRuleNotFound
	}
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Source != nil {
		r.Source = emptyIfNilSources(*patch.Source)
	}
	if patch.Destination != nil {
		r.Destination = emptyIfNilDestinations(*patch.Destination)
	}
	if patch.Action != nil {
		r.Action = *patch.Action
	}
	r.UpdatedAt = s.now().UTC()
	s.rules[id] = r
	return r, nil
}

func (s *RuleMemoryStore) UpdateKeyGuarded(_ context.Context, tenantID string, id string, newKey float64, guards []ports.KeyGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok || r.TenantID != tenantID {
		return ports.ErrRuleNotFound
	}
	for _, g := range guards {
		n, ok := s.rules[g.RuleID]
		if !ok || n.TenantID != tenantID || n.RuleIndex != g.Key {
			return ports.ErrStaleSnapshot
		}
	}
	for _, existing := range s.rules {
		if existing.ID != id && existing.TenantID == tenantID && existing.RuleIndex == newKey {
			return ports.ErrDuplicateIndex
		}
	}

	r.RuleIndex = newKey
	r.UpdatedAt = s.now().UTC()
	s.rules[id] = r
	return nil
}

func (s *RuleMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return ports.ErrRuleNotFound
	}
	if r.Cleanup() {
		return ports.ErrCleanupRule
	}
	delete(s.rules, id)
	return nil
}

func (s *RuleMemoryStore) RenumberTenant(_ context.Context, tenantID string, assign []ports.KeyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]float64, len(assign))
	for _, a := range assign {
		r, ok := s.rules[a.RuleID]
		if !ok || r.TenantID != tenantID {
			return ports.ErrRuleNotFound
		}
		next[a.RuleID] = a.Key
	}

	// Validate the resulting key set before touching any rule, so a failed
	// renumber leaves the tenant untouched.
	seen := make(map[float64]struct{})
	for _, r := range s.rules {
		if r.TenantID != tenantID {
			continue
		}
		key := r.RuleIndex
		if k, ok := next[r.ID]; ok {
			key = k
		}
		if _, dup := seen[key]; dup {
			return ports.ErrDuplicateIndex
		}
		seen[key] = struct{}{}
	}

	now := s.now().UTC()
	for id, key := range next {
		r := s.rules[id]
		r.RuleIndex = key
		r.UpdatedAt = now
		s.rules[id] = r
	}
	return nil
}

func (s *RuleMemoryStore) tenantRulesLocked(tenantID string) []types.Rule {
	out := make([]types.Rule, 0)
	for _, r := range s.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleIndex < out[j].RuleIndex })
	return out
}
