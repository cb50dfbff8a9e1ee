package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruleboard/ruleboard/modules/rules/domain/ports"
	"github.com/ruleboard/ruleboard/modules/rules/domain/types"
)

func seedStore(t *testing.T) *RuleMemoryStore {
	t.Helper()
	s := NewRuleMemoryStore().WithClock(func() time.Time {
		return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	})
	ctx := context.Background()
	for _, r := range []types.Rule{
		{ID: "cleanup", TenantID: "t1", RuleIndex: 0, Action: types.ActionAllow},
		{ID: "b", TenantID: "t1", RuleIndex: 100, Action: types.ActionBlock},
		{ID: "c", TenantID: "t1", RuleIndex: 200, Action: types.ActionAllow},
		{ID: "other", TenantID: "t2", RuleIndex: 100, Action: types.ActionAllow},
	} {
		if _, err := s.Create(ctx, r); err != nil {
			t.Fatalf("seed %s: %v", r.ID, err)
		}
	}
	return s
}

func TestMemoryListByTenant(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	rules, total, err := s.ListByTenant(ctx, "t1", ports.ListQuery{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if total != 3 || len(rules) != 3 {
		t.Fatalf("total=%d len=%d", total, len(rules))
	}
	if rules[0].ID != "c" || rules[2].ID != "cleanup" {
		t.Fatalf("descending order broken: %s..%s", rules[0].ID, rules[2].ID)
	}

	rules, _, err = s.ListByTenant(ctx, "t1", ports.ListQuery{Ascending: true})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if rules[0].ID != "cleanup" {
		t.Fatalf("ascending order broken: %s", rules[0].ID)
	}
}

func TestMemoryListPaging(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	rules, total, err := s.ListByTenant(ctx, "t1", ports.ListQuery{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if total != 3 || len(rules) != 1 || rules[0].ID != "b" {
		t.Fatalf("total=%d rules=%v", total, rules)
	}

	rules, total, err = s.ListByTenant(ctx, "t1", ports.ListQuery{Offset: 9, Limit: 5})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if total != 3 || len(rules) != 0 {
		t.Fatalf("total=%d len=%d", total, len(rules))
	}
}

func TestMemoryCreateDuplicateIndex(t *testing.T) {
	s := seedStore(t)
	_, err := s.Create(context.Background(), types.Rule{ID: "dup", TenantID: "t1", RuleIndex: 100, Action: types.ActionAllow})
	if !errors.Is(err, ports.ErrDuplicateIndex) {
		t.Fatalf("err=%v", err)
	}

	// Same index on another tenant is fine.
	if _, err := s.Create(context.Background(), types.Rule{ID: "ok", TenantID: "t3", RuleIndex: 100, Action: types.ActionAllow}); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryMaxKey(t *testing.T) {
	s := seedStore(t)
	maxKey, ok, err := s.MaxKey(context.Background(), "t1")
	if err != nil || !ok || maxKey != 200 {
		t.Fatalf("maxKey=%v ok=%v err=%v", maxKey, ok, err)
	}
	_, ok, err = s.MaxKey(context.Background(), "empty")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestMemoryNeighbors(t *testing.T) {
	s := seedStore(t)
	lower, upper, err := s.Neighbors(context.Background(), "t1", 100)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if lower == nil || lower.ID != "cleanup" {
		t.Fatalf("lower=%+v", lower)
	}
	if upper == nil || upper.ID != "c" {
		t.Fatalf("upper=%+v", upper)
	}

	lower, upper, err = s.Neighbors(context.Background(), "t1", 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if lower != nil {
		t.Fatalf("lower=%+v", lower)
	}
	if upper == nil || upper.ID != "b" {
		t.Fatalf("upper=%+v", upper)
	}
}

func TestMemoryUpdateFields(t *testing.T) {
	s := seedStore(t)
	name := "renamed"
	action := types.ActionAllow
	updated, err := s.UpdateFields(context.Background(), "b", ports.FieldPatch{Name: &name, Action: &action})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if updated.Name != "renamed" || updated.Action != types.ActionAllow {
		t.Fatalf("updated=%+v", updated)
	}
	if updated.RuleIndex != 100 {
		t.Fatalf("field update must not touch the index, got %v", updated.RuleIndex)
	}

	if _, err := s.UpdateFields(context.Background(), "missing", ports.FieldPatch{Name: &name}); !errors.Is(err, ports.ErrRuleNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryUpdateKeyGuarded(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	guards := []ports.KeyGuard{{RuleID: "cleanup", Key: 0}, {RuleID: "b", Key: 100}}
	if err := s.UpdateKeyGuarded(ctx, "t1", "c", 50, guards); err != nil {
		t.Fatalf("err=%v", err)
	}
	moved, err := s.FindByID(ctx, "c")
	if err != nil || moved.RuleIndex != 50 {
		t.Fatalf("moved=%+v err=%v", moved, err)
	}

	// Stale guard: c moved off the key the caller read.
	if err := s.UpdateKeyGuarded(ctx, "t1", "b", 75, []ports.KeyGuard{{RuleID: "c", Key: 200}}); !errors.Is(err, ports.ErrStaleSnapshot) {
		t.Fatalf("err=%v", err)
	}

	if err := s.UpdateKeyGuarded(ctx, "t1", "missing", 10, nil); !errors.Is(err, ports.ErrRuleNotFound) {
		t.Fatalf("err=%v", err)
	}

	if err := s.UpdateKeyGuarded(ctx, "t1", "b", 50, nil); !errors.Is(err, ports.ErrDuplicateIndex) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "cleanup"); !errors.Is(err, ports.ErrCleanupRule) {
		t.Fatalf("err=%v", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, ports.ErrRuleNotFound) {
		t.Fatalf("err=%v", err)
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := s.FindByID(ctx, "b"); !errors.Is(err, ports.ErrRuleNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryRenumberTenant(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	err := s.RenumberTenant(ctx, "t1", []ports.KeyAssignment{
		{RuleID: "b", Key: 100},
		{RuleID: "c", Key: 200},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}

	if err := s.RenumberTenant(ctx, "t1", []ports.KeyAssignment{{RuleID: "missing", Key: 300}}); !errors.Is(err, ports.ErrRuleNotFound) {
		t.Fatalf("err=%v", err)
	}

	if err := s.RenumberTenant(ctx, "t1", []ports.KeyAssignment{{RuleID: "b", Key: 200}}); !errors.Is(err, ports.ErrDuplicateIndex) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryRenumberTenantFailureLeavesKeys(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	// A renumber that would collide must not apply any assignment.
	err := s.RenumberTenant(ctx, "t1", []ports.KeyAssignment{
		{RuleID: "b", Key: 150},
		{RuleID: "c", Key: 150},
	})
	if !errors.Is(err, ports.ErrDuplicateIndex) {
		t.Fatalf("err=%v", err)
	}
	b, err := s.FindByID(ctx, "b")
	if err != nil {
		t.Fatalf("find b: %v", err)
	}
	if b.RuleIndex != 100 {
		t.Fatalf("b ruleIndex=%v, want 100", b.RuleIndex)
	}
	c, err := s.FindByID(ctx, "c")
	if err != nil {
		t.Fatalf("find c: %v", err)
	}
	if c.RuleIndex != 200 {
		t.Fatalf("c ruleIndex=%v, want 200", c.RuleIndex)
	}
}

func TestMemoryRenumberTenantSwapsKeys(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	// Exchanging two keys is valid even though each target is currently held.
	err := s.RenumberTenant(ctx, "t1", []ports.KeyAssignment{
		{RuleID: "b", Key: 200},
		{RuleID: "c", Key: 100},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	b, _ := s.FindByID(ctx, "b")
	c, _ := s.FindByID(ctx, "c")
	if b.RuleIndex != 200 || c.RuleIndex != 100 {
		t.Fatalf("b=%v c=%v", b.RuleIndex, c.RuleIndex)
	}
}
