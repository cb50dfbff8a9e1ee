package httperr

import "testing"

func TestIsBadRequest(t *testing.T) {
	if IsBadRequest(nil) {
		t.Fatalf("expected false for nil")
	}
	if IsBadRequest(NewBadRequest("bad")) != true {
		t.Fatalf("expected true for BadRequestError")
	}
	if IsBadRequest(assertErr("other")) {
		t.Fatalf("expected false for non-BadRequestError")
	}
	if IsBadRequest(NewNotFound("missing")) {
		t.Fatalf("expected false for NotFoundError")
	}
}

func TestBadRequestField(t *testing.T) {
	if got := BadRequestField(NewBadRequestField("bad", "tenantId")); got != "tenantId" {
		t.Fatalf("expected tenantId, got %q", got)
	}
	if got := BadRequestField(NewBadRequest("bad")); got != "" {
		t.Fatalf("expected empty field, got %q", got)
	}
	if got := BadRequestField(assertErr("other")); got != "" {
		t.Fatalf("expected empty field for foreign error, got %q", got)
	}
}

func TestKindPredicates(t *testing.T) {
	if !IsNotFound(NewNotFound("missing")) {
		t.Fatalf("expected true for NotFoundError")
	}
	if !IsForbidden(NewForbidden("denied")) {
		t.Fatalf("expected true for ForbiddenError")
	}
	if !IsConflict(NewConflict("duplicate")) {
		t.Fatalf("expected true for ConflictError")
	}
	if IsNotFound(NewForbidden("denied")) || IsForbidden(NewConflict("duplicate")) || IsConflict(NewNotFound("missing")) {
		t.Fatalf("kind predicates must not cross-match")
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
