package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Validationf("bad parameter %q", "date")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected KindValidation, got %v", KindOf(err))
	}

	wrapped := fmt.Errorf("register tool: %w", err)
	if KindOf(wrapped) != KindValidation {
		t.Fatal("expected kind to survive wrapping")
	}

	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("expected KindUnknown for foreign error")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatal("expected KindUnknown for nil")
	}
}

func TestInUseDependents(t *testing.T) {
	err := InUse("tool is in use", []string{"agent_a", "agent_b"})
	if !IsKind(err, KindInUse) {
		t.Fatal("expected KindInUse")
	}
	deps := DependentsOf(fmt.Errorf("delete: %w", err))
	if len(deps) != 2 || deps[0] != "agent_a" {
		t.Fatalf("unexpected dependents: %v", deps)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUpstream, cause, "request failed")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Error() != "request failed: connection refused" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindValidation:  "validation_error",
		KindAuth:        "auth_error",
		KindNotFound:    "not_found",
		KindRateLimited: "rate_limited",
		KindTimeout:     "timeout",
		KindUpstream:    "upstream_error",
		KindInUse:       "in_use",
		KindDuplicate:   "duplicate",
		KindDenied:      "denied_by_policy",
		KindUnknown:     "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Fatalf("kind %d: expected %q, got %q", k, want, k.String())
		}
	}
}
