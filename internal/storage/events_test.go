package storage

import "testing"

func TestHashArgsStableAcrossKeyOrder(t *testing.T) {
	a := HashArgs(map[string]any{"city": "Lisbon", "units": "metric", "count": 3})
	b := HashArgs(map[string]any{"count": 3, "units": "metric", "city": "Lisbon"})
	if a != b {
		t.Fatalf("hash depends on iteration order: %s vs %s", a, b)
	}
}

func TestHashArgsDistinguishesValues(t *testing.T) {
	a := HashArgs(map[string]any{"city": "Lisbon"})
	b := HashArgs(map[string]any{"city": "Porto"})
	if a == b {
		t.Fatal("different arguments hashed equal")
	}
}

func TestHashArgsDistinguishesKeySplits(t *testing.T) {
	// {"ab": "c"} and {"a": "bc"} must not collide.
	a := HashArgs(map[string]any{"ab": "c"})
	b := HashArgs(map[string]any{"a": "bc"})
	if a == b {
		t.Fatal("key/value boundary not separated in hash")
	}
}

func TestHashArgsNeverEmbedsPlaintext(t *testing.T) {
	h := HashArgs(map[string]any{"token": "sk-live-12345"})
	if len(h) != 64 {
		t.Fatalf("want 64 hex chars, got %d", len(h))
	}
	for _, c := range h {
		ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !ok {
			t.Fatalf("non-hex rune %q in hash", c)
		}
	}
}
