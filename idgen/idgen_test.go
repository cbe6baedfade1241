package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Fatalf("UUIDv7: bad format %q", id)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	// WHAT: successive IDs sort in creation order.
	// WHY: batch run listings order by id.
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("UUIDv7 not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("run_", UUIDv7())()
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("Prefixed: got %q", id)
	}
	if _, err := Parse(id); err != nil {
		t.Fatalf("Parse prefixed: %v", err)
	}
}

func TestTimestamped(t *testing.T) {
	id := Timestamped(func() string { return "x" })()
	if !strings.HasSuffix(id, "Z_x") || len(id) != len("20060102T150405Z_x") {
		t.Fatalf("Timestamped: bad format %q", id)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("Parse: expected error for invalid id")
	}
}
