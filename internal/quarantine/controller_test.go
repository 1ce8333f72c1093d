package quarantine

import "testing"

func TestQuarantineIdempotent(t *testing.T) {
	c := NewController()

	if !c.Quarantine("a1") {
		t.Fatalf("expected first quarantine to report a new containment")
	}
	if c.Quarantine("a1") {
		t.Fatalf("expected repeat quarantine to be a no-op")
	}
	if !c.IsQuarantined("a1") {
		t.Fatalf("expected a1 contained")
	}
	if c.Count() != 1 || c.TotalQuarantines() != 1 {
		t.Fatalf("expected single containment counted once, count=%d total=%d", c.Count(), c.TotalQuarantines())
	}
}

func TestReleaseIdempotent(t *testing.T) {
	c := NewController()
	c.Quarantine("a1")

	if !c.Release("a1") {
		t.Fatalf("expected release of contained agent to succeed")
	}
	if c.Release("a1") {
		t.Fatalf("expected repeat release to be a no-op")
	}
	if c.IsQuarantined("a1") {
		t.Fatalf("expected a1 free after release")
	}
	// Lifetime counter is not decremented by release.
	if c.TotalQuarantines() != 1 {
		t.Fatalf("expected lifetime count 1, got %d", c.TotalQuarantines())
	}
}

func TestListSorted(t *testing.T) {
	c := NewController()
	c.Quarantine("b")
	c.Quarantine("a")
	c.Quarantine("c")

	list := c.List()
	if len(list) != 3 || list[0] != "a" || list[2] != "c" {
		t.Fatalf("expected sorted member list, got %v", list)
	}
}
