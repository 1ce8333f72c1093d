package utils

import (
	"testing"
	"time"
)

func TestPercentileEmpty(t *testing.T) {
	tracker := NewLatencyTracker(8)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("expected zero without samples, got %v", got)
	}
}

func TestPercentileOrdering(t *testing.T) {
	tracker := NewLatencyTracker(8)
	for _, d := range []time.Duration{
		40 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
		20 * time.Millisecond,
	} {
		tracker.Observe(d)
	}
	if got := tracker.Percentile(0); got != 10*time.Millisecond {
		t.Fatalf("p0: expected 10ms, got %v", got)
	}
	if got := tracker.Percentile(100); got != 40*time.Millisecond {
		t.Fatalf("p100: expected 40ms, got %v", got)
	}
	if got := tracker.Percentile(50); got != 20*time.Millisecond {
		t.Fatalf("p50: expected 20ms, got %v", got)
	}
}

func TestObserveEvictsOldest(t *testing.T) {
	tracker := NewLatencyTracker(2)
	tracker.Observe(time.Second)
	tracker.Observe(10 * time.Millisecond)
	tracker.Observe(20 * time.Millisecond)

	if got := tracker.Percentile(100); got != 20*time.Millisecond {
		t.Fatalf("expected oldest sample evicted, p100=%v", got)
	}
}
