package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of detection-pass durations so the
// scheduler can report percentile latency without unbounded growth.
type LatencyTracker struct {
	mu       sync.Mutex
	samples  []time.Duration
	capacity int
}

// NewLatencyTracker creates a tracker retaining up to capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 512
	}
	return &LatencyTracker{capacity: capacity}
}

// Observe records one pass duration, evicting the oldest sample past capacity.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, d)
	if len(l.samples) > l.capacity {
		copy(l.samples, l.samples[1:])
		l.samples = l.samples[:l.capacity]
	}
}

// Percentile returns the p-th percentile (0-100, clamped) of the recorded
// durations, or zero when nothing has been observed.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), l.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(p / 100 * float64(len(sorted)-1))
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
