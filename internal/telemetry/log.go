// Package telemetry keeps a bounded, time-ordered vitals buffer per agent.
package telemetry

import (
	"sync"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
)

// DefaultCapacity retains five minutes of samples at the 1s tick rate.
const DefaultCapacity = 300

// Log is the in-memory vitals store. Each agent gets a fixed-capacity ring
// buffer; the oldest sample is evicted on overflow, never deleted explicitly.
type Log struct {
	mu         sync.RWMutex
	capacity   int
	buffers    map[string]*ring
	executions int64
}

// NewLog creates a Log with the given per-agent capacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		buffers:  make(map[string]*ring),
	}
}

// Record appends a sample to the owning agent's buffer.
func (l *Log) Record(v models.VitalSigns) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf, ok := l.buffers[v.AgentID]
	if !ok {
		buf = newRing(l.capacity)
		l.buffers[v.AgentID] = buf
	}
	buf.push(v)
	l.executions++
}

// Recent returns the buffered samples whose timestamp falls within the
// trailing window, in arrival order.
func (l *Log) Recent(agentID string, window time.Duration) []models.VitalSigns {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buf, ok := l.buffers[agentID]
	if !ok {
		return nil
	}
	cutoff := time.Now().Add(-window)
	var out []models.VitalSigns
	for _, v := range buf.ordered() {
		if !v.Timestamp.Before(cutoff) {
			out = append(out, v)
		}
	}
	return out
}

// All returns every buffered sample for the agent, in arrival order.
func (l *Log) All(agentID string) []models.VitalSigns {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buf, ok := l.buffers[agentID]
	if !ok {
		return nil
	}
	return buf.ordered()
}

// Count returns the number of buffered samples for the agent.
func (l *Log) Count(agentID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buf, ok := l.buffers[agentID]
	if !ok {
		return 0
	}
	return buf.size
}

// Latest returns the most recently recorded sample for the agent.
func (l *Log) Latest(agentID string) (models.VitalSigns, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buf, ok := l.buffers[agentID]
	if !ok || buf.size == 0 {
		return models.VitalSigns{}, false
	}
	return buf.last(), true
}

// TotalExecutions returns the number of samples recorded across the fleet,
// including samples since evicted from the ring buffers.
func (l *Log) TotalExecutions() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.executions
}

// ring is a fixed-capacity circular buffer of vitals.
type ring struct {
	items []models.VitalSigns
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]models.VitalSigns, capacity)}
}

func (r *ring) push(v models.VitalSigns) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return
	}
	// Full: overwrite the oldest slot.
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
}

func (r *ring) last() models.VitalSigns {
	return r.items[(r.start+r.size-1)%len(r.items)]
}

func (r *ring) ordered() []models.VitalSigns {
	out := make([]models.VitalSigns, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	return out
}
