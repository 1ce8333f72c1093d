// Package quarantine tracks containment membership for the fleet.
package quarantine

import (
	"sort"
	"sync"
)

// Controller is a containment set with no automatic expiry: an agent stays
// contained until explicitly released. Pure set semantics, not a counter, so
// repeated quarantine or release calls are idempotent.
type Controller struct {
	mu      sync.RWMutex
	members map[string]struct{}
	total   int64
}

// NewController creates an empty containment set.
func NewController() *Controller {
	return &Controller{members: make(map[string]struct{})}
}

// Quarantine contains the agent. Returns true if the agent was newly added.
func (c *Controller) Quarantine(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[agentID]; ok {
		return false
	}
	c.members[agentID] = struct{}{}
	c.total++
	return true
}

// Release removes the agent from containment. Returns true if it was present.
func (c *Controller) Release(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[agentID]; !ok {
		return false
	}
	delete(c.members, agentID)
	return true
}

// IsQuarantined reports whether the agent is contained.
func (c *Controller) IsQuarantined(agentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[agentID]
	return ok
}

// Count returns the number of contained agents.
func (c *Controller) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// List returns the contained agent ids in ascending order.
func (c *Controller) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TotalQuarantines returns the lifetime count of containment events.
func (c *Controller) TotalQuarantines() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}
