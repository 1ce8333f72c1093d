package fleet

import (
	"fmt"
	"sort"
)

// Pool is a fixed set of simulated agents, keyed by id.
type Pool struct {
	agents map[string]*SimAgent
	order  []string
}

// Spec describes one agent to create.
type Spec struct {
	ID   string
	Kind Kind
}

// NewPool creates the agents described by specs. Each agent's jitter stream
// is seeded from the base seed and its position so runs are reproducible.
func NewPool(specs []Spec, seed int64) *Pool {
	p := &Pool{agents: make(map[string]*SimAgent, len(specs))}
	for i, spec := range specs {
		agent := NewSimAgent(spec.ID, spec.Kind, seed+int64(i))
		p.agents[spec.ID] = agent
		p.order = append(p.order, spec.ID)
	}
	sort.Strings(p.order)
	return p
}

// DefaultSpecs is the stock six-agent fleet.
func DefaultSpecs() []Spec {
	return []Spec{
		{ID: "research-1", Kind: KindResearch},
		{ID: "research-2", Kind: KindResearch},
		{ID: "data-1", Kind: KindData},
		{ID: "analytics-1", Kind: KindAnalytics},
		{ID: "coordinator-1", Kind: KindCoordinator},
		{ID: "data-2", Kind: KindData},
	}
}

// SpecsForCounts expands per-kind counts into specs with numbered ids.
func SpecsForCounts(counts map[Kind]int) []Spec {
	kinds := make([]Kind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var specs []Spec
	for _, kind := range kinds {
		for i := 1; i <= counts[kind]; i++ {
			specs = append(specs, Spec{ID: fmt.Sprintf("%s-%d", kind, i), Kind: kind})
		}
	}
	return specs
}

// Get returns the agent by id, or nil.
func (p *Pool) Get(id string) *SimAgent {
	return p.agents[id]
}

// Agents returns the pool in ascending-id order.
func (p *Pool) Agents() []*SimAgent {
	out := make([]*SimAgent, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.agents[id])
	}
	return out
}

// Size returns the number of agents.
func (p *Pool) Size() int { return len(p.agents) }
