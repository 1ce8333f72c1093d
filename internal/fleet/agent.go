// Package fleet provides the simulated agent pool the warden supervises and
// the chaos injector that infects it. Agents emit synthetic vitals around a
// per-kind baseline; an injected fault skews the vitals until a healing
// action on the fault's cure list, or a clone, clears it.
package fleet

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
)

// Kind selects an agent's workload profile.
type Kind string

const (
	KindResearch    Kind = "research"
	KindData        Kind = "data"
	KindAnalytics   Kind = "analytics"
	KindCoordinator Kind = "coordinator"
)

// Fault is an injectable malfunction.
type Fault string

const (
	FaultNone          Fault = ""
	FaultLatencySpike  Fault = "latency_spike"
	FaultTokenBurst    Fault = "token_explosion"
	FaultToolLoop      Fault = "tool_loop"
	FaultHighRetryRate Fault = "high_retry_rate"
	FaultPromptDrift   Fault = "prompt_drift"
	FaultFullMeltdown  Fault = "full_meltdown"
)

// Faults lists every injectable fault.
func Faults() []Fault {
	return []Fault{
		FaultLatencySpike,
		FaultTokenBurst,
		FaultToolLoop,
		FaultHighRetryRate,
		FaultPromptDrift,
		FaultFullMeltdown,
	}
}

// profile is the healthy operating point for a kind.
type profile struct {
	latencyMS float64
	tokens    float64
	toolCalls float64
	retries   float64
}

var profiles = map[Kind]profile{
	KindResearch:    {latencyMS: 800, tokens: 1200, toolCalls: 3, retries: 0.3},
	KindData:        {latencyMS: 300, tokens: 400, toolCalls: 2, retries: 0.2},
	KindAnalytics:   {latencyMS: 1200, tokens: 2000, toolCalls: 4, retries: 0.4},
	KindCoordinator: {latencyMS: 500, tokens: 800, toolCalls: 5, retries: 0.3},
}

// cures maps each fault to the healing actions that clear it. Cloning
// replaces the whole agent and clears any fault, so it is implied everywhere.
var cures = map[Fault][]models.HealingAction{
	FaultLatencySpike:  {models.ActionResetMemory},
	FaultTokenBurst:    {models.ActionResetMemory, models.ActionRollbackPrompt},
	FaultToolLoop:      {models.ActionReduceAutonomy},
	FaultHighRetryRate: {models.ActionReduceAutonomy, models.ActionRollbackPrompt},
	FaultPromptDrift:   {models.ActionRollbackPrompt},
	FaultFullMeltdown:  {},
}

// SimAgent is a simulated worker. Execute synthesizes one tick's vitals from
// the kind profile, the internal state, and the active fault.
type SimAgent struct {
	id   string
	kind Kind

	mu            sync.Mutex
	rng           *rand.Rand
	fault         Fault
	memoryEntries int
	promptVersion int
	temperature   float64
	maxTools      int
	clones        int
}

// NewSimAgent creates a healthy agent of the given kind. The seed makes the
// jitter stream reproducible in tests.
func NewSimAgent(id string, kind Kind, seed int64) *SimAgent {
	if _, ok := profiles[kind]; !ok {
		kind = KindResearch
	}
	return &SimAgent{
		id:            id,
		kind:          kind,
		rng:           rand.New(rand.NewSource(seed)),
		promptVersion: 1,
		temperature:   0.7,
		maxTools:      8,
	}
}

// ID returns the agent identifier.
func (a *SimAgent) ID() string { return a.id }

// Kind returns the workload profile kind.
func (a *SimAgent) Kind() Kind { return a.kind }

// Execute synthesizes one tick of work and returns the measured vitals.
func (a *SimAgent) Execute(ctx context.Context) (models.VitalSigns, error) {
	if err := ctx.Err(); err != nil {
		return models.VitalSigns{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base := profiles[a.kind]
	latency := base.latencyMS * a.jitter()
	tokens := base.tokens * a.jitter()
	tools := base.toolCalls * a.jitter()
	retries := base.retries * a.jitter()
	success := true

	// Accumulated memory slows the agent down a little each tick.
	a.memoryEntries++
	latency += float64(a.memoryEntries) * 0.5

	switch a.fault {
	case FaultLatencySpike:
		latency *= 6
	case FaultTokenBurst:
		tokens *= 8
	case FaultToolLoop:
		tools *= 5
		latency *= 2
	case FaultHighRetryRate:
		retries += 6
	case FaultPromptDrift:
		tokens *= 3
		tools *= 2.5
	case FaultFullMeltdown:
		latency *= 6
		tokens *= 6
		tools *= 4
		retries += 5
		success = a.rng.Float64() < 0.3
	}

	return models.VitalSigns{
		AgentID:    a.id,
		Timestamp:  time.Now().UTC(),
		LatencyMS:  latency,
		TokenCount: tokens,
		ToolCalls:  tools,
		Retries:    retries,
		Success:    success,
	}, nil
}

// SelfReported reports whether the agent has flagged itself. Prompt drift is
// the fault an agent notices from the inside: its numeric footprint can stay
// under threshold while outputs degrade.
func (a *SimAgent) SelfReported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fault == FaultPromptDrift
}

// Infect applies a fault. An already-infected agent keeps its current fault.
func (a *SimAgent) Infect(fault Fault) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != FaultNone {
		return false
	}
	a.fault = fault
	return true
}

// Fault returns the active fault, if any.
func (a *SimAgent) Fault() Fault {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fault
}

// ResetMemory clears the accumulated memory.
func (a *SimAgent) ResetMemory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memoryEntries = 0
	a.cure(models.ActionResetMemory)
}

// RollbackPrompt reverts to the previous prompt version, floored at 1.
func (a *SimAgent) RollbackPrompt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.promptVersion > 1 {
		a.promptVersion--
	}
	a.cure(models.ActionRollbackPrompt)
}

// ReduceAutonomy halves the tool budget and cools the temperature.
func (a *SimAgent) ReduceAutonomy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxTools = max(1, a.maxTools/2)
	a.temperature *= 0.5
	a.cure(models.ActionReduceAutonomy)
}

// Clone replaces the agent with a fresh copy: pristine state, no fault.
func (a *SimAgent) Clone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memoryEntries = 0
	a.promptVersion = 1
	a.temperature = 0.7
	a.maxTools = 8
	a.fault = FaultNone
	a.clones++
}

// cure clears the fault when the action is on its cure list. Caller holds
// a.mu.
func (a *SimAgent) cure(action models.HealingAction) {
	if a.fault == FaultNone {
		return
	}
	for _, c := range cures[a.fault] {
		if c == action {
			a.fault = FaultNone
			return
		}
	}
}

// jitter returns a multiplicative noise factor in [0.85, 1.15).
func (a *SimAgent) jitter() float64 {
	return 0.85 + a.rng.Float64()*0.3
}
