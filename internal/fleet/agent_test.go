package fleet

import (
	"context"
	"testing"
)

func TestExecuteProducesVitals(t *testing.T) {
	agent := NewSimAgent("research-1", KindResearch, 1)
	vitals, err := agent.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if vitals.AgentID != "research-1" || !vitals.Success {
		t.Fatalf("unexpected vitals %+v", vitals)
	}
	if vitals.LatencyMS <= 0 || vitals.TokenCount <= 0 {
		t.Fatalf("expected positive measurements, got %+v", vitals)
	}
}

func TestFaultSkewsVitals(t *testing.T) {
	healthy := NewSimAgent("a1", KindData, 7)
	infected := NewSimAgent("a2", KindData, 7)
	infected.Infect(FaultLatencySpike)

	ctx := context.Background()
	base, _ := healthy.Execute(ctx)
	skewed, _ := infected.Execute(ctx)
	if skewed.LatencyMS < base.LatencyMS*3 {
		t.Fatalf("expected latency spike to dominate jitter: base=%v skewed=%v", base.LatencyMS, skewed.LatencyMS)
	}
}

func TestInfectRejectsSecondFault(t *testing.T) {
	agent := NewSimAgent("a1", KindResearch, 1)
	if !agent.Infect(FaultToolLoop) {
		t.Fatalf("expected first infection to apply")
	}
	if agent.Infect(FaultTokenBurst) {
		t.Fatalf("expected second infection rejected while one is active")
	}
	if agent.Fault() != FaultToolLoop {
		t.Fatalf("expected original fault kept, got %s", agent.Fault())
	}
}

func TestCureMatrix(t *testing.T) {
	cases := []struct {
		fault  Fault
		action func(*SimAgent)
		cured  bool
	}{
		{FaultLatencySpike, (*SimAgent).ResetMemory, true},
		{FaultLatencySpike, (*SimAgent).ReduceAutonomy, false},
		{FaultToolLoop, (*SimAgent).ReduceAutonomy, true},
		{FaultPromptDrift, (*SimAgent).RollbackPrompt, true},
		{FaultPromptDrift, (*SimAgent).ResetMemory, false},
		{FaultFullMeltdown, (*SimAgent).ResetMemory, false},
		{FaultFullMeltdown, (*SimAgent).Clone, true},
	}
	for _, tc := range cases {
		agent := NewSimAgent("a1", KindResearch, 1)
		agent.Infect(tc.fault)
		tc.action(agent)
		if cured := agent.Fault() == FaultNone; cured != tc.cured {
			t.Fatalf("fault %s: expected cured=%v, got fault=%q", tc.fault, tc.cured, agent.Fault())
		}
	}
}

func TestCloneRestoresPristineState(t *testing.T) {
	agent := NewSimAgent("a1", KindAnalytics, 1)
	agent.Infect(FaultFullMeltdown)
	agent.ReduceAutonomy()
	agent.Clone()

	if agent.Fault() != FaultNone {
		t.Fatalf("expected clone to clear the fault")
	}
	agent.mu.Lock()
	defer agent.mu.Unlock()
	if agent.maxTools != 8 || agent.promptVersion != 1 || agent.memoryEntries != 0 {
		t.Fatalf("expected pristine state after clone, got %+v", agent)
	}
}

func TestSelfReportedOnlyForPromptDrift(t *testing.T) {
	agent := NewSimAgent("a1", KindCoordinator, 1)
	if agent.SelfReported() {
		t.Fatalf("healthy agent must not self-report")
	}
	agent.Infect(FaultLatencySpike)
	if agent.SelfReported() {
		t.Fatalf("latency spike must not self-report")
	}

	drifting := NewSimAgent("a2", KindCoordinator, 1)
	drifting.Infect(FaultPromptDrift)
	if !drifting.SelfReported() {
		t.Fatalf("prompt drift must self-report")
	}
}

func TestExecuteReturnsVitalsUnderFault(t *testing.T) {
	agent := NewSimAgent("a1", KindData, 3)
	agent.Infect(FaultHighRetryRate)
	vitals, err := agent.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if vitals.Retries < 6 {
		t.Fatalf("expected retry floor under high_retry_rate, got %v", vitals.Retries)
	}
}

func TestPoolOrderingAndLookup(t *testing.T) {
	pool := NewPool([]Spec{
		{ID: "b-agent", Kind: KindData},
		{ID: "a-agent", Kind: KindResearch},
	}, 1)

	agents := pool.Agents()
	if len(agents) != 2 || agents[0].ID() != "a-agent" {
		t.Fatalf("expected ascending-id order, got %v", agents)
	}
	if pool.Get("missing") != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestSpecsForCounts(t *testing.T) {
	specs := SpecsForCounts(map[Kind]int{KindData: 2, KindResearch: 1})
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	ids := map[string]bool{}
	for _, spec := range specs {
		ids[spec.ID] = true
	}
	if !ids["data-1"] || !ids["data-2"] || !ids["research-1"] {
		t.Fatalf("unexpected ids %v", ids)
	}
}
