package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/wardenstack/fleet-warden/internal/healing"
	"github.com/wardenstack/fleet-warden/internal/models"
)

// testAgent is a scripted Agent for state-machine tests.
type testAgent struct {
	id      string
	latency float64
	applied []models.HealingAction
}

func (a *testAgent) ID() string { return a.id }

func (a *testAgent) Execute(context.Context) (models.VitalSigns, error) {
	return models.VitalSigns{
		AgentID:   a.id,
		Timestamp: time.Now(),
		LatencyMS: a.latency,
		Success:   true,
	}, nil
}

func (a *testAgent) SelfReported() bool { return false }

func (a *testAgent) ResetMemory()    { a.applied = append(a.applied, models.ActionResetMemory) }
func (a *testAgent) RollbackPrompt() { a.applied = append(a.applied, models.ActionRollbackPrompt) }
func (a *testAgent) ReduceAutonomy() { a.applied = append(a.applied, models.ActionReduceAutonomy) }
func (a *testAgent) Clone()          { a.applied = append(a.applied, models.ActionCloneAgent) }

func testConfig() Config {
	return Config{
		TickInterval:     10 * time.Millisecond,
		WarmupDelay:      time.Hour,
		DetectionWindow:  10 * time.Second,
		WarmupSamples:    4,
		ThresholdStdDev:  2.5,
		ApprovalSeverity: 7.0,
	}
}

func newTestOrchestrator(t *testing.T, agent *testAgent, validate healing.Validator) *Orchestrator {
	t.Helper()
	return New(testConfig(), nil, []Agent{agent}, healing.DefaultPolicies(), nil, validate)
}

// seedBaseline records warmup samples outside the detection window and learns
// the profile: mean 100, sample stddev about 11.5.
func seedBaseline(t *testing.T, o *Orchestrator, agentID string) {
	t.Helper()
	old := time.Now().Add(-time.Minute)
	for i, latency := range []float64{90, 110, 90, 110} {
		o.telemetry.Record(models.VitalSigns{
			AgentID:   agentID,
			Timestamp: old.Add(time.Duration(i) * time.Second),
			LatencyMS: latency,
			Success:   true,
		})
	}
	if _, ok := o.estimator.Learn(agentID); !ok {
		t.Fatalf("seed baseline: warmup not reached")
	}
	o.mu.Lock()
	o.learned[agentID] = true
	o.mu.Unlock()
}

// recordAnomalous puts one fresh sample in the detection window.
func recordAnomalous(o *Orchestrator, agentID string, latency float64) {
	o.telemetry.Record(models.VitalSigns{
		AgentID:   agentID,
		Timestamp: time.Now(),
		LatencyMS: latency,
		Success:   true,
	})
}

func alwaysHealed(context.Context, string, models.HealingAction) bool { return true }
func neverHealed(context.Context, string, models.HealingAction) bool  { return false }

func TestScanSkipsAgentWithoutBaseline(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)

	recordAnomalous(o, "a1", 500)
	o.scanAgent(context.Background(), "a1")
	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("agent without baseline must never be flagged")
	}
}

func TestAutoHealPath(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)
	seedBaseline(t, o, "a1")

	// Average 150: about 4.3 deviations, severity below the approval gate.
	recordAnomalous(o, "a1", 150)
	o.scanAgent(context.Background(), "a1")

	if !o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected containment on detection")
	}
	if len(o.PendingApprovals()) != 0 {
		t.Fatalf("moderate severity must not require approval")
	}

	o.wg.Wait()

	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected release after successful healing")
	}
	if len(agent.applied) != 1 {
		t.Fatalf("expected one healing action, got %v", agent.applied)
	}
	stats := o.Stats()
	if stats.TotalInfections != 1 || stats.TotalHealed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHighSeverityRequiresApproval(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)
	seedBaseline(t, o, "a1")

	recordAnomalous(o, "a1", 600)
	o.scanAgent(context.Background(), "a1")
	o.wg.Wait()

	if !o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected containment")
	}
	pending := o.PendingApprovals()
	if len(pending) != 1 || pending[0].AgentID != "a1" {
		t.Fatalf("expected pending approval, got %v", pending)
	}
	if len(agent.applied) != 0 {
		t.Fatalf("no healing may run before approval, got %v", agent.applied)
	}
	if pending[0].Report.Severity < o.cfg.ApprovalSeverity {
		t.Fatalf("expected severity at or above the gate, got %v", pending[0].Report.Severity)
	}
}

func TestApproveRunsHealing(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)
	seedBaseline(t, o, "a1")
	recordAnomalous(o, "a1", 600)
	o.scanAgent(context.Background(), "a1")

	if err := o.Approve("a1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	o.wg.Wait()

	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected release after approved healing")
	}
	if len(o.PendingApprovals()) != 0 {
		t.Fatalf("approval must consume the request")
	}
	outcomes := o.immune.Outcomes()
	if len(outcomes) == 0 || outcomes[0].Trigger != models.TriggerAfterApproval {
		t.Fatalf("expected after_approval trigger, got %v", outcomes)
	}
}

func TestApproveWithoutPendingFails(t *testing.T) {
	o := newTestOrchestrator(t, &testAgent{id: "a1", latency: 100}, alwaysHealed)
	if err := o.Approve("a1"); err != ErrNoPendingApproval {
		t.Fatalf("expected ErrNoPendingApproval, got %v", err)
	}
}

func TestRejectParksEpisodeUntilHealNow(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)
	seedBaseline(t, o, "a1")
	recordAnomalous(o, "a1", 600)
	ctx := context.Background()
	o.scanAgent(ctx, "a1")

	if err := o.Reject("a1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	o.wg.Wait()

	if !o.quarantine.IsQuarantined("a1") {
		t.Fatalf("rejected agent must stay quarantined")
	}
	rejected := o.RejectedApprovals()
	if len(rejected) != 1 || rejected[0].State != models.ApprovalRejected {
		t.Fatalf("expected rejected entry, got %v", rejected)
	}
	if len(agent.applied) != 0 {
		t.Fatalf("rejection must not heal, got %v", agent.applied)
	}

	if err := o.HealNow("a1"); err != nil {
		t.Fatalf("heal now: %v", err)
	}
	o.wg.Wait()

	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected release after heal-now")
	}
	outcomes := o.immune.Outcomes()
	if outcomes[len(outcomes)-1].Trigger != models.TriggerHealNow {
		t.Fatalf("expected heal_now trigger, got %v", outcomes)
	}
}

func TestHealNowWithoutRejectionFails(t *testing.T) {
	o := newTestOrchestrator(t, &testAgent{id: "a1", latency: 100}, alwaysHealed)
	if err := o.HealNow("a1"); err != ErrNotRejected {
		t.Fatalf("expected ErrNotRejected, got %v", err)
	}
}

func TestFailedHealingEscalatesToUnresolved(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, neverHealed)
	seedBaseline(t, o, "a1")
	recordAnomalous(o, "a1", 150)
	ctx := context.Background()

	o.scanAgent(ctx, "a1")
	o.wg.Wait()

	// Each detection pass retries with the next untried ladder action until
	// the ladder is exhausted.
	for i := 0; i < 8; i++ {
		o.resumeOpenEpisodes(ctx)
		o.wg.Wait()
	}

	o.mu.Lock()
	ep := o.episodes["a1"]
	o.mu.Unlock()
	if ep == nil || !ep.unresolved {
		t.Fatalf("expected unresolved episode, got %+v", ep)
	}
	if !o.quarantine.IsQuarantined("a1") {
		t.Fatalf("unresolved agent must stay quarantined")
	}

	// Every distinct ladder action ran once, none repeated.
	seen := map[models.HealingAction]int{}
	for _, action := range agent.applied {
		seen[action]++
	}
	for action, n := range seen {
		if n != 1 {
			t.Fatalf("action %s applied %d times", action, n)
		}
	}

	foundUnresolved := false
	for _, entry := range o.HealingActions() {
		if entry.Type == models.LogUnresolved {
			foundUnresolved = true
		}
	}
	if !foundUnresolved {
		t.Fatalf("expected unresolved entry in the action log")
	}
}

func TestRecoveryCooldownSuppressesRedetection(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)
	seedBaseline(t, o, "a1")
	recordAnomalous(o, "a1", 150)
	ctx := context.Background()

	o.scanAgent(ctx, "a1")
	o.wg.Wait()
	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected release")
	}

	// The anomalous sample is still inside the window; the cooldown keeps
	// the agent from being flagged again immediately.
	o.scanAgent(ctx, "a1")
	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected cooldown to suppress re-detection")
	}
}

func TestControlEntryPointsRejectUnknownAgent(t *testing.T) {
	o := newTestOrchestrator(t, &testAgent{id: "a1", latency: 100}, alwaysHealed)
	if err := o.Approve("ghost"); err != ErrUnknownAgent {
		t.Fatalf("approve: expected ErrUnknownAgent, got %v", err)
	}
	if err := o.Reject("ghost"); err != ErrUnknownAgent {
		t.Fatalf("reject: expected ErrUnknownAgent, got %v", err)
	}
	if err := o.HealNow("ghost"); err != ErrUnknownAgent {
		t.Fatalf("heal now: expected ErrUnknownAgent, got %v", err)
	}
}

func TestDrainResolvesPendingApprovals(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)
	seedBaseline(t, o, "a1")
	recordAnomalous(o, "a1", 600)
	ctx := context.Background()
	o.scanAgent(ctx, "a1")

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	o.Drain(drainCtx)

	if len(o.PendingApprovals()) != 0 {
		t.Fatalf("expected drain to approve pending requests")
	}
	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected drain to heal and release")
	}
}

// Healing scheduled while shutting down must run to completion even though
// the run context is already cancelled: an applied action recorded as a
// failure only because shutdown raced it would poison immune memory.
func TestShutdownDrainHealsAfterRunContextCancelled(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)
	o.cfg.DrainOnShutdown = true
	o.cfg.DrainTimeout = 5 * time.Second
	seedBaseline(t, o, "a1")
	recordAnomalous(o, "a1", 600)
	o.scanAgent(context.Background(), "a1")

	if len(o.PendingApprovals()) != 1 {
		t.Fatalf("expected pending approval before shutdown")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if o.quarantine.IsQuarantined("a1") {
		t.Fatalf("expected shutdown drain to heal and release")
	}
	if len(agent.applied) != 1 {
		t.Fatalf("expected exactly one healing action, got %v", agent.applied)
	}
	outcomes := o.immune.Outcomes()
	if len(outcomes) != 1 || !outcomes[0].Success {
		t.Fatalf("expected a single successful outcome, got %v", outcomes)
	}
}

func TestAgentStatusesReflectState(t *testing.T) {
	agent := &testAgent{id: "a1", latency: 100}
	o := newTestOrchestrator(t, agent, alwaysHealed)

	views := o.AgentStatuses()
	if len(views) != 1 || views[0].Status != models.StatusHealthy {
		t.Fatalf("expected healthy view, got %v", views)
	}

	seedBaseline(t, o, "a1")
	recordAnomalous(o, "a1", 600)
	o.scanAgent(context.Background(), "a1")

	views = o.AgentStatuses()
	if views[0].Status != models.StatusQuarantined || !views[0].PendingApproval {
		t.Fatalf("expected quarantined pending view, got %+v", views[0])
	}
	if !views[0].BaselineReady {
		t.Fatalf("expected baseline ready")
	}
}

func TestActionLogBounded(t *testing.T) {
	o := newTestOrchestrator(t, &testAgent{id: "a1", latency: 100}, alwaysHealed)
	o.mu.Lock()
	for i := 0; i < 200; i++ {
		o.appendActionLocked(models.ActionLogEntry{Type: models.LogHealingAttempt, AgentID: "a1"})
	}
	logLen := len(o.actionLog)
	o.mu.Unlock()
	o.wg.Wait()

	if logLen != o.cfg.ActionLogMax {
		t.Fatalf("expected log capped at %d, got %d", o.cfg.ActionLogMax, logLen)
	}
	if got := len(o.HealingActions()); got != actionLogVisible {
		t.Fatalf("expected %d visible entries, got %d", actionLogVisible, got)
	}
}
