package healing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wardenstack/fleet-warden/internal/memory"
	"github.com/wardenstack/fleet-warden/internal/models"
)

// fakeTarget records which actions were applied.
type fakeTarget struct {
	applied []models.HealingAction
}

func (f *fakeTarget) ResetMemory()    { f.applied = append(f.applied, models.ActionResetMemory) }
func (f *fakeTarget) RollbackPrompt() { f.applied = append(f.applied, models.ActionRollbackPrompt) }
func (f *fakeTarget) ReduceAutonomy() { f.applied = append(f.applied, models.ActionReduceAutonomy) }
func (f *fakeTarget) Clone()          { f.applied = append(f.applied, models.ActionCloneAgent) }

func alwaysFail(context.Context, string, models.HealingAction) bool { return false }

func report(agentID string) models.InfectionReport {
	return models.InfectionReport{AgentID: agentID, EpisodeID: "ep-1", Severity: 5}
}

func diagnosis(dt models.DiagnosisType) models.Diagnosis {
	return models.Diagnosis{Type: dt, Confidence: 0.9}
}

func TestAttemptAppliesOneActionPerCall(t *testing.T) {
	immune := memory.NewImmune()
	healer := NewHealer(DefaultPolicies(), immune, alwaysFail, 0, nil)
	target := &fakeTarget{}

	outcome := healer.Attempt(context.Background(), target, report("a1"), diagnosis(models.DiagnosisPromptDrift), models.TriggerAuto)
	if outcome.Success || outcome.Exhausted {
		t.Fatalf("expected a plain failure, got %+v", outcome)
	}
	if outcome.Action != models.ActionResetMemory {
		t.Fatalf("expected first ladder action, got %s", outcome.Action)
	}
	if len(target.applied) != 1 {
		t.Fatalf("expected exactly one action applied, got %v", target.applied)
	}
}

func TestAttemptEscalatesPastFailedActions(t *testing.T) {
	immune := memory.NewImmune()
	healer := NewHealer(DefaultPolicies(), immune, alwaysFail, 0, nil)
	target := &fakeTarget{}
	ctx := context.Background()
	diag := diagnosis(models.DiagnosisPromptDrift)

	first := healer.Attempt(ctx, target, report("a1"), diag, models.TriggerAuto)
	second := healer.Attempt(ctx, target, report("a1"), diag, models.TriggerAuto)
	if second.Action == first.Action {
		t.Fatalf("expected escalation past the failed action, got %s twice", first.Action)
	}
	if second.Action != models.ActionRollbackPrompt {
		t.Fatalf("expected second ladder action, got %s", second.Action)
	}
}

func TestAttemptExhaustsLadder(t *testing.T) {
	immune := memory.NewImmune()
	healer := NewHealer(DefaultPolicies(), immune, alwaysFail, 0, nil)
	target := &fakeTarget{}
	ctx := context.Background()
	diag := diagnosis(models.DiagnosisInfiniteLoop)
	ladderLen := len(DefaultPolicies().Ladder(models.DiagnosisInfiniteLoop))

	for i := 0; i < ladderLen; i++ {
		outcome := healer.Attempt(ctx, target, report("a1"), diag, models.TriggerAuto)
		if outcome.Exhausted {
			t.Fatalf("exhausted after %d attempts, ladder has %d actions", i+1, ladderLen)
		}
	}

	outcome := healer.Attempt(ctx, target, report("a1"), diag, models.TriggerAuto)
	if !outcome.Exhausted {
		t.Fatalf("expected exhaustion after full ladder failed, got %+v", outcome)
	}
	if outcome.Action != "" {
		t.Fatalf("expected no action on exhaustion, got %s", outcome.Action)
	}
	if len(target.applied) != ladderLen {
		t.Fatalf("expected no extra action applied on exhaustion, got %v", target.applied)
	}
}

func TestAttemptSuccessStopsEscalation(t *testing.T) {
	immune := memory.NewImmune()
	succeed := func(context.Context, string, models.HealingAction) bool { return true }
	healer := NewHealer(DefaultPolicies(), immune, succeed, 0, nil)
	target := &fakeTarget{}

	outcome := healer.Attempt(context.Background(), target, report("a1"), diagnosis(models.DiagnosisToolInstability), models.TriggerAfterApproval)
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Trigger != models.TriggerAfterApproval {
		t.Fatalf("expected trigger recorded, got %s", outcome.Trigger)
	}
	if failed := immune.FailedActions("a1", models.DiagnosisToolInstability); len(failed) != 0 {
		t.Fatalf("expected no failure recorded, got %v", failed)
	}
}

func TestAttemptCancelledMidHealRecordsFailure(t *testing.T) {
	immune := memory.NewImmune()
	healer := NewHealer(DefaultPolicies(), immune, alwaysFail, time.Minute, nil)
	target := &fakeTarget{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := healer.Attempt(ctx, target, report("a1"), diagnosis(models.DiagnosisPromptDrift), models.TriggerAuto)
	if outcome.Success {
		t.Fatalf("expected cancelled attempt to fail")
	}
	failed := immune.FailedActions("a1", models.DiagnosisPromptDrift)
	if !failed[outcome.Action] {
		t.Fatalf("expected cancelled action recorded as failed, got %v", failed)
	}
}

func TestLoadPoliciesOverridesLadder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(`policies:
  - diagnosis: prompt_drift
    actions: [clone_agent]
  - diagnosis: infinite_loop
    actions: [bad_action, reduce_autonomy]
`), 0644); err != nil {
		t.Fatalf("write policies: %v", err)
	}

	set, err := LoadPolicies(path, nil)
	if err != nil {
		t.Fatalf("load policies: %v", err)
	}

	ladder := set.Ladder(models.DiagnosisPromptDrift)
	if len(ladder) != 1 || ladder[0] != models.ActionCloneAgent {
		t.Fatalf("expected override ladder, got %v", ladder)
	}
	// Unknown actions are dropped, known ones kept.
	ladder = set.Ladder(models.DiagnosisInfiniteLoop)
	if len(ladder) != 1 || ladder[0] != models.ActionReduceAutonomy {
		t.Fatalf("expected unknown action skipped, got %v", ladder)
	}
	// Untouched diagnoses keep their defaults.
	if len(set.Ladder(models.DiagnosisToolInstability)) != 3 {
		t.Fatalf("expected default ladder preserved")
	}
}

func TestLoadPoliciesMissingFileUsesDefaults(t *testing.T) {
	set, err := LoadPolicies("does-not-exist.yaml", nil)
	if err != nil {
		t.Fatalf("expected defaults for missing file, got %v", err)
	}
	if len(set.Ladder(models.DiagnosisGenericAnomaly)) != 4 {
		t.Fatalf("expected full generic ladder")
	}
}

func TestLadderFallsBackToGeneric(t *testing.T) {
	set := DefaultPolicies()
	ladder := set.Ladder(models.DiagnosisType("unknown"))
	if len(ladder) != 4 {
		t.Fatalf("expected generic fallback ladder, got %v", ladder)
	}
}
