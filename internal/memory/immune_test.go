package memory

import (
	"testing"

	"github.com/wardenstack/fleet-warden/internal/models"
)

func outcome(agentID string, diagnosis models.DiagnosisType, action models.HealingAction, success bool) models.HealingOutcome {
	return models.HealingOutcome{
		AgentID:   agentID,
		Diagnosis: diagnosis,
		Action:    action,
		Success:   success,
	}
}

func TestFailedActionsTracksLatestOutcome(t *testing.T) {
	m := NewImmune()
	m.Record(outcome("a1", models.DiagnosisPromptDrift, models.ActionResetMemory, false))

	failed := m.FailedActions("a1", models.DiagnosisPromptDrift)
	if !failed[models.ActionResetMemory] {
		t.Fatalf("expected reset_memory marked failed")
	}

	// A later success clears the failure.
	m.Record(outcome("a1", models.DiagnosisPromptDrift, models.ActionResetMemory, true))
	failed = m.FailedActions("a1", models.DiagnosisPromptDrift)
	if len(failed) != 0 {
		t.Fatalf("expected no failed actions after later success, got %v", failed)
	}
}

func TestFailedActionsScopedToPair(t *testing.T) {
	m := NewImmune()
	m.Record(outcome("a1", models.DiagnosisPromptDrift, models.ActionResetMemory, false))

	if failed := m.FailedActions("a2", models.DiagnosisPromptDrift); len(failed) != 0 {
		t.Fatalf("expected failure scoped to agent, got %v", failed)
	}
	if failed := m.FailedActions("a1", models.DiagnosisInfiniteLoop); len(failed) != 0 {
		t.Fatalf("expected failure scoped to diagnosis, got %v", failed)
	}
}

func TestExhaustionRecordSkipsIndex(t *testing.T) {
	m := NewImmune()
	m.Record(models.HealingOutcome{
		AgentID:   "a1",
		Diagnosis: models.DiagnosisGenericAnomaly,
		Exhausted: true,
	})

	if failed := m.FailedActions("a1", models.DiagnosisGenericAnomaly); len(failed) != 0 {
		t.Fatalf("expected exhaustion record outside the failure index, got %v", failed)
	}
	if m.TotalRecords() != 1 {
		t.Fatalf("expected exhaustion in the log, got %d records", m.TotalRecords())
	}
}

func TestForgetReenablesActions(t *testing.T) {
	m := NewImmune()
	m.Record(outcome("a1", models.DiagnosisToolInstability, models.ActionReduceAutonomy, false))

	m.Forget("a1", models.DiagnosisToolInstability)
	if failed := m.FailedActions("a1", models.DiagnosisToolInstability); len(failed) != 0 {
		t.Fatalf("expected empty failure set after forget, got %v", failed)
	}
}

func TestPatternSummaryPicksBestAction(t *testing.T) {
	m := NewImmune()
	m.Record(outcome("a1", models.DiagnosisPromptDrift, models.ActionResetMemory, false))
	m.Record(outcome("a2", models.DiagnosisPromptDrift, models.ActionRollbackPrompt, true))
	m.Record(outcome("a3", models.DiagnosisPromptDrift, models.ActionRollbackPrompt, true))
	m.Record(outcome("a1", models.DiagnosisPromptDrift, models.ActionResetMemory, true))

	summary := m.PatternSummary()
	stat, ok := summary[models.DiagnosisPromptDrift]
	if !ok {
		t.Fatalf("expected prompt_drift stat")
	}
	if stat.BestAction != models.ActionRollbackPrompt || stat.SuccessCount != 2 {
		t.Fatalf("expected rollback_prompt with 2 successes, got %+v", stat)
	}
	if stat.Actions[0].Action != models.ActionRollbackPrompt {
		t.Fatalf("expected actions sorted by successes, got %+v", stat.Actions)
	}
}
