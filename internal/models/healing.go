package models

import "time"

// HealingAction is one rung of a remediation ladder.
type HealingAction string

const (
	ActionResetMemory    HealingAction = "reset_memory"
	ActionRollbackPrompt HealingAction = "rollback_prompt"
	ActionReduceAutonomy HealingAction = "reduce_autonomy"
	ActionCloneAgent     HealingAction = "clone_agent"
)

// KnownAction reports whether the value names a supported remediation.
func KnownAction(a HealingAction) bool {
	switch a {
	case ActionResetMemory, ActionRollbackPrompt, ActionReduceAutonomy, ActionCloneAgent:
		return true
	}
	return false
}

// Trigger records what initiated a healing attempt.
type Trigger string

const (
	TriggerAuto          Trigger = "auto"
	TriggerAfterApproval Trigger = "after_approval"
	TriggerHealNow       Trigger = "heal_now"
)

// HealingOutcome is the result of a single healing attempt. Exhausted marks
// attempts where every ladder action had already failed for this
// (agent, diagnosis) pair; Action is empty in that case.
type HealingOutcome struct {
	AgentID   string        `json:"agent_id"`
	EpisodeID string        `json:"episode_id,omitempty"`
	Diagnosis DiagnosisType `json:"diagnosis"`
	Action    HealingAction `json:"action,omitempty"`
	Success   bool          `json:"success"`
	Exhausted bool          `json:"exhausted,omitempty"`
	Trigger   Trigger       `json:"trigger"`
	Timestamp time.Time     `json:"timestamp"`
}

// ActionStat aggregates outcomes of one action under one diagnosis.
type ActionStat struct {
	Action    HealingAction `json:"action"`
	Successes int           `json:"successes"`
	Failures  int           `json:"failures"`
}

// PatternStat summarises which remedies work for a diagnosis, fleet-wide.
type PatternStat struct {
	BestAction   HealingAction `json:"best_action"`
	SuccessCount int           `json:"success_count"`
	Actions      []ActionStat  `json:"actions"`
}
