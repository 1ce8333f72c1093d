// Package healing applies policy-ordered remediation actions to contained
// agents, consulting immune memory so failed actions are never retried under
// the same diagnosis.
package healing

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
)

// Target is the mutable surface of an agent that remediation acts on. Every
// action is an idempotent state mutation.
type Target interface {
	ResetMemory()
	RollbackPrompt()
	ReduceAutonomy()
	Clone()
}

// Validator decides whether an applied action actually restored the agent.
// The default wired by the orchestrator re-checks fresh vitals against the
// baseline; tests inject simpler predicates.
type Validator func(ctx context.Context, agentID string, action models.HealingAction) bool

// Memory is the immune-memory surface the healer needs.
type Memory interface {
	Record(models.HealingOutcome)
	FailedActions(agentID string, diagnosis models.DiagnosisType) map[models.HealingAction]bool
}

// Healer applies the next untried ladder action for a diagnosis. One action
// per Attempt call: escalation happens on a subsequent invocation, which
// bounds each call's duration and keeps healing progress visibly discrete.
type Healer struct {
	policies  *PolicySet
	memory    Memory
	validate  Validator
	logger    *slog.Logger
	stepDelay time.Duration
}

// NewHealer constructs a Healer. stepDelay is the pause between applying an
// action and validating it, kept so observers can see healing in progress.
func NewHealer(policies *PolicySet, memory Memory, validate Validator, stepDelay time.Duration, logger *slog.Logger) *Healer {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{
		policies:  policies,
		memory:    memory,
		validate:  validate,
		logger:    logger,
		stepDelay: stepDelay,
	}
}

// Attempt applies the first ladder action not already failed for the
// (agent, diagnosis) pair, validates it, and records the outcome. When every
// action has failed, the outcome is marked Exhausted, nothing is applied,
// and the agent stays contained for the operator to see.
func (h *Healer) Attempt(ctx context.Context, target Target, report models.InfectionReport, diagnosis models.Diagnosis, trigger models.Trigger) models.HealingOutcome {
	agentID := report.AgentID
	outcome := models.HealingOutcome{
		AgentID:   agentID,
		EpisodeID: report.EpisodeID,
		Diagnosis: diagnosis.Type,
		Trigger:   trigger,
		Timestamp: time.Now().UTC(),
	}

	failed := h.memory.FailedActions(agentID, diagnosis.Type)
	action, ok := h.nextAction(diagnosis.Type, failed)
	if !ok {
		outcome.Exhausted = true
		h.memory.Record(outcome)
		h.logger.Error("healing ladder exhausted",
			slog.String("agent_id", agentID),
			slog.String("diagnosis", string(diagnosis.Type)))
		return outcome
	}
	outcome.Action = action

	if len(failed) > 0 {
		h.logger.Info("immune memory skipping failed actions",
			slog.String("agent_id", agentID),
			slog.String("diagnosis", string(diagnosis.Type)),
			slog.Int("skipped", len(failed)))
	}
	h.logger.Info("attempting healing action",
		slog.String("agent_id", agentID),
		slog.String("action", string(action)),
		slog.String("trigger", string(trigger)))

	h.apply(target, action)

	if !h.pause(ctx) {
		// Cancelled mid-heal: the action was applied but not validated.
		// Record a failure so the next attempt escalates instead of
		// re-running an action with unknown effect.
		h.memory.Record(outcome)
		return outcome
	}

	if h.validate != nil {
		outcome.Success = h.validate(ctx, agentID, action)
	}
	h.memory.Record(outcome)
	return outcome
}

func (h *Healer) nextAction(diagnosis models.DiagnosisType, failed map[models.HealingAction]bool) (models.HealingAction, bool) {
	for _, action := range h.policies.Ladder(diagnosis) {
		if !failed[action] {
			return action, true
		}
	}
	return "", false
}

func (h *Healer) apply(target Target, action models.HealingAction) {
	switch action {
	case models.ActionResetMemory:
		target.ResetMemory()
	case models.ActionRollbackPrompt:
		target.RollbackPrompt()
	case models.ActionReduceAutonomy:
		target.ReduceAutonomy()
	case models.ActionCloneAgent:
		target.Clone()
	}
}

// pause sleeps for the configured step delay, returning false if the context
// is cancelled first.
func (h *Healer) pause(ctx context.Context) bool {
	if h.stepDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(h.stepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
