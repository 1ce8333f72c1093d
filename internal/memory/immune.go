// Package memory records healing outcomes and answers which remedies have
// already failed per (agent, diagnosis) and which work best fleet-wide.
package memory

import (
	"sort"
	"sync"

	"github.com/wardenstack/fleet-warden/internal/models"
)

type pairKey struct {
	agentID   string
	diagnosis models.DiagnosisType
}

// Immune is the append-only outcome log plus a derived failure index.
// Entries live for the process lifetime.
type Immune struct {
	mu       sync.RWMutex
	outcomes []models.HealingOutcome
	// latest holds the most recent outcome's success per (pair, action);
	// an action counts as failed only while its latest outcome is a failure.
	latest map[pairKey]map[models.HealingAction]bool
}

// NewImmune creates an empty immune memory.
func NewImmune() *Immune {
	return &Immune{latest: make(map[pairKey]map[models.HealingAction]bool)}
}

// Record appends a healing outcome. Exhaustion records carry no action and
// only land in the log.
func (m *Immune) Record(outcome models.HealingOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes = append(m.outcomes, outcome)
	if outcome.Action == "" {
		return
	}
	key := pairKey{agentID: outcome.AgentID, diagnosis: outcome.Diagnosis}
	actions, ok := m.latest[key]
	if !ok {
		actions = make(map[models.HealingAction]bool)
		m.latest[key] = actions
	}
	actions[outcome.Action] = outcome.Success
}

// FailedActions returns the set of actions whose most recent outcome for the
// (agent, diagnosis) pair is a failure with no later success.
func (m *Immune) FailedActions(agentID string, diagnosis models.DiagnosisType) map[models.HealingAction]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failed := make(map[models.HealingAction]bool)
	for action, success := range m.latest[pairKey{agentID: agentID, diagnosis: diagnosis}] {
		if !success {
			failed[action] = true
		}
	}
	return failed
}

// Forget clears the failure history for the pair, re-enabling every action.
func (m *Immune) Forget(agentID string, diagnosis models.DiagnosisType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.latest, pairKey{agentID: agentID, diagnosis: diagnosis})
}

// PatternSummary aggregates success counts per (diagnosis, action) across
// the whole fleet and names the best-performing action per diagnosis.
func (m *Immune) PatternSummary() map[models.DiagnosisType]models.PatternStat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type actionCounts struct {
		successes int
		failures  int
	}
	perDiagnosis := make(map[models.DiagnosisType]map[models.HealingAction]*actionCounts)
	for _, outcome := range m.outcomes {
		if outcome.Action == "" {
			continue
		}
		actions, ok := perDiagnosis[outcome.Diagnosis]
		if !ok {
			actions = make(map[models.HealingAction]*actionCounts)
			perDiagnosis[outcome.Diagnosis] = actions
		}
		counts, ok := actions[outcome.Action]
		if !ok {
			counts = &actionCounts{}
			actions[outcome.Action] = counts
		}
		if outcome.Success {
			counts.successes++
		} else {
			counts.failures++
		}
	}

	summary := make(map[models.DiagnosisType]models.PatternStat, len(perDiagnosis))
	for diagnosis, actions := range perDiagnosis {
		stat := models.PatternStat{}
		for action, counts := range actions {
			stat.Actions = append(stat.Actions, models.ActionStat{
				Action:    action,
				Successes: counts.successes,
				Failures:  counts.failures,
			})
			if counts.successes > stat.SuccessCount {
				stat.SuccessCount = counts.successes
				stat.BestAction = action
			}
		}
		sort.Slice(stat.Actions, func(i, j int) bool {
			if stat.Actions[i].Successes != stat.Actions[j].Successes {
				return stat.Actions[i].Successes > stat.Actions[j].Successes
			}
			return stat.Actions[i].Action < stat.Actions[j].Action
		})
		summary[diagnosis] = stat
	}
	return summary
}

// Outcomes returns a copy of the full outcome log, oldest first.
func (m *Immune) Outcomes() []models.HealingOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.HealingOutcome(nil), m.outcomes...)
}

// TotalRecords returns the number of recorded outcomes.
func (m *Immune) TotalRecords() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.outcomes)
}
