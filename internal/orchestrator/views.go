package orchestrator

import (
	"log/slog"
	"sort"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
)

// AgentView is one agent's externally visible state.
type AgentView struct {
	AgentID           string             `json:"agent_id"`
	Status            models.AgentStatus `json:"status"`
	BaselineReady     bool               `json:"baseline_ready"`
	HealingInProgress bool               `json:"healing_in_progress"`
	Unresolved        bool               `json:"unresolved"`
	PendingApproval   bool               `json:"pending_approval"`
	Rejected          bool               `json:"rejected"`
	Executions        int64              `json:"executions"`
	Latest            *models.VitalSigns `json:"latest_vitals,omitempty"`
}

// Stats is the aggregate run report.
type Stats struct {
	UptimeSeconds        float64 `json:"uptime_seconds"`
	Agents               int     `json:"agents"`
	TotalExecutions      int64   `json:"total_executions"`
	BaselinesLearned     int     `json:"baselines_learned"`
	TotalInfections      int64   `json:"total_infections"`
	TotalHealed          int64   `json:"total_healed"`
	TotalFailedHealings  int64   `json:"total_failed_healings"`
	TotalQuarantines     int64   `json:"total_quarantines"`
	CurrentlyQuarantined int     `json:"currently_quarantined"`
	PendingApprovals     int     `json:"pending_approvals"`
	RejectedApprovals    int     `json:"rejected_approvals"`
	HealingSuccessRate   float64 `json:"healing_success_rate"`
	ImmuneRecords        int     `json:"immune_records"`
}

// AgentStatuses reports every agent in ascending-id order.
func (o *Orchestrator) AgentStatuses() []AgentView {
	o.mu.Lock()
	defer o.mu.Unlock()

	views := make([]AgentView, 0, len(o.order))
	for _, id := range o.order {
		view := AgentView{
			AgentID:       id,
			Status:        models.StatusHealthy,
			BaselineReady: o.learned[id],
			Executions:    o.execCounts[id],
		}
		if o.quarantine.IsQuarantined(id) {
			view.Status = models.StatusQuarantined
		}
		if _, busy := o.healingInProgress[id]; busy {
			view.HealingInProgress = true
		}
		if ep, ok := o.episodes[id]; ok && ep.unresolved {
			view.Unresolved = true
		}
		if _, ok := o.pending[id]; ok {
			view.PendingApproval = true
		}
		if _, ok := o.rejected[id]; ok {
			view.Rejected = true
		}
		if latest, ok := o.telemetry.Latest(id); ok {
			v := latest
			view.Latest = &v
		}
		views = append(views, view)
	}
	return views
}

// PendingApprovals lists open approval requests in ascending agent-id order.
func (o *Orchestrator) PendingApprovals() []models.ApprovalRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sortedRequests(o.pending)
}

// RejectedApprovals lists rejected episodes in ascending agent-id order.
func (o *Orchestrator) RejectedApprovals() []models.ApprovalRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sortedRequests(o.rejected)
}

// HealingActions returns the newest entries of the action log, oldest first,
// capped at the visible window.
func (o *Orchestrator) HealingActions() []models.ActionLogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.actionLog
	if len(entries) > actionLogVisible {
		entries = entries[len(entries)-actionLogVisible:]
	}
	out := make([]models.ActionLogEntry, len(entries))
	copy(out, entries)
	return out
}

// PatternSummary exposes the immune memory's per-diagnosis outcome history.
func (o *Orchestrator) PatternSummary() map[models.DiagnosisType]models.PatternStat {
	return o.immune.PatternSummary()
}

// Stats aggregates the run counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	var executions int64
	for _, n := range o.execCounts {
		executions += n
	}
	learned := 0
	for _, ok := range o.learned {
		if ok {
			learned++
		}
	}

	attempts := o.totalHealed + o.totalFailedHealings
	rate := 0.0
	if attempts > 0 {
		rate = float64(o.totalHealed) / float64(attempts)
	}

	return Stats{
		UptimeSeconds:        time.Since(o.startTime).Seconds(),
		Agents:               len(o.order),
		TotalExecutions:      executions,
		BaselinesLearned:     learned,
		TotalInfections:      o.totalInfections,
		TotalHealed:          o.totalHealed,
		TotalFailedHealings:  o.totalFailedHealings,
		TotalQuarantines:     o.quarantine.TotalQuarantines(),
		CurrentlyQuarantined: o.quarantine.Count(),
		PendingApprovals:     len(o.pending),
		RejectedApprovals:    len(o.rejected),
		HealingSuccessRate:   rate,
		ImmuneRecords:        o.immune.TotalRecords(),
	}
}

// LogSummary emits the end-of-run report.
func (o *Orchestrator) LogSummary() {
	stats := o.Stats()
	o.logger.Info("fleet warden summary",
		slog.Float64("uptime_seconds", stats.UptimeSeconds),
		slog.Int("agents", stats.Agents),
		slog.Int64("executions", stats.TotalExecutions),
		slog.Int64("infections", stats.TotalInfections),
		slog.Int64("healed", stats.TotalHealed),
		slog.Int64("failed_healings", stats.TotalFailedHealings),
		slog.Int64("quarantines", stats.TotalQuarantines),
		slog.Int("still_quarantined", stats.CurrentlyQuarantined),
		slog.Float64("healing_success_rate", stats.HealingSuccessRate),
		slog.Int("immune_records", stats.ImmuneRecords))

	for diagnosis, stat := range o.immune.PatternSummary() {
		o.logger.Info("learned pattern",
			slog.String("diagnosis", string(diagnosis)),
			slog.String("best_action", string(stat.BestAction)),
			slog.Int("successes", stat.SuccessCount))
	}
}

func sortedRequests(m map[string]models.ApprovalRequest) []models.ApprovalRequest {
	out := make([]models.ApprovalRequest, 0, len(m))
	for _, req := range m {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
