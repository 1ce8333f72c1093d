package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
	"github.com/wardenstack/fleet-warden/internal/store"
)

// Approve releases a pending high-severity infection into healing. The
// request is consumed: approval is a transition, not a stored state.
func (o *Orchestrator) Approve(agentID string) error {
	if _, known := o.agents[agentID]; !known {
		return ErrUnknownAgent
	}
	o.mu.Lock()
	req, ok := o.pending[agentID]
	if !ok {
		o.mu.Unlock()
		return ErrNoPendingApproval
	}
	delete(o.pending, agentID)
	o.episodes[agentID] = &episode{
		report:    req.Report,
		diagnosis: req.Diagnosis,
		trigger:   models.TriggerAfterApproval,
	}
	o.appendActionLocked(models.ActionLogEntry{
		Type:      models.LogApproved,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Severity:  req.Report.Severity,
		Diagnosis: req.Diagnosis.Type,
	})
	o.scheduleHealLocked(agentID)
	o.mu.Unlock()

	o.storeWrite(func(sctx context.Context) error {
		return o.store.WriteApprovalEvent(sctx, req, store.ApprovalApproved)
	})
	o.logger.Info("healing approved", slog.String("agent_id", agentID))
	return nil
}

// Reject denies healing for a pending infection. The agent stays quarantined
// and is never re-flagged for the same open episode; heal-now is the only way
// out.
func (o *Orchestrator) Reject(agentID string) error {
	if _, known := o.agents[agentID]; !known {
		return ErrUnknownAgent
	}
	o.mu.Lock()
	req, ok := o.pending[agentID]
	if !ok {
		o.mu.Unlock()
		return ErrNoPendingApproval
	}
	delete(o.pending, agentID)
	req.State = models.ApprovalRejected
	req.RejectedAt = time.Now().UTC()
	o.rejected[agentID] = req
	o.appendActionLocked(models.ActionLogEntry{
		Type:      models.LogRejected,
		AgentID:   agentID,
		Timestamp: req.RejectedAt,
		Severity:  req.Report.Severity,
		Diagnosis: req.Diagnosis.Type,
	})
	o.mu.Unlock()

	o.storeWrite(func(sctx context.Context) error {
		return o.store.WriteApprovalEvent(sctx, req, store.ApprovalDenied)
	})
	o.logger.Info("healing rejected, agent stays quarantined", slog.String("agent_id", agentID))
	return nil
}

// HealNow overrides a rejection and schedules healing for the rejected
// episode.
func (o *Orchestrator) HealNow(agentID string) error {
	if _, known := o.agents[agentID]; !known {
		return ErrUnknownAgent
	}
	o.mu.Lock()
	req, ok := o.rejected[agentID]
	if !ok {
		o.mu.Unlock()
		return ErrNotRejected
	}
	delete(o.rejected, agentID)
	o.episodes[agentID] = &episode{
		report:    req.Report,
		diagnosis: req.Diagnosis,
		trigger:   models.TriggerHealNow,
	}
	o.appendActionLocked(models.ActionLogEntry{
		Type:      models.LogHealNow,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Severity:  req.Report.Severity,
		Diagnosis: req.Diagnosis.Type,
	})
	o.scheduleHealLocked(agentID)
	o.mu.Unlock()

	o.storeWrite(func(sctx context.Context) error {
		return o.store.WriteApprovalEvent(sctx, req, store.ApprovalHealNow)
	})
	o.logger.Info("heal-now requested", slog.String("agent_id", agentID))
	return nil
}

// ApproveAll approves every pending request, returning the agent ids acted
// on in ascending order.
func (o *Orchestrator) ApproveAll() []string {
	ids := o.pendingIDs()
	for _, id := range ids {
		_ = o.Approve(id)
	}
	return ids
}

// HealAllRejected runs heal-now for every rejected episode, returning the
// agent ids acted on in ascending order.
func (o *Orchestrator) HealAllRejected() []string {
	ids := o.rejectedIDs()
	for _, id := range ids {
		_ = o.HealNow(id)
	}
	return ids
}

func (o *Orchestrator) pendingIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.pending))
	for id := range o.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) rejectedIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.rejected))
	for id := range o.rejected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drain pushes every open recovery to completion: pending approvals are
// approved, rejected episodes are healed, and the call blocks until no
// healing is in progress or the context expires.
func (o *Orchestrator) Drain(ctx context.Context) {
	pending := o.pendingIDs()
	for _, id := range pending {
		_ = o.Approve(id)
	}
	rejected := o.HealAllRejected()
	if len(pending) > 0 || len(rejected) > 0 {
		o.logger.Info("draining open recoveries",
			slog.Int("approved", len(pending)),
			slog.Int("healed", len(rejected)))
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		o.mu.Lock()
		busy := len(o.healingInProgress)
		open := 0
		for id, ep := range o.episodes {
			if ep.unresolved {
				continue
			}
			open++
			if _, running := o.healingInProgress[id]; !running {
				o.scheduleHealLocked(id)
			}
		}
		o.mu.Unlock()

		if busy == 0 && open == 0 {
			return
		}
		select {
		case <-ctx.Done():
			o.logger.Warn("drain timed out with recoveries still open",
				slog.Int("in_progress", busy),
				slog.Int("open_episodes", open))
			return
		case <-ticker.C:
		}
	}
}
