package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wardenstack/fleet-warden/internal/memory"
	"github.com/wardenstack/fleet-warden/internal/models"
)

const (
	defaultVitalsRetention = 512
	defaultEventRetention  = 1024
)

// Memory is the in-process Store implementation and the default backend. It
// is also the state-query half of the Influx backend, which only overrides
// the time-series writes.
type Memory struct {
	mu        sync.RWMutex
	vitals    map[string][]models.VitalSigns
	counts    map[string]int64
	baselines map[string]models.BaselineProfile
	pending   map[string]models.ApprovalRequest
	rejected  map[string]models.ApprovalRequest
	events    []models.InfectionReport
	actionLog []models.ActionLogEntry
	immune    *memory.Immune
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		vitals:    make(map[string][]models.VitalSigns),
		counts:    make(map[string]int64),
		baselines: make(map[string]models.BaselineProfile),
		pending:   make(map[string]models.ApprovalRequest),
		rejected:  make(map[string]models.ApprovalRequest),
		immune:    memory.NewImmune(),
	}
}

// WriteVitals retains the sample, evicting the oldest beyond the retention cap.
func (m *Memory) WriteVitals(_ context.Context, v models.VitalSigns) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append(m.vitals[v.AgentID], v)
	if len(buf) > defaultVitalsRetention {
		buf = buf[len(buf)-defaultVitalsRetention:]
	}
	m.vitals[v.AgentID] = buf
	m.counts[v.AgentID]++
	return nil
}

// RecentVitals returns retained samples inside the trailing window.
func (m *Memory) RecentVitals(_ context.Context, agentID string, window time.Duration) ([]models.VitalSigns, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-window)
	var out []models.VitalSigns
	for _, v := range m.vitals[agentID] {
		if !v.Timestamp.Before(cutoff) {
			out = append(out, v)
		}
	}
	return out, nil
}

// LatestVitals returns the newest retained sample for the agent.
func (m *Memory) LatestVitals(_ context.Context, agentID string) (models.VitalSigns, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf := m.vitals[agentID]
	if len(buf) == 0 {
		return models.VitalSigns{}, ErrNotFound
	}
	return buf[len(buf)-1], nil
}

// ExecutionCount returns the lifetime sample count for the agent.
func (m *Memory) ExecutionCount(_ context.Context, agentID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[agentID], nil
}

// WriteBaseline stores the profile, overwriting any prior one.
func (m *Memory) WriteBaseline(_ context.Context, profile models.BaselineProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[profile.AgentID] = profile
	return nil
}

// ReadBaseline returns the stored profile for the agent.
func (m *Memory) ReadBaseline(_ context.Context, agentID string) (models.BaselineProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.baselines[agentID]
	if !ok {
		return models.BaselineProfile{}, ErrNotFound
	}
	return profile, nil
}

// WriteInfectionEvent retains the report in the bounded event history.
func (m *Memory) WriteInfectionEvent(_ context.Context, report models.InfectionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, report)
	if len(m.events) > defaultEventRetention {
		m.events = m.events[len(m.events)-defaultEventRetention:]
	}
	return nil
}

// WriteQuarantineEvent is a no-op for the in-memory backend; containment
// membership is owned by the quarantine controller.
func (m *Memory) WriteQuarantineEvent(_ context.Context, _, _ string) error {
	return nil
}

// WriteApprovalEvent maintains the pending and rejected collections.
func (m *Memory) WriteApprovalEvent(_ context.Context, req models.ApprovalRequest, decision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch decision {
	case ApprovalRequested:
		m.pending[req.AgentID] = req
	case ApprovalApproved:
		delete(m.pending, req.AgentID)
	case ApprovalDenied:
		delete(m.pending, req.AgentID)
		m.rejected[req.AgentID] = req
	case ApprovalHealNow:
		delete(m.rejected, req.AgentID)
	}
	return nil
}

// ReadPending returns pending approval requests, ordered by agent id.
func (m *Memory) ReadPending(_ context.Context) ([]models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRequests(m.pending), nil
}

// ReadRejected returns rejected approval requests, ordered by agent id.
func (m *Memory) ReadRejected(_ context.Context) ([]models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRequests(m.rejected), nil
}

// WriteHealingEvent records the outcome in the backing immune memory.
func (m *Memory) WriteHealingEvent(_ context.Context, outcome models.HealingOutcome) error {
	m.immune.Record(outcome)
	return nil
}

// FailedActions returns actions whose latest outcome for the pair failed.
func (m *Memory) FailedActions(_ context.Context, agentID string, diagnosis models.DiagnosisType) ([]models.HealingAction, error) {
	failed := m.immune.FailedActions(agentID, diagnosis)
	out := make([]models.HealingAction, 0, len(failed))
	for action := range failed {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// PatternSummary aggregates fleet-wide healing outcomes per diagnosis.
func (m *Memory) PatternSummary(_ context.Context) (map[models.DiagnosisType]models.PatternStat, error) {
	return m.immune.PatternSummary(), nil
}

// AppendActionLog retains the entry in the bounded action history.
func (m *Memory) AppendActionLog(_ context.Context, entry models.ActionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionLog = append(m.actionLog, entry)
	if len(m.actionLog) > defaultEventRetention {
		m.actionLog = m.actionLog[len(m.actionLog)-defaultEventRetention:]
	}
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }

func sortedRequests(set map[string]models.ApprovalRequest) []models.ApprovalRequest {
	out := make([]models.ApprovalRequest, 0, len(set))
	for _, req := range set {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
