// Package store abstracts persistence for vitals, baselines, and the event
// history behind one contract satisfied by an in-memory stub, an InfluxDB
// time-series backend, or a remote HTTP API. The core never assumes a call
// is local or fast: every call either completes or fails, and a failed write
// must never stall the tick loop.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
)

// ErrUnavailable marks a backend call that failed or timed out. The core
// continues with best-available in-memory state for the current cycle.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound marks a read for a record the backend does not hold.
var ErrNotFound = errors.New("not found")

// Quarantine event actions.
const (
	QuarantineEntered  = "quarantine"
	QuarantineReleased = "release"
)

// Approval event decisions.
const (
	ApprovalRequested = "requested"
	ApprovalApproved  = "approved"
	ApprovalDenied    = "rejected"
	ApprovalHealNow   = "heal_now"
)

// Store is the persistence contract consumed by the core.
type Store interface {
	WriteVitals(ctx context.Context, v models.VitalSigns) error
	RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]models.VitalSigns, error)
	LatestVitals(ctx context.Context, agentID string) (models.VitalSigns, error)
	ExecutionCount(ctx context.Context, agentID string) (int64, error)

	WriteBaseline(ctx context.Context, profile models.BaselineProfile) error
	ReadBaseline(ctx context.Context, agentID string) (models.BaselineProfile, error)

	WriteInfectionEvent(ctx context.Context, report models.InfectionReport) error
	WriteQuarantineEvent(ctx context.Context, agentID, action string) error
	WriteApprovalEvent(ctx context.Context, req models.ApprovalRequest, decision string) error
	ReadPending(ctx context.Context) ([]models.ApprovalRequest, error)
	ReadRejected(ctx context.Context) ([]models.ApprovalRequest, error)

	WriteHealingEvent(ctx context.Context, outcome models.HealingOutcome) error
	FailedActions(ctx context.Context, agentID string, diagnosis models.DiagnosisType) ([]models.HealingAction, error)
	PatternSummary(ctx context.Context) (map[models.DiagnosisType]models.PatternStat, error)

	AppendActionLog(ctx context.Context, entry models.ActionLogEntry) error

	Close() error
}
