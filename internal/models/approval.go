package models

import "time"

// AgentStatus is the externally visible condition of an agent.
type AgentStatus string

const (
	StatusHealthy     AgentStatus = "healthy"
	StatusQuarantined AgentStatus = "quarantined"
)

// ApprovalState tracks where a high-severity infection sits in the operator
// gate. Approved is a transition, not a stored state: approving removes the
// request and schedules healing.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalRejected ApprovalState = "rejected"
)

// ApprovalRequest is a high-severity infection awaiting an operator decision.
type ApprovalRequest struct {
	AgentID     string          `json:"agent_id"`
	Report      InfectionReport `json:"report"`
	Diagnosis   Diagnosis       `json:"diagnosis"`
	State       ApprovalState   `json:"state"`
	RequestedAt time.Time       `json:"requested_at"`
	RejectedAt  time.Time       `json:"rejected_at,omitempty"`
}

// ActionLogEntry is one row of the operator-visible healing action log.
type ActionLogEntry struct {
	Type      string        `json:"type"`
	AgentID   string        `json:"agent_id"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  float64       `json:"severity,omitempty"`
	Diagnosis DiagnosisType `json:"diagnosis,omitempty"`
	Action    HealingAction `json:"action,omitempty"`
	Success   bool          `json:"success,omitempty"`
	Trigger   Trigger       `json:"trigger,omitempty"`
}

// Action log entry types.
const (
	LogApprovalRequested = "approval_requested"
	LogApproved          = "user_approved"
	LogRejected          = "user_rejected"
	LogHealNow           = "heal_now_requested"
	LogHealingAttempt    = "healing_attempt"
	LogUnresolved        = "policy_exhausted"
)
