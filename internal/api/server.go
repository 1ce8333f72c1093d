// Package api exposes the warden control surface over HTTP JSON: fleet
// status, the approval queue, the action log, run stats, and the operator
// decisions that move episodes through the state machine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
	"github.com/wardenstack/fleet-warden/internal/orchestrator"
)

// Control is the orchestrator surface the server binds.
type Control interface {
	AgentStatuses() []orchestrator.AgentView
	PendingApprovals() []models.ApprovalRequest
	RejectedApprovals() []models.ApprovalRequest
	HealingActions() []models.ActionLogEntry
	PatternSummary() map[models.DiagnosisType]models.PatternStat
	Stats() orchestrator.Stats
	Approve(agentID string) error
	Reject(agentID string) error
	HealNow(agentID string) error
	HealAllRejected() []string
}

// Server wraps the HTTP listener.
type Server struct {
	httpServer *http.Server
	control    Control
	logger     *slog.Logger
}

// NewServer builds the control server on addr.
func NewServer(addr string, control Control, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{control: control, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/v1/warden/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/warden/approvals/pending", s.handlePending)
	mux.HandleFunc("GET /api/v1/warden/approvals/rejected", s.handleRejected)
	mux.HandleFunc("GET /api/v1/warden/actions", s.handleActions)
	mux.HandleFunc("GET /api/v1/warden/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/v1/warden/stats", s.handleStats)
	mux.HandleFunc("POST /api/v1/warden/approvals/{agent}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/v1/warden/approvals/{agent}/reject", s.handleReject)
	mux.HandleFunc("POST /api/v1/warden/heal-now/{agent}", s.handleHealNow)
	mux.HandleFunc("POST /api/v1/warden/heal-now-all", s.handleHealNowAll)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("control server listening", slog.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.control.AgentStatuses()})
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.control.PendingApprovals()})
}

func (s *Server) handleRejected(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.control.RejectedApprovals()})
}

func (s *Server) handleActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.control.HealingActions()})
}

func (s *Server) handlePatterns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patterns": s.control.PatternSummary()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.control.Stats())
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, "approve", s.control.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, "reject", s.control.Reject)
}

func (s *Server) handleHealNow(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, "heal_now", s.control.HealNow)
}

func (s *Server) handleHealNowAll(w http.ResponseWriter, _ *http.Request) {
	healed := s.control.HealAllRejected()
	writeJSON(w, http.StatusOK, map[string]any{"healed": healed})
}

// decide runs one operator decision and maps state-machine errors to HTTP
// statuses.
func (s *Server) decide(w http.ResponseWriter, r *http.Request, decision string, fn func(string) error) {
	agentID := r.PathValue("agent")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id is required")
		return
	}
	if err := fn(agentID); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNoPendingApproval),
			errors.Is(err, orchestrator.ErrNotRejected),
			errors.Is(err, orchestrator.ErrUnknownAgent):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("decision failed",
				slog.String("decision", decision),
				slog.String("agent_id", agentID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.logger.Info("operator decision",
		slog.String("decision", decision),
		slog.String("agent_id", agentID))
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "decision": decision})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
