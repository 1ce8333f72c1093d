// Package orchestrator runs the per-agent execution ticks and the periodic
// detection pass, owns the containment and approval state machine, and
// exposes the mutating entry points consumed by the external control surface.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenstack/fleet-warden/internal/baseline"
	"github.com/wardenstack/fleet-warden/internal/detect"
	"github.com/wardenstack/fleet-warden/internal/diagnose"
	"github.com/wardenstack/fleet-warden/internal/healing"
	"github.com/wardenstack/fleet-warden/internal/memory"
	"github.com/wardenstack/fleet-warden/internal/metrics"
	"github.com/wardenstack/fleet-warden/internal/models"
	"github.com/wardenstack/fleet-warden/internal/quarantine"
	"github.com/wardenstack/fleet-warden/internal/store"
	"github.com/wardenstack/fleet-warden/internal/telemetry"
	"github.com/wardenstack/fleet-warden/internal/utils"
)

// Defaults for the scheduler configuration.
const (
	DefaultTickInterval     = time.Second
	DefaultWarmupDelay      = 15 * time.Second
	DefaultDetectionWindow  = 10 * time.Second
	DefaultApprovalSeverity = 7.0
	DefaultActionLogMax     = 80
	DefaultDrainTimeout     = 120 * time.Second

	actionLogVisible = 50
)

// Entry point errors returned to the control surface.
var (
	ErrUnknownAgent      = errors.New("unknown agent")
	ErrNoPendingApproval = errors.New("no pending approval for agent")
	ErrNotRejected       = errors.New("agent has no rejected approval")
)

// Agent is the supervised unit of execution. Execute runs one task tick and
// returns the measured vitals; SelfReported exposes the forced-fault marker.
// The embedded healing.Target is the mutable surface remediation acts on.
type Agent interface {
	healing.Target
	ID() string
	Execute(ctx context.Context) (models.VitalSigns, error)
	SelfReported() bool
}

// Config is the immutable scheduler configuration, created at startup and
// passed into New.
type Config struct {
	TickInterval     time.Duration
	WarmupDelay      time.Duration
	DetectionWindow  time.Duration
	WarmupSamples    int
	ThresholdStdDev  float64
	ApprovalSeverity float64
	HealingStepDelay time.Duration
	TelemetryCap     int
	ActionLogMax     int
	DrainTimeout     time.Duration
	DrainOnShutdown  bool
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = DefaultWarmupDelay
	}
	if c.DetectionWindow <= 0 {
		c.DetectionWindow = DefaultDetectionWindow
	}
	if c.ApprovalSeverity <= 0 {
		c.ApprovalSeverity = DefaultApprovalSeverity
	}
	if c.ActionLogMax <= 0 {
		c.ActionLogMax = DefaultActionLogMax
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// episode tracks one open infection from containment to resolution.
type episode struct {
	report     models.InfectionReport
	diagnosis  models.Diagnosis
	trigger    models.Trigger
	unresolved bool
}

// Orchestrator coordinates every component. Shared mutable state reachable
// from both the scheduler goroutines and the control surface (pending,
// rejected, episodes, stats, action log) sits behind one coarse mutex; each
// critical section is O(1) and tick-rate-bounded.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	agents map[string]Agent
	order  []string

	telemetry     *telemetry.Log
	estimator     *baseline.Estimator
	sentinel      *detect.Sentinel
	diagnostician *diagnose.Diagnostician
	quarantine    *quarantine.Controller
	immune        *memory.Immune
	healer        *healing.Healer
	store         store.Store
	latencies     *utils.LatencyTracker

	// bgCtx detaches healing attempts and store writes from the run
	// context: shutdown must never abort an applied-but-unvalidated action
	// or record it as a false failure. Set once in New, never reassigned.
	bgCtx context.Context
	wg    sync.WaitGroup

	mu                sync.Mutex
	pending           map[string]models.ApprovalRequest
	rejected          map[string]models.ApprovalRequest
	episodes          map[string]*episode
	healingInProgress map[string]struct{}
	learned           map[string]bool
	execCounts        map[string]int64
	releasedAt        map[string]time.Time
	actionLog         []models.ActionLogEntry
	passes            int

	startTime           time.Time
	totalInfections     int64
	totalHealed         int64
	totalFailedHealings int64
}

// New wires the orchestrator and its components. The fleet is fixed at
// construction: agents are registered once and scanned in ascending-id order
// so detection output is reproducible. A nil validate installs the default
// post-action re-check against fresh vitals.
func New(cfg Config, logger *slog.Logger, agents []Agent, policies *healing.PolicySet, st store.Store, validate healing.Validator) *Orchestrator {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.NewMemory()
	}

	o := &Orchestrator{
		cfg:               cfg,
		logger:            logger,
		agents:            make(map[string]Agent, len(agents)),
		telemetry:         telemetry.NewLog(cfg.TelemetryCap),
		sentinel:          detect.NewSentinel(cfg.ThresholdStdDev),
		diagnostician:     diagnose.NewDiagnostician(),
		quarantine:        quarantine.NewController(),
		immune:            memory.NewImmune(),
		store:             st,
		latencies:         utils.NewLatencyTracker(1024),
		bgCtx:             context.Background(),
		pending:           make(map[string]models.ApprovalRequest),
		rejected:          make(map[string]models.ApprovalRequest),
		episodes:          make(map[string]*episode),
		healingInProgress: make(map[string]struct{}),
		learned:           make(map[string]bool),
		execCounts:        make(map[string]int64),
		releasedAt:        make(map[string]time.Time),
		startTime:         time.Now(),
	}
	o.estimator = baseline.NewEstimator(o.telemetry, cfg.WarmupSamples)

	for _, agent := range agents {
		o.agents[agent.ID()] = agent
		o.order = append(o.order, agent.ID())
	}
	sort.Strings(o.order)

	if validate == nil {
		validate = o.recheckValidator
	}
	o.healer = healing.NewHealer(policies, o.immune, validate, cfg.HealingStepDelay, logger)
	return o
}

// Run starts every agent loop and the detection loop, blocks until the
// context is cancelled, optionally drains in-flight recoveries, and waits
// for all goroutines before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	o.logger.Info("fleet warden running",
		slog.Int("agents", len(o.order)),
		slog.Duration("tick", o.cfg.TickInterval))

	for _, id := range o.order {
		agent := o.agents[id]
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.agentLoop(ctx, agent)
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.detectionLoop(ctx)
	}()

	<-ctx.Done()

	if o.cfg.DrainOnShutdown {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DrainTimeout)
		o.Drain(drainCtx)
		cancel()
	}

	o.wg.Wait()
	o.LogSummary()
	return nil
}

// agentLoop executes one agent's task at the tick interval, records vitals,
// and learns the baseline exactly once when the warmup threshold is crossed.
// A failure in one agent's tick never propagates to any other loop.
func (o *Orchestrator) agentLoop(ctx context.Context, agent Agent) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		id := agent.ID()
		if o.quarantine.IsQuarantined(id) {
			continue
		}

		vitals, err := agent.Execute(ctx)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("agent execution failed", slog.String("agent_id", id), slog.Any("error", err))
			}
			continue
		}
		o.telemetry.Record(vitals)
		metrics.ObserveExecution()
		o.storeWrite(func(sctx context.Context) error { return o.store.WriteVitals(sctx, vitals) })

		o.mu.Lock()
		o.execCounts[id]++
		needsBaseline := !o.learned[id] && o.telemetry.Count(id) >= o.estimator.WarmupSamples()
		if needsBaseline {
			o.learned[id] = true
		}
		o.mu.Unlock()

		if needsBaseline {
			if profile, ok := o.estimator.Learn(id); ok {
				o.logger.Info("baseline learned",
					slog.String("agent_id", id),
					slog.Int("samples", profile.SampleCount))
				o.storeWrite(func(sctx context.Context) error { return o.store.WriteBaseline(sctx, profile) })
			}
		}
	}
}

// detectionLoop waits out the warmup delay, then scans the fleet once per
// tick interval.
func (o *Orchestrator) detectionLoop(ctx context.Context) {
	warmup := time.NewTimer(o.cfg.WarmupDelay)
	defer warmup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-warmup.C:
	}

	o.logger.Info("sentinel active, monitoring for infections")

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runDetectionPass(ctx)
		}
	}
}

// runDetectionPass scans every agent in ascending-id order, then reschedules
// healing for contained agents whose previous attempt failed with ladder
// actions remaining.
func (o *Orchestrator) runDetectionPass(ctx context.Context) {
	start := time.Now()
	for _, id := range o.order {
		o.scanAgent(ctx, id)
	}
	o.resumeOpenEpisodes(ctx)

	duration := time.Since(start)
	o.latencies.Observe(duration)
	metrics.ObserveDetectionPass(duration)

	o.mu.Lock()
	o.passes++
	passes := o.passes
	o.mu.Unlock()
	if passes >= 20 && passes%20 == 0 {
		o.logger.Debug("detection pass latency",
			slog.Duration("p95", o.latencies.Percentile(95)),
			slog.Int("passes", passes))
	}
}

// scanAgent scores one agent's recent window and, on infection, contains and
// routes it. Agents without a baseline are skipped, never treated as
// anomalous by default.
func (o *Orchestrator) scanAgent(ctx context.Context, id string) {
	agent := o.agents[id]
	if agent == nil || o.quarantine.IsQuarantined(id) {
		return
	}
	profile, ok := o.estimator.Get(id)
	if !ok {
		return
	}

	o.mu.Lock()
	released, wasReleased := o.releasedAt[id]
	o.mu.Unlock()
	if wasReleased && time.Since(released) < o.cfg.DetectionWindow {
		// Recovery cooldown: let pre-containment samples age out of the
		// window before scoring again.
		return
	}

	recent := o.telemetry.Recent(id, o.cfg.DetectionWindow)
	if len(recent) == 0 {
		return
	}

	report := o.sentinel.Score(id, recent, profile, agent.SelfReported())
	if !report.Infected() {
		return
	}

	o.mu.Lock()
	if _, isRejected := o.rejected[id]; isRejected {
		// Operator rejected healing for this open infection: stay
		// quarantined and untouched until heal-now.
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	report.EpisodeID = uuid.NewString()
	report.DetectedAt = time.Now().UTC()
	o.containAndRoute(ctx, id, report)
}

// containAndRoute quarantines the agent and either schedules auto-healing or
// parks the infection behind the operator approval gate.
func (o *Orchestrator) containAndRoute(ctx context.Context, id string, report models.InfectionReport) {
	o.quarantine.Quarantine(id)
	metrics.SetQuarantined(o.quarantine.Count())

	diagnosis := o.diagnostician.Classify(report)
	requiresApproval := report.Severity >= o.cfg.ApprovalSeverity
	metrics.ObserveInfection(requiresApproval)

	o.logger.Warn("infection detected, agent quarantined",
		slog.String("agent_id", id),
		slog.Float64("severity", report.Severity),
		slog.Int("anomalies", len(report.Anomalies)),
		slog.String("diagnosis", string(diagnosis.Type)),
		slog.Bool("forced", report.Forced))

	o.storeWrite(func(sctx context.Context) error { return o.store.WriteInfectionEvent(sctx, report) })
	o.storeWrite(func(sctx context.Context) error {
		return o.store.WriteQuarantineEvent(sctx, id, store.QuarantineEntered)
	})

	o.mu.Lock()
	o.totalInfections++
	if requiresApproval {
		req := models.ApprovalRequest{
			AgentID:     id,
			Report:      report,
			Diagnosis:   diagnosis,
			State:       models.ApprovalPending,
			RequestedAt: time.Now().UTC(),
		}
		o.pending[id] = req
		o.appendActionLocked(models.ActionLogEntry{
			Type:      models.LogApprovalRequested,
			AgentID:   id,
			Timestamp: req.RequestedAt,
			Severity:  report.Severity,
			Diagnosis: diagnosis.Type,
		})
		o.mu.Unlock()

		o.storeWrite(func(sctx context.Context) error {
			return o.store.WriteApprovalEvent(sctx, req, store.ApprovalRequested)
		})
		o.logger.Info("approval required before healing",
			slog.String("agent_id", id),
			slog.Float64("severity", report.Severity))
		return
	}

	o.episodes[id] = &episode{report: report, diagnosis: diagnosis, trigger: models.TriggerAuto}
	o.scheduleHealLocked(id)
	o.mu.Unlock()
}

// resumeOpenEpisodes schedules the next ladder action for contained agents
// whose previous attempt failed and which are not parked behind the approval
// gate.
func (o *Orchestrator) resumeOpenEpisodes(_ context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.order {
		ep, ok := o.episodes[id]
		if !ok || ep.unresolved {
			continue
		}
		if _, busy := o.healingInProgress[id]; busy {
			continue
		}
		if !o.quarantine.IsQuarantined(id) {
			continue
		}
		o.scheduleHealLocked(id)
	}
}

// scheduleHealLocked spawns one healing attempt for the agent's open
// episode. Caller holds o.mu.
func (o *Orchestrator) scheduleHealLocked(id string) {
	if _, busy := o.healingInProgress[id]; busy {
		return
	}
	ep, ok := o.episodes[id]
	if !ok || ep.unresolved {
		return
	}
	o.healingInProgress[id] = struct{}{}
	snapshot := *ep

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runHeal(o.bgCtx, id, snapshot)
	}()
}

// runHeal executes exactly one healing attempt and applies its outcome to
// the state machine: release on success, stay contained on failure, mark
// unresolved on ladder exhaustion.
func (o *Orchestrator) runHeal(ctx context.Context, id string, ep episode) {
	agent := o.agents[id]
	start := time.Now()
	outcome := o.healer.Attempt(ctx, agent, ep.report, ep.diagnosis, ep.trigger)
	duration := time.Since(start)

	outcomeLabel := metrics.OutcomeFailure
	switch {
	case outcome.Exhausted:
		outcomeLabel = metrics.OutcomeExhausted
	case outcome.Success:
		outcomeLabel = metrics.OutcomeSuccess
	}
	metrics.ObserveHealing(duration, outcomeLabel, string(outcome.Trigger))
	o.storeWrite(func(sctx context.Context) error { return o.store.WriteHealingEvent(sctx, outcome) })

	o.mu.Lock()
	delete(o.healingInProgress, id)
	o.appendActionLocked(models.ActionLogEntry{
		Type:      models.LogHealingAttempt,
		AgentID:   id,
		Timestamp: outcome.Timestamp,
		Diagnosis: outcome.Diagnosis,
		Action:    outcome.Action,
		Success:   outcome.Success,
		Trigger:   outcome.Trigger,
	})

	switch {
	case outcome.Exhausted:
		if current, ok := o.episodes[id]; ok {
			current.unresolved = true
		}
		o.totalFailedHealings++
		o.appendActionLocked(models.ActionLogEntry{
			Type:      models.LogUnresolved,
			AgentID:   id,
			Timestamp: time.Now().UTC(),
			Diagnosis: outcome.Diagnosis,
		})
		o.mu.Unlock()
		o.logger.Error("healing ladder exhausted, agent unresolved",
			slog.String("agent_id", id),
			slog.String("diagnosis", string(outcome.Diagnosis)))

	case outcome.Success:
		delete(o.episodes, id)
		o.totalHealed++
		o.releasedAt[id] = time.Now()
		o.mu.Unlock()

		o.quarantine.Release(id)
		metrics.SetQuarantined(o.quarantine.Count())
		o.storeWrite(func(sctx context.Context) error {
			return o.store.WriteQuarantineEvent(sctx, id, store.QuarantineReleased)
		})
		o.logger.Info("healing succeeded, agent released",
			slog.String("agent_id", id),
			slog.String("action", string(outcome.Action)))

	default:
		o.totalFailedHealings++
		o.mu.Unlock()
		o.logger.Warn("healing action failed, will escalate",
			slog.String("agent_id", id),
			slog.String("action", string(outcome.Action)))
	}
}

// recheckValidator is the default healing validator: the agent re-executes
// once and the fresh vitals are scored against the stored baseline; the
// action succeeded iff the probe ran cleanly and the report is clean. The
// probe is not recorded as a telemetry tick.
func (o *Orchestrator) recheckValidator(ctx context.Context, agentID string, _ models.HealingAction) bool {
	agent := o.agents[agentID]
	if agent == nil {
		return false
	}
	profile, ok := o.estimator.Get(agentID)
	if !ok {
		return false
	}
	vitals, err := agent.Execute(ctx)
	if err != nil || !vitals.Success {
		return false
	}
	report := o.sentinel.Score(agentID, []models.VitalSigns{vitals}, profile, agent.SelfReported())
	return !report.Infected()
}

// storeWrite runs a persistence call off the hot path with a bounded
// timeout. A failed or slow write is logged and dropped; it never stalls a
// tick or a transition.
func (o *Orchestrator) storeWrite(call func(ctx context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(o.bgCtx, o.cfg.TickInterval*5)
		defer cancel()
		if err := call(ctx); err != nil {
			o.logger.Warn("store write failed", slog.Any("error", err))
		}
	}()
}

// appendActionLocked appends to the bounded action log. Caller holds o.mu.
func (o *Orchestrator) appendActionLocked(entry models.ActionLogEntry) {
	o.actionLog = append(o.actionLog, entry)
	if len(o.actionLog) > o.cfg.ActionLogMax {
		o.actionLog = o.actionLog[len(o.actionLog)-o.cfg.ActionLogMax:]
	}
	o.storeWrite(func(sctx context.Context) error { return o.store.AppendActionLog(sctx, entry) })
}
