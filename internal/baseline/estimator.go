// Package baseline learns per-agent behavioural profiles from telemetry.
package baseline

import (
	"math"
	"sync"
	"time"

	"github.com/wardenstack/fleet-warden/internal/models"
	"github.com/wardenstack/fleet-warden/internal/telemetry"
)

// DefaultWarmupSamples is the sample count an agent must accumulate before
// its baseline is learned.
const DefaultWarmupSamples = 15

// Estimator computes and stores one fixed BaselineProfile per agent. A
// profile is learned once the warmup threshold is reached and is not
// recomputed unless explicitly reset, so ongoing abnormal behaviour cannot
// silently shift the envelope.
type Estimator struct {
	mu       sync.RWMutex
	warmup   int
	log      *telemetry.Log
	profiles map[string]models.BaselineProfile
}

// NewEstimator creates an Estimator reading from the given telemetry log.
func NewEstimator(log *telemetry.Log, warmupSamples int) *Estimator {
	if warmupSamples <= 0 {
		warmupSamples = DefaultWarmupSamples
	}
	return &Estimator{
		warmup:   warmupSamples,
		log:      log,
		profiles: make(map[string]models.BaselineProfile),
	}
}

// WarmupSamples returns the configured warmup threshold.
func (e *Estimator) WarmupSamples() int { return e.warmup }

// Learn computes the profile for the agent from all currently retained
// samples. It is a no-op (false) while the sample count is below the warmup
// threshold. Calling it again overwrites the prior profile.
func (e *Estimator) Learn(agentID string) (models.BaselineProfile, bool) {
	samples := e.log.All(agentID)
	if len(samples) < e.warmup {
		return models.BaselineProfile{}, false
	}

	stats := make(map[models.Metric]models.MetricStats, len(models.TrackedMetrics()))
	for _, metric := range models.TrackedMetrics() {
		values := make([]float64, 0, len(samples))
		for _, s := range samples {
			if v, ok := s.Value(metric); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		stats[metric] = models.MetricStats{
			Mean:   mean(values),
			StdDev: sampleStdDev(values),
		}
	}

	profile := models.BaselineProfile{
		AgentID:     agentID,
		Stats:       stats,
		SampleCount: len(samples),
		LearnedAt:   time.Now().UTC(),
	}

	e.mu.Lock()
	e.profiles[agentID] = profile
	e.mu.Unlock()
	return profile, true
}

// Has reports whether a baseline exists for the agent.
func (e *Estimator) Has(agentID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.profiles[agentID]
	return ok
}

// Get returns the agent's baseline, if learned.
func (e *Estimator) Get(agentID string) (models.BaselineProfile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.profiles[agentID]
	return p, ok
}

// Reset discards the agent's baseline so a fresh one can be learned.
func (e *Estimator) Reset(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.profiles, agentID)
}

// Learned returns the number of profiles currently held.
func (e *Estimator) Learned() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.profiles)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev uses the n-1 denominator; a single sample yields zero spread.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
