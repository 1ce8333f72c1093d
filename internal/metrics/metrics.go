package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Healing outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeExhausted = "exhausted"
)

var (
	executionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleet_warden",
			Name:      "executions_total",
			Help:      "Total agent execution ticks recorded.",
		},
	)

	infectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet_warden",
			Name:      "infections_total",
			Help:      "Infections detected, partitioned by approval routing.",
		},
		[]string{"routing"},
	)

	healingAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet_warden",
			Name:      "healing_attempts_total",
			Help:      "Healing attempts, partitioned by outcome and trigger.",
		},
		[]string{"outcome", "trigger"},
	)

	quarantinedCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleet_warden",
			Name:      "quarantined_current",
			Help:      "Agents currently in quarantine.",
		},
	)

	detectionPassSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleet_warden",
			Name:      "detection_pass_seconds",
			Help:      "Duration of one full detection pass over the fleet.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	healingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleet_warden",
			Name:      "healing_seconds",
			Help:      "Duration of one healing attempt.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		},
	)
)

// Register attaches the fleet-warden collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		executionsTotal,
		infectionsTotal,
		healingAttemptsTotal,
		quarantinedCurrent,
		detectionPassSeconds,
		healingSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveExecution counts one agent tick.
func ObserveExecution() {
	executionsTotal.Inc()
}

// ObserveInfection counts a detection, labelled by whether it required
// operator approval.
func ObserveInfection(requiresApproval bool) {
	routing := "auto_heal"
	if requiresApproval {
		routing = "approval"
	}
	infectionsTotal.WithLabelValues(routing).Inc()
}

// ObserveHealing records a healing attempt's duration and outcome.
func ObserveHealing(duration time.Duration, outcome, trigger string) {
	healingAttemptsTotal.WithLabelValues(outcome, trigger).Inc()
	if duration < 0 {
		duration = 0
	}
	healingSeconds.Observe(duration.Seconds())
}

// SetQuarantined updates the containment gauge.
func SetQuarantined(count int) {
	quarantinedCurrent.Set(float64(count))
}

// ObserveDetectionPass records the duration of a full fleet scan.
func ObserveDetectionPass(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	detectionPassSeconds.Observe(duration.Seconds())
}
