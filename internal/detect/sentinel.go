// Package detect scores recent vitals against learned baselines.
package detect

import (
	"math"

	"github.com/wardenstack/fleet-warden/internal/models"
)

const (
	// DefaultThresholdStdDev is the deviation above which a metric is
	// anomalous. The comparison is strict: exactly at the threshold is
	// still normal.
	DefaultThresholdStdDev = 2.5

	// degenerateDeviation stands in for the standardized distance when the
	// baseline has zero spread but the recent average moved. Large enough
	// to saturate severity at 10 while keeping reports serialisable.
	degenerateDeviation = 20.0

	// forcedSeverityFloor is the minimum severity of a self-reported
	// infection whose metrics momentarily look normal. Below the approval
	// threshold, so forced cases stay auto-healable unless the statistics
	// push them higher.
	forcedSeverityFloor = 5.0
)

// Sentinel compares a recent sample window to a baseline profile. Score has
// no side effects and no hidden inputs: identical arguments always produce
// the identical report.
type Sentinel struct {
	threshold float64
}

// NewSentinel creates a Sentinel with the given anomaly threshold in
// standard deviations.
func NewSentinel(thresholdStdDev float64) *Sentinel {
	if thresholdStdDev <= 0 {
		thresholdStdDev = DefaultThresholdStdDev
	}
	return &Sentinel{threshold: thresholdStdDev}
}

// Threshold returns the configured anomaly threshold.
func (s *Sentinel) Threshold() float64 { return s.threshold }

// Score produces an infection report for the window. Callers must not invoke
// it with an empty window or a missing baseline; such agents are skipped for
// the cycle instead. A forced flag guarantees a nonzero-severity report with
// at least one anomaly even when every metric scores clean, so injected or
// self-reported failures are always contained.
func (s *Sentinel) Score(agentID string, recent []models.VitalSigns, profile models.BaselineProfile, forced bool) models.InfectionReport {
	report := models.InfectionReport{AgentID: agentID, Forced: forced}

	for _, metric := range models.TrackedMetrics() {
		stats, ok := profile.Stats[metric]
		if !ok {
			continue
		}
		avg, ok := windowAverage(recent, metric)
		if !ok {
			continue
		}

		deviation := standardized(avg, stats)
		if deviation > s.threshold {
			report.Anomalies = append(report.Anomalies, models.Anomaly{
				Metric:    metric,
				Deviation: deviation,
				Observed:  avg,
				Expected:  stats.Mean,
			})
		}
	}

	if len(report.Anomalies) > 0 {
		report.Severity = severity(report.MaxDeviation())
	}

	if forced && len(report.Anomalies) == 0 {
		report.Anomalies = append(report.Anomalies, models.Anomaly{Metric: models.MetricSelfReported})
	}
	if forced && report.Severity < forcedSeverityFloor {
		report.Severity = forcedSeverityFloor
	}

	return report
}

// standardized returns |avg - mean| / stddev. A zero-stddev baseline turns
// any nonzero difference into an immediate maximal deviation rather than a
// division by zero.
func standardized(avg float64, stats models.MetricStats) float64 {
	diff := math.Abs(avg - stats.Mean)
	if stats.StdDev == 0 {
		if diff == 0 {
			return 0
		}
		return degenerateDeviation
	}
	return diff / stats.StdDev
}

// severity compresses the maximum deviation into the 0-10 containment scale.
func severity(maxDeviation float64) float64 {
	return math.Min(10, 2+maxDeviation*0.45)
}

// windowAverage averages the metric over the window, skipping samples where
// the metric is malformed. The second return is false when no usable value
// exists.
func windowAverage(recent []models.VitalSigns, metric models.Metric) (float64, bool) {
	sum := 0.0
	n := 0
	for _, v := range recent {
		if value, ok := v.Value(metric); ok {
			sum += value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
