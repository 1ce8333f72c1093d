package models

import (
	"math"
	"time"
)

// Metric identifies one of the tracked behavioural metrics.
type Metric string

const (
	MetricLatency   Metric = "latency_ms"
	MetricTokens    Metric = "token_count"
	MetricToolCalls Metric = "tool_calls"
	MetricRetries   Metric = "retries"

	// MetricSelfReported is a synthetic anomaly attached when an agent
	// flags itself as compromised and the statistical pass found nothing.
	MetricSelfReported Metric = "self_reported"
)

// TrackedMetrics returns the metrics scored by the sentinel, in the fixed
// order used everywhere deviations are reported.
func TrackedMetrics() []Metric {
	return []Metric{MetricLatency, MetricTokens, MetricToolCalls, MetricRetries}
}

// VitalSigns is one execution tick's measured behaviour for an agent.
type VitalSigns struct {
	AgentID    string    `json:"agent_id"`
	Timestamp  time.Time `json:"timestamp"`
	LatencyMS  float64   `json:"latency_ms"`
	TokenCount float64   `json:"token_count"`
	ToolCalls  float64   `json:"tool_calls"`
	Retries    float64   `json:"retries"`
	Success    bool      `json:"success"`
}

// Value returns the named metric from the sample. The second return is false
// for unknown metrics and for non-finite values (NaN/Inf), which callers
// skip rather than score.
func (v VitalSigns) Value(m Metric) (float64, bool) {
	var value float64
	switch m {
	case MetricLatency:
		value = v.LatencyMS
	case MetricTokens:
		value = v.TokenCount
	case MetricToolCalls:
		value = v.ToolCalls
	case MetricRetries:
		value = v.Retries
	default:
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}
