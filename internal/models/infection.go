package models

import "time"

// Anomaly records one metric whose recent average left the baseline envelope.
type Anomaly struct {
	Metric    Metric  `json:"metric"`
	Deviation float64 `json:"deviation"`
	Observed  float64 `json:"observed"`
	Expected  float64 `json:"expected"`
}

// InfectionReport is the sentinel's verdict for one agent and window.
// Severity 0 with no anomalies means healthy. EpisodeID and DetectedAt are
// stamped by the orchestrator when the report triggers containment; the
// scoring function itself leaves them zero so identical inputs always
// produce identical reports.
type InfectionReport struct {
	EpisodeID  string    `json:"episode_id,omitempty"`
	AgentID    string    `json:"agent_id"`
	Severity   float64   `json:"severity"`
	Anomalies  []Anomaly `json:"anomalies,omitempty"`
	Forced     bool      `json:"forced,omitempty"`
	DetectedAt time.Time `json:"detected_at,omitempty"`
}

// Infected reports whether the agent deviated from its envelope.
func (r InfectionReport) Infected() bool {
	return r.Severity > 0
}

// HasAnomaly reports whether the named metric is among the anomalies.
func (r InfectionReport) HasAnomaly(m Metric) bool {
	for _, a := range r.Anomalies {
		if a.Metric == m {
			return true
		}
	}
	return false
}

// MaxDeviation returns the largest deviation across all anomalies.
func (r InfectionReport) MaxDeviation() float64 {
	max := 0.0
	for _, a := range r.Anomalies {
		if a.Deviation > max {
			max = a.Deviation
		}
	}
	return max
}
