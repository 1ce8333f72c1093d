package models

import "time"

// MetricStats holds the learned distribution of a single metric.
type MetricStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// BaselineProfile is an agent's learned behavioural envelope. It is computed
// once per agent after the warmup threshold and stays fixed until explicitly
// reset.
type BaselineProfile struct {
	AgentID     string                 `json:"agent_id"`
	Stats       map[Metric]MetricStats `json:"stats"`
	SampleCount int                    `json:"sample_count"`
	LearnedAt   time.Time              `json:"learned_at"`
}
