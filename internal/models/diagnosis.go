package models

// DiagnosisType is the closed set of failure categories the diagnostician
// can assign. Healing policy ladders are keyed by these values.
type DiagnosisType string

const (
	DiagnosisPromptDrift        DiagnosisType = "prompt_drift"
	DiagnosisInfiniteLoop       DiagnosisType = "infinite_loop"
	DiagnosisToolInstability    DiagnosisType = "tool_instability"
	DiagnosisLatencyDegradation DiagnosisType = "latency_degradation"
	DiagnosisGenericAnomaly     DiagnosisType = "generic_anomaly"
)

// DiagnosisTypes lists every category, in rule-table order.
func DiagnosisTypes() []DiagnosisType {
	return []DiagnosisType{
		DiagnosisPromptDrift,
		DiagnosisInfiniteLoop,
		DiagnosisToolInstability,
		DiagnosisLatencyDegradation,
		DiagnosisGenericAnomaly,
	}
}

// Diagnosis is the classification of an infection report's anomaly pattern.
type Diagnosis struct {
	Type       DiagnosisType `json:"type"`
	Reasoning  string        `json:"reasoning"`
	Confidence float64       `json:"confidence"`
}
