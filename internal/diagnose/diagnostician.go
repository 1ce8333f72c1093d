// Package diagnose maps anomaly signatures to failure categories.
package diagnose

import (
	"fmt"

	"github.com/wardenstack/fleet-warden/internal/models"
)

// Diagnostician classifies infection reports with an ordered, first-match
// rule table over the anomalous metric set. Classification is deterministic
// and total: every report gets a category.
type Diagnostician struct{}

// NewDiagnostician creates a Diagnostician.
func NewDiagnostician() *Diagnostician {
	return &Diagnostician{}
}

// Classify derives a diagnosis from the report's anomaly set.
func (d *Diagnostician) Classify(report models.InfectionReport) models.Diagnosis {
	tokens := report.HasAnomaly(models.MetricTokens)
	tools := report.HasAnomaly(models.MetricToolCalls)
	retries := report.HasAnomaly(models.MetricRetries)
	latency := report.HasAnomaly(models.MetricLatency)

	switch {
	case tokens && tools:
		return models.Diagnosis{
			Type:       models.DiagnosisPromptDrift,
			Reasoning:  "token usage and tool-call volume drifted together, consistent with a degraded prompt",
			Confidence: 0.9,
		}
	case tools:
		return models.Diagnosis{
			Type:       models.DiagnosisInfiniteLoop,
			Reasoning:  "tool-call volume exploded without matching token growth, consistent with a call loop",
			Confidence: 0.85,
		}
	case retries:
		return models.Diagnosis{
			Type:       models.DiagnosisToolInstability,
			Reasoning:  "retry rate left the envelope, pointing at an unstable downstream tool",
			Confidence: 0.8,
		}
	case latency && len(report.Anomalies) == 1:
		return models.Diagnosis{
			Type:       models.DiagnosisLatencyDegradation,
			Reasoning:  "latency alone degraded while other metrics stayed normal",
			Confidence: 0.8,
		}
	default:
		return models.Diagnosis{
			Type:       models.DiagnosisGenericAnomaly,
			Reasoning:  fmt.Sprintf("anomaly pattern (%d metrics) matches no specific signature", len(report.Anomalies)),
			Confidence: 0.5,
		}
	}
}
