package healing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wardenstack/fleet-warden/internal/models"
)

// PolicySet maps each diagnosis to its ordered remediation ladder. The set
// is immutable after construction; ladders are tried first-to-last.
type PolicySet struct {
	ladders map[models.DiagnosisType][]models.HealingAction
}

// policyFile is the YAML root structure for ladder overrides.
type policyFile struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	Diagnosis models.DiagnosisType   `yaml:"diagnosis"`
	Actions   []models.HealingAction `yaml:"actions"`
}

// DefaultPolicies returns the built-in ladders.
func DefaultPolicies() *PolicySet {
	return &PolicySet{ladders: map[models.DiagnosisType][]models.HealingAction{
		models.DiagnosisPromptDrift: {
			models.ActionResetMemory,
			models.ActionRollbackPrompt,
			models.ActionReduceAutonomy,
			models.ActionCloneAgent,
		},
		models.DiagnosisInfiniteLoop: {
			models.ActionReduceAutonomy,
			models.ActionResetMemory,
			models.ActionCloneAgent,
		},
		models.DiagnosisToolInstability: {
			models.ActionReduceAutonomy,
			models.ActionRollbackPrompt,
			models.ActionCloneAgent,
		},
		models.DiagnosisLatencyDegradation: {
			models.ActionResetMemory,
			models.ActionReduceAutonomy,
			models.ActionCloneAgent,
		},
		models.DiagnosisGenericAnomaly: {
			models.ActionResetMemory,
			models.ActionRollbackPrompt,
			models.ActionReduceAutonomy,
			models.ActionCloneAgent,
		},
	}}
}

// LoadPolicies reads ladder overrides from a YAML pack and merges them over
// the defaults. An empty path or a missing file yields the defaults.
func LoadPolicies(path string, logger *slog.Logger) (*PolicySet, error) {
	set := DefaultPolicies()
	if path == "" {
		return set, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return set, nil
		}
		return nil, err
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	for _, entry := range file.Policies {
		if entry.Diagnosis == "" || len(entry.Actions) == 0 {
			continue
		}
		ladder := make([]models.HealingAction, 0, len(entry.Actions))
		for _, action := range entry.Actions {
			if !models.KnownAction(action) {
				logger.Warn("policy pack names unknown action",
					slog.String("diagnosis", string(entry.Diagnosis)),
					slog.String("action", string(action)))
				continue
			}
			ladder = append(ladder, action)
		}
		if len(ladder) > 0 {
			set.ladders[entry.Diagnosis] = ladder
		}
	}
	return set, nil
}

// Ladder returns a copy of the ladder for the diagnosis, falling back to the
// generic ladder for unknown categories so lookup is total.
func (p *PolicySet) Ladder(diagnosis models.DiagnosisType) []models.HealingAction {
	ladder, ok := p.ladders[diagnosis]
	if !ok {
		ladder = p.ladders[models.DiagnosisGenericAnomaly]
	}
	return append([]models.HealingAction(nil), ladder...)
}
