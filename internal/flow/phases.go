package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"migration-discovery/backend/pkg/models"
)

// PhaseConfig holds the ordered phase sequence per flow type. Phase ordering
// always comes from here; it is never inferred from result-map iteration.
type PhaseConfig struct {
	sequences map[models.FlowType][]string
}

// Default phase names for the discovery flow type.
const (
	PhaseDataImport        = "data_import"
	PhaseReadiness         = "readiness"
	PhaseComplexity        = "complexity"
	PhaseDependencyMapping = "dependency_mapping"
	PhaseDataCleansing     = "data_cleansing"
	PhaseWavePlanning      = "wave_planning"
)

// DefaultPhaseConfig returns the built-in flow type table.
func DefaultPhaseConfig() *PhaseConfig {
	return &PhaseConfig{
		sequences: map[models.FlowType][]string{
			models.FlowTypeDiscovery: {
				PhaseDataImport,
				PhaseReadiness,
				PhaseComplexity,
				PhaseDependencyMapping,
				PhaseDataCleansing,
				PhaseWavePlanning,
			},
		},
	}
}

// phaseConfigFile is the YAML layout for overriding phase sequences.
type phaseConfigFile struct {
	FlowTypes map[string][]string `yaml:"flow_types"`
}

// LoadPhaseConfig reads flow-type sequences from a YAML file, starting from
// the built-in defaults. Types present in the file replace the default
// sequence for that type.
func LoadPhaseConfig(path string) (*PhaseConfig, error) {
	cfg := DefaultPhaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase config: %w", err)
	}

	var file phaseConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse phase config: %w", err)
	}

	for name, phases := range file.FlowTypes {
		if len(phases) == 0 {
			return nil, fmt.Errorf("flow type %q has an empty phase sequence", name)
		}
		seen := make(map[string]bool, len(phases))
		for _, p := range phases {
			if seen[p] {
				return nil, fmt.Errorf("flow type %q repeats phase %q", name, p)
			}
			seen[p] = true
		}
		cfg.sequences[models.FlowType(name)] = phases
	}

	return cfg, nil
}

// Sequence returns the ordered phase names for a flow type.
func (c *PhaseConfig) Sequence(ft models.FlowType) ([]string, error) {
	seq, ok := c.sequences[ft]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlowType, ft)
	}
	return seq, nil
}

// HasPhase reports whether the flow type's sequence contains the phase.
func (c *PhaseConfig) HasPhase(ft models.FlowType, phase string) bool {
	seq, err := c.Sequence(ft)
	if err != nil {
		return false
	}
	for _, p := range seq {
		if p == phase {
			return true
		}
	}
	return false
}

// TerminalPhase returns the last phase of the flow type's sequence.
func (c *PhaseConfig) TerminalPhase(ft models.FlowType) (string, error) {
	seq, err := c.Sequence(ft)
	if err != nil {
		return "", err
	}
	return seq[len(seq)-1], nil
}
