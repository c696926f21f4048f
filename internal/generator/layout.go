package generator

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LineConfig describes one production line: its machines and the base
// levels its sensor readings fluctuate around.
type LineConfig struct {
	Machines      []string `yaml:"machines"`
	BaseTemp      float64  `yaml:"base_temp"`
	BaseVibration float64  `yaml:"base_vibration"`
	BaseEnergy    float64  `yaml:"base_energy"`
}

// Layout maps line ids to their configuration.
type Layout map[string]LineConfig

// DefaultLayout returns the built-in three-line factory.
func DefaultLayout() Layout {
	return Layout{
		"line-01": {
			Machines:      []string{"cnc-01", "cnc-02", "robot-arm-01"},
			BaseTemp:      45.0,
			BaseVibration: 2.5,
			BaseEnergy:    15.0,
		},
		"line-02": {
			Machines:      []string{"press-01", "conveyor-01", "robot-arm-02"},
			BaseTemp:      50.0,
			BaseVibration: 3.0,
			BaseEnergy:    25.0,
		},
		"line-03": {
			Machines:      []string{"welder-01", "welder-02", "inspection-01"},
			BaseTemp:      60.0,
			BaseVibration: 1.8,
			BaseEnergy:    35.0,
		},
	}
}

// LoadLayout reads a layout from a YAML file, or returns the default
// layout when path is empty.
func LoadLayout(path string) (Layout, error) {
	if path == "" {
		return DefaultLayout(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("generator: read layout: %w", err)
	}
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("generator: parse layout: %w", err)
	}
	if err := layout.validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

func (l Layout) validate() error {
	if len(l) == 0 {
		return errors.New("generator: empty layout")
	}
	for lineID, line := range l {
		if len(line.Machines) == 0 {
			return fmt.Errorf("generator: line %s has no machines", lineID)
		}
	}
	return nil
}
