// Package reliability runs the regression battery through the tribunal and gates deployment on the result.
package reliability

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/evidencegate/internal/model"
)

//go:embed battery.yaml
var defaultBatteryYAML []byte

// DefaultBattery returns the embedded test battery
func DefaultBattery() ([]model.ReliabilityTest, error) {
	return ParseBattery(defaultBatteryYAML)
}

// LoadBattery reads a battery from a YAML file
func LoadBattery(path string) ([]model.ReliabilityTest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read battery: %w", err)
	}
	return ParseBattery(data)
}

// ParseBattery decodes and checks a battery. Names must be unique and patterns must compile.
func ParseBattery(data []byte) ([]model.ReliabilityTest, error) {
	var tests []model.ReliabilityTest
	if err := yaml.Unmarshal(data, &tests); err != nil {
		return nil, fmt.Errorf("parse battery: %w", err)
	}

	seen := make(map[string]bool, len(tests))
	for i := range tests {
		t := &tests[i]
		t.TestName = strings.TrimSpace(t.TestName)
		if t.TestName == "" || strings.TrimSpace(t.Question) == "" {
			return nil, fmt.Errorf("battery entry %d: name and question are required", i+1)
		}
		if seen[t.TestName] {
			return nil, fmt.Errorf("battery entry %d: duplicate test name %q", i+1, t.TestName)
		}
		seen[t.TestName] = true
		if t.ExpectedPattern != "" {
			if _, err := regexp.Compile(t.ExpectedPattern); err != nil {
				return nil, fmt.Errorf("battery entry %q: invalid pattern: %w", t.TestName, err)
			}
		}
		switch t.Difficulty {
		case model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard:
		case "":
			t.Difficulty = model.DifficultyMedium
		default:
			return nil, fmt.Errorf("battery entry %q: unknown difficulty %q", t.TestName, t.Difficulty)
		}
		if t.ExpectedSources == nil {
			t.ExpectedSources = []string{}
		}
		t.Active = true
	}
	return tests, nil
}
