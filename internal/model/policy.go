package model

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// PolicyTables are the data tables behind gate and reason rules
type PolicyTables struct {
	TrustedDomains          []string            `yaml:"trusted_domains" mapstructure:"trusted_domains"`
	TranslationPlaceholders []string            `yaml:"translation_placeholders" mapstructure:"translation_placeholders"`
	CriticalGates           []string            `yaml:"critical_gates" mapstructure:"critical_gates"`
	DQAFDimensions          []string            `yaml:"dqaf_dimensions" mapstructure:"dqaf_dimensions"`
	DQAFGoodRatings         []string            `yaml:"dqaf_good_ratings" mapstructure:"dqaf_good_ratings"`
	GradeScores             map[string]int      `yaml:"grade_scores" mapstructure:"grade_scores"`
	ExchangeRateIndicators  []string            `yaml:"exchange_rate_indicators" mapstructure:"exchange_rate_indicators"`
	SurveyIndicators        []string            `yaml:"survey_indicators" mapstructure:"survey_indicators"`
	AmbiguousRegimes        []string            `yaml:"ambiguous_regimes" mapstructure:"ambiguous_regimes"`
	SectorKeywords          map[string][]string `yaml:"sector_keywords" mapstructure:"sector_keywords"`
}

// DefaultPolicyTables returns the embedded tables
func DefaultPolicyTables() PolicyTables {
	tables, err := ParsePolicyTables(defaultPolicyYAML)
	if err != nil {
		// The embedded file is part of the build
		panic(fmt.Sprintf("embedded policy tables: %v", err))
	}
	return tables
}

// ParsePolicyTables decodes tables from YAML
func ParsePolicyTables(data []byte) (PolicyTables, error) {
	var tables PolicyTables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return PolicyTables{}, fmt.Errorf("parse policy tables: %w", err)
	}
	return tables, nil
}

// LoadPolicyTables reads tables from a YAML file, falling back to defaults for empty tables
func LoadPolicyTables(path string) (PolicyTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyTables{}, fmt.Errorf("read policy tables: %w", err)
	}
	tables, err := ParsePolicyTables(data)
	if err != nil {
		return PolicyTables{}, err
	}
	return tables.Merge(DefaultPolicyTables()), nil
}

// Merge fills empty tables in p from defaults
func (p PolicyTables) Merge(defaults PolicyTables) PolicyTables {
	if len(p.TrustedDomains) == 0 {
		p.TrustedDomains = defaults.TrustedDomains
	}
	if len(p.TranslationPlaceholders) == 0 {
		p.TranslationPlaceholders = defaults.TranslationPlaceholders
	}
	if len(p.CriticalGates) == 0 {
		p.CriticalGates = defaults.CriticalGates
	}
	if len(p.DQAFDimensions) == 0 {
		p.DQAFDimensions = defaults.DQAFDimensions
	}
	if len(p.DQAFGoodRatings) == 0 {
		p.DQAFGoodRatings = defaults.DQAFGoodRatings
	}
	if len(p.GradeScores) == 0 {
		p.GradeScores = defaults.GradeScores
	}
	if len(p.ExchangeRateIndicators) == 0 {
		p.ExchangeRateIndicators = defaults.ExchangeRateIndicators
	}
	if len(p.SurveyIndicators) == 0 {
		p.SurveyIndicators = defaults.SurveyIndicators
	}
	if len(p.AmbiguousRegimes) == 0 {
		p.AmbiguousRegimes = defaults.AmbiguousRegimes
	}
	if len(p.SectorKeywords) == 0 {
		p.SectorKeywords = defaults.SectorKeywords
	}
	return p
}

// Normalize upper-cases grade keys. Config loaders may fold map keys to lower case.
func (p PolicyTables) Normalize() PolicyTables {
	if len(p.GradeScores) == 0 {
		return p
	}
	scores := make(map[string]int, len(p.GradeScores))
	for grade, score := range p.GradeScores {
		scores[strings.ToUpper(grade)] = score
	}
	p.GradeScores = scores
	return p
}
