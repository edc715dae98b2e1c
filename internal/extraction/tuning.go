package extraction

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// DefaultAcceptableConfidence is the bar an outcome must reach to stop the chain
const DefaultAcceptableConfidence = 0.6

// RuleSpec is a pattern rule as stored in the tuning file
type RuleSpec struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Regex    string `yaml:"regex"`
	Group    int    `yaml:"group"`
}

// Variant is a named ordering of the tabular, pattern and external strategies
type Variant struct {
	Name  string   `yaml:"name"`
	Order []string `yaml:"order"`
}

// Tuning is the output of the offline tuning process
type Tuning struct {
	AcceptableConfidence float64    `yaml:"acceptable_confidence"`
	Patterns             []RuleSpec `yaml:"patterns"`
	Variants             []Variant  `yaml:"variants"`
}

// DefaultVariant is the strategy order used when no variants are configured
func DefaultVariant() Variant {
	return Variant{
		Name:  "control",
		Order: []string{entity.StrategyTabular, entity.StrategyPattern, entity.StrategyExternal},
	}
}

// DefaultTuning returns the built-in tuning
func DefaultTuning() *Tuning {
	return &Tuning{
		AcceptableConfidence: DefaultAcceptableConfidence,
		Variants:             []Variant{DefaultVariant()},
	}
}

// LoadTuning reads a tuning file. A missing file yields the defaults.
func LoadTuning(path string) (*Tuning, error) {
	if path == "" {
		return DefaultTuning(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultTuning(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tuning file: %w", err)
	}

	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing tuning file: %w", err)
	}
	if t.AcceptableConfidence == 0 {
		t.AcceptableConfidence = DefaultAcceptableConfidence
	}
	if len(t.Variants) == 0 {
		t.Variants = []Variant{DefaultVariant()}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks confidence bounds and that every variant orders known strategies exactly once
func (t *Tuning) Validate() error {
	if t.AcceptableConfidence <= 0 || t.AcceptableConfidence > 1 {
		return fmt.Errorf("acceptable_confidence must be in (0, 1], got %.2f", t.AcceptableConfidence)
	}
	known := map[string]bool{
		entity.StrategyTabular:  true,
		entity.StrategyPattern:  true,
		entity.StrategyExternal: true,
	}
	for _, v := range t.Variants {
		if v.Name == "" {
			return fmt.Errorf("variant without a name")
		}
		seen := map[string]bool{}
		for _, name := range v.Order {
			if !known[name] {
				return fmt.Errorf("variant %s: unknown strategy %q", v.Name, name)
			}
			if seen[name] {
				return fmt.Errorf("variant %s: strategy %q listed twice", v.Name, name)
			}
			seen[name] = true
		}
	}
	_, err := t.Rules()
	return err
}

// Rules compiles the pattern table. An empty table yields DefaultRules.
func (t *Tuning) Rules() ([]PatternRule, error) {
	if len(t.Patterns) == 0 {
		return DefaultRules(), nil
	}
	rules := make([]PatternRule, 0, len(t.Patterns))
	for _, rs := range t.Patterns {
		group := rs.Group
		if group == 0 {
			group = 1
		}
		rule, err := NewPatternRule(rs.Name, rs.Priority, rs.Regex, group)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
