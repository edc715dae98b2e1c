package extraction

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// valueTolerance is the distance under which two amounts are the same value
const valueTolerance = 0.01

// PatternStrategy evaluates the pattern table over normalized document text
type PatternStrategy struct {
	mu    sync.RWMutex
	rules []PatternRule
}

// NewPatternStrategy creates the strategy. A nil or empty table uses DefaultRules.
func NewPatternStrategy(rules []PatternRule) *PatternStrategy {
	s := &PatternStrategy{}
	s.SetRules(rules)
	return s
}

// Name returns the strategy name
func (s *PatternStrategy) Name() string { return entity.StrategyPattern }

// SetRules swaps the pattern table, e.g. after a tuning reload
func (s *PatternStrategy) SetRules(rules []PatternRule) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

// Rules returns the active pattern table
func (s *PatternStrategy) Rules() []PatternRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Extract collects every rule match, merges equal values and orders the
// candidates by priority then value.
func (s *PatternStrategy) Extract(_ context.Context, in *Input) entity.StrategyOutcome {
	if strings.TrimSpace(in.Text) == "" {
		return emptyOutcome(s.Name(), "no text to scan")
	}

	text := NormalizeText(in.Text)
	var (
		candidates []entity.CandidateAmount
		agreements = map[int]map[string]bool{}
		spans      = map[int][][2]int{}
	)

	for _, rule := range s.Rules() {
		for _, idx := range rule.Regexp.FindAllStringSubmatchIndex(text, -1) {
			end := idx[2*rule.Group+1]
			if end < 0 || (end < len(text) && text[end] == '%') {
				continue
			}
			match := submatches(text, idx)
			value, ok := rule.Extract(match)
			if !ok || value == 0 {
				continue
			}

			span := [2]int{idx[2*rule.Group], end}
			if i := indexOfValue(candidates, value); i >= 0 {
				// Two rules reading the same printed amount do not agree
				if !overlapsAny(spans[i], span) {
					spans[i] = append(spans[i], span)
					if agreements[i] == nil {
						agreements[i] = map[string]bool{candidates[i].SourcePattern: true}
					}
					agreements[i][rule.Name] = true
				}
				if rule.Priority < candidates[i].Priority {
					candidates[i].Priority = rule.Priority
					candidates[i].SourcePattern = rule.Name
				}
				continue
			}
			spans[len(candidates)] = [][2]int{span}
			candidates = append(candidates, entity.CandidateAmount{
				Value:         value,
				SourcePattern: rule.Name,
				Priority:      rule.Priority,
				Strategy:      s.Name(),
			})
		}
	}

	if len(candidates) == 0 {
		return emptyOutcome(s.Name(), "no vat pattern matched")
	}

	// Agreement counts follow the candidate they were recorded for
	extra := make(map[float64]int, len(agreements))
	for i, rules := range agreements {
		extra[candidates[i].Value] = len(rules) - 1
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Value > candidates[j].Value
	})

	best := candidates[0]
	return entity.StrategyOutcome{
		Strategy:   s.Name(),
		Status:     entity.OutcomeClaimed,
		Candidates: candidates,
		Agreements: extra[best.Value],
		Reasons: []string{fmt.Sprintf("%d candidate(s), best from %s (priority %d)",
			len(candidates), best.SourcePattern, best.Priority)},
	}
}

// NormalizeText lowercases and collapses every whitespace run to one space
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func indexOfValue(candidates []entity.CandidateAmount, value float64) int {
	for i, c := range candidates {
		if math.Abs(c.Value-value) <= valueTolerance {
			return i
		}
	}
	return -1
}

func overlapsAny(spans [][2]int, s [2]int) bool {
	for _, o := range spans {
		if s[0] < o[1] && o[0] < s[1] {
			return true
		}
	}
	return false
}

func submatches(text string, idx []int) []string {
	match := make([]string, len(idx)/2)
	for i := range match {
		if idx[2*i] >= 0 {
			match[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return match
}
