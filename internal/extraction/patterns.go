package extraction

import (
	"fmt"
	"regexp"
)

// Regex fragments shared by the default rules. Text is lowercased and
// whitespace collapsed before matching.
const (
	currencyRequired = `(?:€|eur|£|gbp|\$)\s*`
	currencyOptional = `(?:€|eur|£|gbp|\$)?\s*`
	number           = `(-?[0-9][0-9,]*(?:\.[0-9]{1,2})?)`
	numberCents      = `([0-9][0-9,]*\.[0-9]{2})(?:[^%0-9]|$)`
	ratePct          = `[0-9]+(?:\.[0-9]+)?\s*%`
)

// PatternRule is one entry of the pattern table
type PatternRule struct {
	Name     string
	Priority int
	Regexp   *regexp.Regexp
	// Group is the submatch index holding the amount
	Group int
}

// Extract parses the amount captured by the rule
func (r PatternRule) Extract(match []string) (float64, bool) {
	if r.Group <= 0 || r.Group >= len(match) {
		return 0, false
	}
	return ParseAmountFloat(match[r.Group])
}

// NewPatternRule compiles a rule
func NewPatternRule(name string, priority int, expr string, group int) (PatternRule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return PatternRule{}, fmt.Errorf("failed to compile pattern %s: %w", name, err)
	}
	if group < 1 || group > re.NumSubexp() {
		return PatternRule{}, fmt.Errorf("pattern %s: group %d out of range (pattern has %d)", name, group, re.NumSubexp())
	}
	return PatternRule{Name: name, Priority: priority, Regexp: re, Group: group}, nil
}

// DefaultRules returns the built-in pattern table, best priority first
func DefaultRules() []PatternRule {
	return []PatternRule{
		mustRule("vat_rate_colon", 1, `\bvat\s*\(\s*`+ratePct+`\s*\)\s*:?\s*`+currencyOptional+number),
		mustRule("vat_amount_label", 1, `\bvat\s+amount\s*:?\s*`+currencyOptional+number),
		mustRule("total_vat", 1, `\btotal\s+vat(?:\s+amount)?\s*:?\s*`+currencyOptional+number),
		mustRule("rate_pct_vat", 2, ratePct+`\s*vat\s*:?\s*`+currencyRequired+number),
		mustRule("vat_colon", 2, `\bvat\s*:\s*`+currencyOptional+number),
		mustRule("tax_amount", 3, `\btax\s+amount\s*:?\s*`+currencyOptional+number),
		mustRule("vat_bare_number", 4, `\bvat\s+`+numberCents),
		mustRule("tax_bare_number", 5, `\btax\s+`+numberCents),
	}
}

func mustRule(name string, priority int, expr string) PatternRule {
	rule, err := NewPatternRule(name, priority, expr, 1)
	if err != nil {
		panic(err)
	}
	return rule
}
