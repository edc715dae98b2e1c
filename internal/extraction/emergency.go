package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

const (
	// keywordWindow is the largest distance between an amount and a VAT keyword
	keywordWindow = 60
	// minPrintableRun filters noise when scavenging text from raw bytes
	minPrintableRun = 4
	// EmergencyConfidence is the confidence reported for an emergency match
	EmergencyConfidence = 0.3
)

var (
	emergencyAmount   = regexp.MustCompile(`(?:€|eur|£|\$)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	emergencyKeywords = regexp.MustCompile(`\b(?:vat|tax)\b|cáin`)
)

// EmergencyStrategy scavenges a currency amount next to a VAT keyword from
// whatever text can be recovered
type EmergencyStrategy struct{}

// NewEmergencyStrategy creates the emergency strategy
func NewEmergencyStrategy() *EmergencyStrategy {
	return &EmergencyStrategy{}
}

// Name returns the strategy name
func (s *EmergencyStrategy) Name() string { return entity.StrategyEmergency }

// Extract picks the currency amount closest to a VAT keyword. Ties go to the larger value.
func (s *EmergencyStrategy) Extract(_ context.Context, in *Input) entity.StrategyOutcome {
	text := in.Text
	source := "decoded text"
	if strings.TrimSpace(text) == "" {
		text = PrintableRuns(in.Document.Content, minPrintableRun)
		source = "raw bytes"
	}
	text = NormalizeText(text)
	if text == "" {
		return emptyOutcome(s.Name(), "no recoverable text")
	}

	keywords := emergencyKeywords.FindAllStringIndex(text, -1)
	if len(keywords) == 0 {
		return emptyOutcome(s.Name(), "no vat keyword in recoverable text")
	}

	var (
		found     bool
		bestValue float64
		bestDist  int
	)
	for _, m := range emergencyAmount.FindAllStringSubmatchIndex(text, -1) {
		value, ok := ParseAmountFloat(text[m[2]:m[3]])
		if !ok || value == 0 {
			continue
		}
		dist := nearestKeyword(m[0], m[1], keywords)
		if dist > keywordWindow {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && value > bestValue) {
			found, bestValue, bestDist = true, value, dist
		}
	}

	if !found {
		return emptyOutcome(s.Name(), "no currency amount near a vat keyword")
	}

	return entity.StrategyOutcome{
		Strategy: s.Name(),
		Status:   entity.OutcomeClaimed,
		Candidates: []entity.CandidateAmount{{
			Value:         bestValue,
			SourcePattern: "currency_near_keyword",
			Priority:      99,
			Strategy:      s.Name(),
		}},
		Confidence:   EmergencyConfidence,
		DecodeFailed: in.DecodeFailed,
		Reasons:      []string{fmt.Sprintf("emergency match in %s, %d chars from keyword", source, bestDist)},
	}
}

// nearestKeyword returns the gap between [start,end) and the closest keyword span
func nearestKeyword(start, end int, keywords [][]int) int {
	best := -1
	for _, k := range keywords {
		var d int
		switch {
		case k[1] <= start:
			d = start - k[1]
		case k[0] >= end:
			d = k[0] - end
		default:
			d = 0
		}
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// PrintableRuns returns the runs of printable characters of at least minRun
// runes found in raw bytes, joined by spaces
func PrintableRuns(content []byte, minRun int) string {
	var (
		out strings.Builder
		run strings.Builder
		n   int
	)
	flush := func() {
		if n >= minRun {
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(run.String())
		}
		run.Reset()
		n = 0
	}

	for len(content) > 0 {
		r, size := utf8.DecodeRune(content)
		content = content[size:]
		if r == utf8.RuneError && size <= 1 {
			flush()
			continue
		}
		if unicode.IsPrint(r) {
			run.WriteRune(r)
			n++
			continue
		}
		flush()
	}
	flush()
	return out.String()
}
