package extraction

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// headerScanRows bounds how far down a sheet the header row is searched for
const headerScanRows = 10

var (
	taxTokens    = map[string]bool{"tax": true, "vat": true}
	amountTokens = map[string]bool{"amt": true, "amount": true, "total": true, "value": true}
	// Gross or net columns mention VAT without holding it
	excludedTokens = map[string]bool{
		"incl": true, "including": true, "inc": true, "excl": true, "excluding": true,
		"ex": true, "gross": true, "net": true, "rate": true,
	}
	totalRowLabels = map[string]bool{"total": true, "totals": true, "subtotal": true, "grand total": true, "sub total": true}
)

// TabularStrategy sums VAT columns of CSV, XLSX and HTML exports
type TabularStrategy struct{}

// NewTabularStrategy creates the tabular strategy
func NewTabularStrategy() *TabularStrategy {
	return &TabularStrategy{}
}

// Name returns the strategy name
func (s *TabularStrategy) Name() string { return entity.StrategyTabular }

// Extract sums the VAT amount columns of the first table holding a non-zero
// value in one
func (s *TabularStrategy) Extract(_ context.Context, in *Input) entity.StrategyOutcome {
	if len(in.Tables) == 0 {
		return emptyOutcome(s.Name(), "no tabular data")
	}

	reason := "no vat amount column found"
	for _, table := range in.Tables {
		headerIdx, columns := findVATColumns(table.Rows)
		if len(columns) == 0 {
			continue
		}

		sum, seen := sumColumns(table.Rows[headerIdx+1:], columns)
		if !seen {
			reason = fmt.Sprintf("vat columns in %s hold no non-zero values", table.Source)
			continue
		}

		names := make([]string, len(columns))
		for i, c := range columns {
			names[i] = strings.TrimSpace(table.Rows[headerIdx][c])
		}

		value := sum.Round(2).InexactFloat64()
		return entity.StrategyOutcome{
			Strategy: s.Name(),
			Status:   entity.OutcomeClaimed,
			Candidates: []entity.CandidateAmount{{
				Value:         value,
				SourcePattern: "columns:" + strings.Join(names, "+"),
				Priority:      0,
				Strategy:      s.Name(),
			}},
			Reasons: []string{fmt.Sprintf("summed %d vat column(s) in %s", len(columns), table.Source)},
		}
	}

	return emptyOutcome(s.Name(), reason)
}

// IsVATAmountHeader reports whether a header cell names a VAT amount column
func IsVATAmountHeader(cell string) bool {
	tokens := headerTokens(cell)
	hasTax, hasAmount := false, false
	for _, t := range tokens {
		if excludedTokens[t] {
			return false
		}
		hasTax = hasTax || taxTokens[t]
		hasAmount = hasAmount || amountTokens[t]
	}
	return hasTax && hasAmount
}

func findVATColumns(rows [][]string) (int, []int) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		var columns []int
		for j, cell := range rows[i] {
			if IsVATAmountHeader(cell) {
				columns = append(columns, j)
			}
		}
		if len(columns) > 0 {
			return i, columns
		}
	}
	return 0, nil
}

func sumColumns(rows [][]string, columns []int) (decimal.Decimal, bool) {
	sum := decimal.Zero
	seen := false
	for _, row := range rows {
		if isTotalRow(row) {
			continue
		}
		for _, c := range columns {
			if c >= len(row) {
				continue
			}
			v, ok := ParseAmount(row[c])
			if !ok {
				continue
			}
			if !v.IsZero() {
				seen = true
			}
			sum = sum.Add(v)
		}
	}
	return sum, seen
}

func isTotalRow(row []string) bool {
	for _, cell := range row {
		label := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cell), ":")))
		if label == "" {
			continue
		}
		return totalRowLabels[label]
	}
	return false
}

func headerTokens(cell string) []string {
	return strings.FieldsFunc(strings.ToLower(cell), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
