package extraction

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencyTokens = []string{"€", "eur", "£", "gbp", "$", "usd"}

// ParseAmount parses a monetary cell or match. Currency symbols, spaces and
// thousands separators are ignored; parentheses or a leading minus mark a
// negative value.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	for _, token := range currencyTokens {
		s = strings.ReplaceAll(s, token, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	if s == "" || s == "." {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// ParseAmountFloat is ParseAmount returning a float rounded to cents
func ParseAmountFloat(raw string) (float64, bool) {
	d, ok := ParseAmount(raw)
	if !ok {
		return 0, false
	}
	return d.Round(2).InexactFloat64(), true
}
