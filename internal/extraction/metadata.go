package extraction

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

var (
	totalPattern     = regexp.MustCompile(`\b(?:invoice\s+total|total\s+due|amount\s+due|grand\s+total|total)\s*(?:\(?incl\.?\s*vat\)?)?\s*:?\s*` + currencyOptional + `([0-9][0-9,]*\.[0-9]{2})`)
	netPattern       = regexp.MustCompile(`\b(?:net\s+amount|net\s+total|subtotal|sub-total|sub\s+total|net)\s*:?\s*` + currencyOptional + `([0-9][0-9,]*\.[0-9]{2})`)
	ratePattern      = regexp.MustCompile(`([0-9]{1,2}(?:\.[0-9]{1,2})?)\s*%`)
	vatNumberPattern = regexp.MustCompile(`\b(ie\s?[0-9]{7}[a-z]{1,2})\b`)
	isoDatePattern   = regexp.MustCompile(`\b([0-9]{4}-[0-9]{2}-[0-9]{2})\b`)
	dmyDatePattern   = regexp.MustCompile(`\b([0-9]{1,2})[/.]([0-9]{1,2})[/.]([0-9]{4})\b`)
)

// ExtractMetadata recovers document facts used by fingerprinting and
// compliance checks. Fields that cannot be found are left empty.
func ExtractMetadata(raw string, vatAmounts []float64) entity.ExtractedMetadata {
	meta := entity.ExtractedMetadata{}
	if len(vatAmounts) > 0 {
		meta.VATAmounts = append([]float64(nil), vatAmounts...)
	}

	text := NormalizeText(raw)
	if text == "" {
		return meta
	}

	if m := totalPattern.FindStringSubmatch(text); m != nil {
		if v, ok := ParseAmountFloat(m[1]); ok {
			meta.InvoiceTotal = &v
		}
	}
	if m := netPattern.FindStringSubmatch(text); m != nil {
		if v, ok := ParseAmountFloat(m[1]); ok {
			meta.NetAmount = &v
		}
	}
	if m := vatNumberPattern.FindStringSubmatch(text); m != nil {
		meta.VATNumber = strings.ToUpper(strings.ReplaceAll(m[1], " ", ""))
	}

	meta.InvoiceDate = findDate(text)
	meta.VATRates = findRates(text)
	meta.Currency = detectCurrency(text)
	meta.SupplierName = firstNameLine(raw)
	return meta
}

func findDate(text string) *time.Time {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse(time.DateOnly, m[1]); err == nil {
			return &t
		}
	}
	if m := dmyDatePattern.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			// Reject dates time.Date normalized, such as 31/02
			if t.Day() == day {
				return &t
			}
		}
	}
	return nil
}

// findRates collects percentages mentioned next to a VAT keyword
func findRates(text string) []float64 {
	seen := map[float64]bool{}
	var rates []float64
	for _, m := range ratePattern.FindAllStringSubmatchIndex(text, -1) {
		lo := max(0, m[0]-20)
		hi := min(len(text), m[1]+20)
		window := text[lo:hi]
		if !strings.Contains(window, "vat") && !strings.Contains(window, "tax") {
			continue
		}
		v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil || seen[v] {
			continue
		}
		seen[v] = true
		rates = append(rates, v)
	}
	sort.Float64s(rates)
	return rates
}

func detectCurrency(text string) string {
	switch {
	case strings.Contains(text, "€") || strings.Contains(text, "eur"):
		return "EUR"
	case strings.Contains(text, "£") || strings.Contains(text, "gbp"):
		return "GBP"
	case strings.Contains(text, "$") || strings.Contains(text, "usd"):
		return "USD"
	}
	return ""
}

// firstNameLine takes the first short line made of words only, which on most
// invoices is the supplier's name
func firstNameLine(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > 80 || strings.ContainsAny(line, "0123456789:€£$@,\t") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "invoice") || strings.Contains(lower, "receipt") {
			continue
		}
		return line
	}
	return ""
}
