// Package compliance checks extracted VAT data against Irish Revenue rules.
// Violations are reported as data on the returned reports, never as errors.
package compliance

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// Irish VAT constants
const (
	DefaultCountryPrefix    = "IE"
	DefaultExpectedCurrency = "EUR"
	// rateNearTolerance is how far a rate may sit from a standard rate to be treated as a rounding slip
	rateNearTolerance = 0.5
	// calculationTolerance is the accepted rounding difference on a VAT calculation
	calculationTolerance = 0.02
	futureDateLimitDays  = 30
)

// StandardRates is the Irish VAT rate set
var StandardRates = []float64{0, 13.5, 23}

// nearRates are the standard rates a rounding slip is measured against
var nearRates = []float64{13.5, 23}

var placeholderCheckLetters = map[string]bool{"A": true, "AA": true, "X": true, "XX": true}

// Config controls validation
type Config struct {
	CountryPrefix    string    `mapstructure:"country_prefix"`
	ExpectedCurrency string    `mapstructure:"expected_currency"`
	ExtraRates       []float64 `mapstructure:"extra_rates"`
}

// DefaultConfig returns the Irish defaults
func DefaultConfig() Config {
	return Config{
		CountryPrefix:    DefaultCountryPrefix,
		ExpectedCurrency: DefaultExpectedCurrency,
	}
}

// RateValidation is the outcome of a rate check
type RateValidation struct {
	ValidRates   []float64 `json:"valid_rates"`
	InvalidRates []float64 `json:"invalid_rates"`
	Warnings     []string  `json:"warnings"`
}

// PeriodValidation classifies a VAT return period
type PeriodValidation struct {
	IsValid    bool     `json:"is_valid"`
	PeriodType string   `json:"period_type"`
	Days       int      `json:"days"`
	Warnings   []string `json:"warnings"`
}

// CalculationCheck compares a claimed VAT amount with the expected one
type CalculationCheck struct {
	Expected   float64 `json:"expected"`
	Claimed    float64 `json:"claimed"`
	Difference float64 `json:"difference"`
	IsCorrect  bool    `json:"is_correct"`
}

// Input is the aggregate checked by CheckCompliance
type Input struct {
	Currency     string
	Amounts      []float64
	Rates        []float64
	VATNumber    string
	InvoiceDate  *time.Time
	NetAmount    *float64
	DocumentType string
}

// Validator checks VAT data. It holds no mutable state.
type Validator struct {
	cfg      Config
	clock    port.Clock
	logger   *zap.Logger
	numberRe *regexp.Regexp
	rates    []float64
}

// NewValidator creates a new compliance validator
func NewValidator(cfg Config, clock port.Clock, logger *zap.Logger) *Validator {
	if cfg.CountryPrefix == "" {
		cfg.CountryPrefix = DefaultCountryPrefix
	}
	if cfg.ExpectedCurrency == "" {
		cfg.ExpectedCurrency = DefaultExpectedCurrency
	}
	if clock == nil {
		clock = port.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.ToUpper(cfg.CountryPrefix)
	return &Validator{
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		numberRe: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `([0-9]{7})([A-Z]{1,2})$`),
		rates:    append(append([]float64(nil), StandardRates...), cfg.ExtraRates...),
	}
}

// ValidateVATNumber checks the format of a VAT registration number
func (v *Validator) ValidateVATNumber(value string) entity.ComplianceReport {
	normalized := strings.ToUpper(strings.Join(strings.Fields(value), ""))
	prefix := strings.ToUpper(v.cfg.CountryPrefix)
	expected := fmt.Sprintf("Expected format: %s followed by 7 digits and 1-2 letters (e.g. %s1234567T)", prefix, prefix)

	if normalized == "" {
		return entity.NewComplianceReport([]string{"VAT number is empty"}, nil, []string{expected})
	}

	m := v.numberRe.FindStringSubmatch(normalized)
	if m == nil {
		return entity.NewComplianceReport(
			[]string{fmt.Sprintf("Invalid VAT number format: %s", normalized)},
			nil,
			[]string{expected},
		)
	}

	if isPlaceholder(m[1], m[2]) {
		return entity.NewComplianceReport(
			nil,
			[]string{fmt.Sprintf("VAT number %s looks like a placeholder", normalized)},
			[]string{"Confirm the supplier's VAT number against the Revenue VIES lookup"},
		)
	}

	return entity.NewComplianceReport(nil, nil, nil)
}

// isPlaceholder reports whether a format-valid number is a stand-in: an
// all-zero digit block, or the sequence 1234567 with filler check letters
func isPlaceholder(digits, letters string) bool {
	if digits == "0000000" {
		return true
	}
	return digits == "1234567" && placeholderCheckLetters[letters]
}

// ValidateVATRates sorts rates into valid and invalid and explains the invalid ones
func (v *Validator) ValidateVATRates(rates []float64) RateValidation {
	result := RateValidation{
		ValidRates:   []float64{},
		InvalidRates: []float64{},
		Warnings:     []string{},
	}

	for _, rate := range rates {
		if v.isStandardRate(rate) {
			result.ValidRates = append(result.ValidRates, rate)
			continue
		}
		result.InvalidRates = append(result.InvalidRates, rate)

		if near, ok := nearestStandardRate(rate); ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("VAT rate %s%% is close to %s%%, check for rounding errors", formatRate(rate), formatRate(near)))
			continue
		}
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Non-standard VAT rate %s%% (Irish rates are 0%%, 13.5%% and 23%%)", formatRate(rate)))
	}

	return result
}

func (v *Validator) isStandardRate(rate float64) bool {
	for _, r := range v.rates {
		if math.Abs(rate-r) < 1e-9 {
			return true
		}
	}
	return false
}

func nearestStandardRate(rate float64) (float64, bool) {
	for _, r := range nearRates {
		if math.Abs(rate-r) <= rateNearTolerance {
			return r, true
		}
	}
	return 0, false
}

// ValidateVATPeriod classifies the length of a VAT return period in
// calendar days, read in each date's own location
func (v *Validator) ValidateVATPeriod(start, end time.Time) PeriodValidation {
	start, end = calendarDate(start), calendarDate(end)
	if end.Before(start) {
		return PeriodValidation{
			IsValid:    false,
			PeriodType: entity.PeriodUnknown,
			Warnings:   []string{"Period end date is before its start date"},
		}
	}

	days := int(end.Sub(start) / (24 * time.Hour))
	result := PeriodValidation{IsValid: true, Days: days, Warnings: []string{}}

	switch {
	case days >= 28 && days <= 31:
		result.PeriodType = entity.PeriodMonthly
	case days >= 59 && days <= 62:
		result.PeriodType = entity.PeriodBiMonthly
		result.Warnings = append(result.Warnings, "Bi-monthly is the standard Irish VAT return period")
	case days >= 89 && days <= 92:
		result.PeriodType = entity.PeriodQuarterly
		result.Warnings = append(result.Warnings, "Quarterly VAT returns typically require Revenue approval")
	case days >= 365 && days <= 366:
		result.PeriodType = entity.PeriodAnnual
		result.Warnings = append(result.Warnings, "Annual VAT returns are restricted to qualifying small businesses")
	default:
		result.IsValid = false
		result.PeriodType = entity.PeriodUnknown
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("A period of %d days does not match any Irish VAT return period", days))
	}

	return result
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateVATCalculation checks claimed against round(net * rate / 100, 2)
func (v *Validator) ValidateVATCalculation(net, rate, claimed float64) CalculationCheck {
	expected := decimal.NewFromFloat(net).
		Mul(decimal.NewFromFloat(rate)).
		Div(decimal.NewFromInt(100)).
		Round(2)
	claimedDec := decimal.NewFromFloat(claimed).Round(2)
	diff := expected.Sub(claimedDec).Abs()

	return CalculationCheck{
		Expected:   expected.InexactFloat64(),
		Claimed:    claimedDec.InexactFloat64(),
		Difference: diff.InexactFloat64(),
		IsCorrect:  diff.LessThanOrEqual(decimal.NewFromFloat(calculationTolerance)),
	}
}

// CheckCompliance runs every check that applies to the aggregate
func (v *Validator) CheckCompliance(in Input) entity.ComplianceReport {
	var errs, warnings, recs []string

	// Currency
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	switch {
	case currency == "":
		recs = append(recs, fmt.Sprintf("Currency not detected, confirm amounts are in %s", v.cfg.ExpectedCurrency))
	case currency != v.cfg.ExpectedCurrency:
		warnings = append(warnings,
			fmt.Sprintf("Currency %s is not %s, amounts must be converted for the VAT return", currency, v.cfg.ExpectedCurrency))
	}

	// Amounts
	if len(in.Amounts) == 0 {
		errs = append(errs, "No VAT amounts found on the document")
		recs = append(recs, "Enter the VAT amount manually or upload a clearer copy")
	}
	for _, a := range in.Amounts {
		if a < 0 && !entity.IsCreditDocument(in.DocumentType) {
			warnings = append(warnings,
				fmt.Sprintf("Negative VAT amount %.2f on a document that is not a credit note or refund", a))
			break
		}
	}

	// Rates
	if len(in.Rates) > 0 {
		rates := v.ValidateVATRates(in.Rates)
		warnings = append(warnings, rates.Warnings...)
	}

	// VAT number
	if strings.TrimSpace(in.VATNumber) != "" {
		number := v.ValidateVATNumber(in.VATNumber)
		errs = append(errs, number.Errors...)
		warnings = append(warnings, number.Warnings...)
		recs = append(recs, number.Recommendations...)
	}

	// Invoice date
	if in.InvoiceDate != nil {
		now := v.clock.Now()
		switch {
		case in.InvoiceDate.After(now.AddDate(0, 0, futureDateLimitDays)):
			errs = append(errs, fmt.Sprintf("Invoice date %s is more than %d days in the future",
				in.InvoiceDate.Format(time.DateOnly), futureDateLimitDays))
		case in.InvoiceDate.Before(now.AddDate(-1, 0, 0)):
			warnings = append(warnings, fmt.Sprintf("Invoice date %s is more than one year old",
				in.InvoiceDate.Format(time.DateOnly)))
			recs = append(recs, "Check the claim still falls within the VAT reclaim window")
		}
	}

	// Calculation cross-check needs an unambiguous rate
	if in.NetAmount != nil && len(in.Rates) == 1 && len(in.Amounts) > 0 {
		check := v.ValidateVATCalculation(*in.NetAmount, in.Rates[0], in.Amounts[0])
		if !check.IsCorrect {
			warnings = append(warnings, fmt.Sprintf(
				"VAT amount %.2f does not match %.2f expected for net %.2f at %s%%",
				check.Claimed, check.Expected, *in.NetAmount, formatRate(in.Rates[0])))
		}
	}

	report := entity.NewComplianceReport(errs, warnings, recs)
	v.logger.Debug("Compliance check complete",
		zap.String("level", string(report.ComplianceLevel)),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)))
	return report
}

// InputFromExtraction builds the compliance aggregate from an extraction result
func InputFromExtraction(result entity.ExtractionResult, documentType string) Input {
	in := Input{
		Currency:     result.Metadata.Currency,
		Rates:        result.Metadata.VATRates,
		VATNumber:    result.Metadata.VATNumber,
		InvoiceDate:  result.Metadata.InvoiceDate,
		NetAmount:    result.Metadata.NetAmount,
		DocumentType: documentType,
	}
	if result.HasAmount() {
		in.Amounts = []float64{result.PrimaryAmount}
	}
	return in
}

func formatRate(r float64) string {
	return decimal.NewFromFloat(r).String()
}
