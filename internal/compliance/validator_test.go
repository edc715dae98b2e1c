package compliance

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestValidator() *Validator {
	return NewValidator(DefaultConfig(), fixedClock{t: testNow}, zap.NewNop())
}

func TestValidateVATNumber(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name          string
		value         string
		expectValid   bool
		expectLevel   entity.ComplianceLevel
		errorContains string
	}{
		{name: "valid single letter", value: "IE1234567T", expectValid: true, expectLevel: entity.LevelCompliant},
		{name: "valid two letters", value: "IE6388047WH", expectValid: true, expectLevel: entity.LevelCompliant},
		{name: "whitespace and case", value: " ie 6388047 v ", expectValid: true, expectLevel: entity.LevelCompliant},
		{name: "missing check letter", value: "IE1234567", expectValid: false, expectLevel: entity.LevelNonCompliant, errorContains: "Invalid VAT number format"},
		{name: "wrong prefix", value: "GB1234567T", expectValid: false, expectLevel: entity.LevelNonCompliant, errorContains: "Invalid VAT number format"},
		{name: "too many letters", value: "IE1234567ABC", expectValid: false, expectLevel: entity.LevelNonCompliant, errorContains: "Invalid VAT number format"},
		{name: "empty", value: "  ", expectValid: false, expectLevel: entity.LevelNonCompliant, errorContains: "empty"},
		{name: "all zero placeholder", value: "IE0000000A", expectValid: true, expectLevel: entity.LevelWarning},
		{name: "sequence with filler letters", value: "IE1234567XX", expectValid: true, expectLevel: entity.LevelWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.ValidateVATNumber(tt.value)

			assert.Equal(t, tt.expectValid, report.IsValid)
			assert.Equal(t, tt.expectLevel, report.ComplianceLevel)
			if tt.errorContains != "" {
				require.NotEmpty(t, report.Errors)
				assert.Contains(t, report.Errors[0], tt.errorContains)
				assert.Contains(t, report.Recommendations[0], "Expected format: IE followed by 7 digits and 1-2 letters")
			} else {
				assert.Empty(t, report.Errors)
			}
		})
	}
}

func TestValidateVATNumber_CustomPrefix(t *testing.T) {
	v := NewValidator(Config{CountryPrefix: "XI"}, fixedClock{t: testNow}, zap.NewNop())

	assert.True(t, v.ValidateVATNumber("XI1234567T").IsValid)
	assert.False(t, v.ValidateVATNumber("IE1234567T").IsValid)
}

func TestValidateVATRates(t *testing.T) {
	v := newTestValidator()

	t.Run("standard rates", func(t *testing.T) {
		result := v.ValidateVATRates([]float64{0, 13.5, 23})
		assert.Equal(t, []float64{0, 13.5, 23}, result.ValidRates)
		assert.Empty(t, result.InvalidRates)
		assert.Empty(t, result.Warnings)
	})

	t.Run("rounding slip", func(t *testing.T) {
		result := v.ValidateVATRates([]float64{23.4})
		assert.Equal(t, []float64{23.4}, result.InvalidRates)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "close to 23%, check for rounding errors")
	})

	t.Run("close to reduced rate", func(t *testing.T) {
		result := v.ValidateVATRates([]float64{13})
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "close to 13.5%")
	})

	t.Run("plain non-standard", func(t *testing.T) {
		result := v.ValidateVATRates([]float64{17})
		assert.Equal(t, []float64{17}, result.InvalidRates)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "Non-standard VAT rate 17%")
		assert.NotContains(t, result.Warnings[0], "close to")
	})

	t.Run("extra configured rates", func(t *testing.T) {
		extra := NewValidator(Config{ExtraRates: []float64{9, 4.8}}, fixedClock{t: testNow}, zap.NewNop())
		result := extra.ValidateVATRates([]float64{9, 4.8})
		assert.Len(t, result.ValidRates, 2)
	})
}

func TestValidateVATPeriod(t *testing.T) {
	v := newTestValidator()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		days       int
		valid      bool
		periodType string
		withNote   bool
	}{
		{"monthly", 30, true, entity.PeriodMonthly, false},
		{"bi-monthly", 60, true, entity.PeriodBiMonthly, true},
		{"quarterly", 90, true, entity.PeriodQuarterly, true},
		{"annual", 365, true, entity.PeriodAnnual, true},
		{"unknown", 400, false, entity.PeriodUnknown, true},
		{"too short", 10, false, entity.PeriodUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateVATPeriod(start, start.AddDate(0, 0, tt.days))

			assert.Equal(t, tt.valid, result.IsValid)
			assert.Equal(t, tt.periodType, result.PeriodType)
			assert.Equal(t, tt.days, result.Days)
			if tt.withNote {
				assert.NotEmpty(t, result.Warnings)
			} else {
				assert.Empty(t, result.Warnings)
			}
		})
	}

	t.Run("local dates across a clock change", func(t *testing.T) {
		dublin, err := time.LoadLocation("Europe/Dublin")
		require.NoError(t, err)

		monthly := v.ValidateVATPeriod(
			time.Date(2025, 3, 15, 0, 0, 0, 0, dublin),
			time.Date(2025, 4, 12, 0, 0, 0, 0, dublin))
		assert.True(t, monthly.IsValid)
		assert.Equal(t, entity.PeriodMonthly, monthly.PeriodType)
		assert.Equal(t, 28, monthly.Days)

		biMonthly := v.ValidateVATPeriod(
			time.Date(2025, 3, 1, 0, 0, 0, 0, dublin),
			time.Date(2025, 4, 30, 0, 0, 0, 0, dublin))
		assert.Equal(t, entity.PeriodBiMonthly, biMonthly.PeriodType)
		assert.Equal(t, 60, biMonthly.Days)
	})

	t.Run("time of day is ignored", func(t *testing.T) {
		result := v.ValidateVATPeriod(
			time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC),
			time.Date(2026, 1, 29, 0, 15, 0, 0, time.UTC))
		assert.Equal(t, 28, result.Days)
		assert.Equal(t, entity.PeriodMonthly, result.PeriodType)
	})

	t.Run("end before start", func(t *testing.T) {
		result := v.ValidateVATPeriod(start, start.AddDate(0, 0, -5))
		assert.False(t, result.IsValid)
		assert.Equal(t, entity.PeriodUnknown, result.PeriodType)
	})
}

func TestValidateVATCalculation(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name     string
		net      float64
		rate     float64
		claimed  float64
		expected float64
		correct  bool
	}{
		{"exact", 100, 23, 23, 23, true},
		{"rounded half away from zero", 0.5, 1, 0.01, 0.01, true},
		{"reduced rate rounding", 10.05, 13.5, 1.36, 1.36, true},
		{"within tolerance", 100, 23, 23.02, 23, true},
		{"outside tolerance", 100, 23, 23.03, 23, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := v.ValidateVATCalculation(tt.net, tt.rate, tt.claimed)
			assert.InDelta(t, tt.expected, check.Expected, 1e-9)
			assert.Equal(t, tt.correct, check.IsCorrect)
		})
	}
}

func TestCheckCompliance(t *testing.T) {
	v := newTestValidator()
	recent := testNow.AddDate(0, 0, -10)
	old := testNow.AddDate(-2, 0, 0)
	future := testNow.AddDate(0, 0, 45)
	net := 400.0

	tests := []struct {
		name          string
		input         Input
		expectLevel   entity.ComplianceLevel
		expectValid   bool
		messageSubstr string
	}{
		{
			name:        "clean invoice",
			input:       Input{Currency: "EUR", Amounts: []float64{92}, Rates: []float64{23}, VATNumber: "IE6388047V", InvoiceDate: &recent, NetAmount: &net},
			expectLevel: entity.LevelCompliant,
			expectValid: true,
		},
		{
			name:          "no amounts",
			input:         Input{Currency: "EUR"},
			expectLevel:   entity.LevelNonCompliant,
			expectValid:   false,
			messageSubstr: "No VAT amounts",
		},
		{
			name:          "foreign currency",
			input:         Input{Currency: "GBP", Amounts: []float64{10}},
			expectLevel:   entity.LevelWarning,
			expectValid:   true,
			messageSubstr: "Currency GBP",
		},
		{
			name:          "negative amount on invoice",
			input:         Input{Currency: "EUR", Amounts: []float64{-10}, DocumentType: entity.DocumentTypeInvoice},
			expectLevel:   entity.LevelWarning,
			expectValid:   true,
			messageSubstr: "Negative VAT amount",
		},
		{
			name:        "negative amount on credit note",
			input:       Input{Currency: "EUR", Amounts: []float64{-10}, DocumentType: entity.DocumentTypeCreditNote},
			expectLevel: entity.LevelCompliant,
			expectValid: true,
		},
		{
			name:          "old invoice",
			input:         Input{Currency: "EUR", Amounts: []float64{10}, InvoiceDate: &old},
			expectLevel:   entity.LevelWarning,
			expectValid:   true,
			messageSubstr: "more than one year old",
		},
		{
			name:          "future invoice",
			input:         Input{Currency: "EUR", Amounts: []float64{10}, InvoiceDate: &future},
			expectLevel:   entity.LevelNonCompliant,
			expectValid:   false,
			messageSubstr: "in the future",
		},
		{
			name:          "bad vat number",
			input:         Input{Currency: "EUR", Amounts: []float64{10}, VATNumber: "IE123"},
			expectLevel:   entity.LevelNonCompliant,
			expectValid:   false,
			messageSubstr: "Invalid VAT number format",
		},
		{
			name:          "calculation mismatch",
			input:         Input{Currency: "EUR", Amounts: []float64{80}, Rates: []float64{23}, NetAmount: &net},
			expectLevel:   entity.LevelWarning,
			expectValid:   true,
			messageSubstr: "does not match 92.00",
		},
		{
			name:          "rate warning",
			input:         Input{Currency: "EUR", Amounts: []float64{10}, Rates: []float64{17}},
			expectLevel:   entity.LevelWarning,
			expectValid:   true,
			messageSubstr: "Non-standard VAT rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.CheckCompliance(tt.input)

			assert.Equal(t, tt.expectLevel, report.ComplianceLevel)
			assert.Equal(t, tt.expectValid, report.IsValid)
			assert.Equal(t, entity.LevelFor(report.Errors, report.Warnings), report.ComplianceLevel)
			if tt.messageSubstr != "" {
				all := append(append([]string{}, report.Errors...), report.Warnings...)
				found := false
				for _, m := range all {
					if strings.Contains(m, tt.messageSubstr) {
						found = true
					}
				}
				assert.True(t, found, "expected a message containing %q, got %v", tt.messageSubstr, all)
			}
		})
	}
}

func TestInputFromExtraction(t *testing.T) {
	date := testNow
	result := entity.ExtractionResult{
		Candidates:    []entity.CandidateAmount{{Value: 92}},
		PrimaryAmount: 92,
		Metadata: entity.ExtractedMetadata{
			Currency:    "EUR",
			VATRates:    []float64{23},
			VATNumber:   "IE1234567T",
			InvoiceDate: &date,
		},
	}

	in := InputFromExtraction(result, entity.DocumentTypeReceipt)

	assert.Equal(t, []float64{92}, in.Amounts)
	assert.Equal(t, "EUR", in.Currency)
	assert.Equal(t, entity.DocumentTypeReceipt, in.DocumentType)

	empty := InputFromExtraction(entity.ExtractionResult{}, "")
	assert.Empty(t, empty.Amounts)
}
