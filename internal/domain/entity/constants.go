package entity

// ComplianceLevel classifies extracted VAT data against Irish rules
type ComplianceLevel string

// Compliance level constants
const (
	LevelCompliant    ComplianceLevel = "COMPLIANT"
	LevelWarning      ComplianceLevel = "WARNING"
	LevelNonCompliant ComplianceLevel = "NON_COMPLIANT"
)

// Strategy name constants for the extraction chain
const (
	StrategyTabular   = "tabular"
	StrategyPattern   = "pattern_text"
	StrategyExternal  = "external"
	StrategyEmergency = "emergency_fallback"
	StrategyNone      = "none"
)

// Document category constants
const (
	CategorySales    = "sales"
	CategoryPurchase = "purchase"
)

// Document type constants
const (
	DocumentTypeInvoice    = "invoice"
	DocumentTypeReceipt    = "receipt"
	DocumentTypeCreditNote = "credit_note"
	DocumentTypeRefund     = "refund"
	DocumentTypeStatement  = "statement"
)

// VAT period type constants
const (
	PeriodMonthly   = "MONTHLY"
	PeriodBiMonthly = "BI_MONTHLY"
	PeriodQuarterly = "QUARTERLY"
	PeriodAnnual    = "ANNUAL"
	PeriodUnknown   = "UNKNOWN"
)

// Review decision constants
const (
	ReviewAccepted    = "ACCEPTED"
	ReviewNeeded      = "NEEDS_REVIEW"
	ReviewUnreliable  = "UNRELIABLE"
	ReviewNotRequired = ""
)

// IsCreditDocument reports whether negative amounts are expected for the document type
func IsCreditDocument(documentType string) bool {
	switch documentType {
	case DocumentTypeCreditNote, DocumentTypeRefund:
		return true
	}
	return false
}
