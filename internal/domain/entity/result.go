package entity

import "time"

// CandidateAmount is a monetary value proposed by one strategy before selection
type CandidateAmount struct {
	Value         float64 `json:"value"`
	SourcePattern string  `json:"source_pattern"`
	Priority      int     `json:"priority"`
	Strategy      string  `json:"strategy"`
}

// ExtractionResult is the outcome of the extraction chain. It is always produced,
// even when no amount could be found.
type ExtractionResult struct {
	Candidates    []CandidateAmount `json:"candidates"`
	PrimaryAmount float64           `json:"primary_amount"`
	Confidence    float64           `json:"confidence"`
	StrategyUsed  string            `json:"strategy_used"`
	Reasons       []string          `json:"reasons"`
	NeedsReview   bool              `json:"needs_review"`
	Variant       string            `json:"variant,omitempty"`
	Metadata      ExtractedMetadata `json:"metadata"`
}

// HasAmount reports whether a primary amount was selected
func (r ExtractionResult) HasAmount() bool {
	return len(r.Candidates) > 0
}

// DuplicateVerdict is the outcome of a duplicate scan
type DuplicateVerdict struct {
	IsDuplicate     bool     `json:"is_duplicate"`
	DuplicateOfID   string   `json:"duplicate_of_id,omitempty"`
	SimilarityScore float64  `json:"similarity_score"`
	Confidence      float64  `json:"confidence"`
	Reasons         []string `json:"reasons"`
}

// ComplianceReport describes extracted VAT data measured against Irish rules
type ComplianceReport struct {
	IsValid         bool            `json:"is_valid"`
	ComplianceLevel ComplianceLevel `json:"compliance_level"`
	Errors          []string        `json:"errors"`
	Warnings        []string        `json:"warnings"`
	Recommendations []string        `json:"recommendations"`
}

// NewComplianceReport builds a report whose level follows the error/warning priority rule
func NewComplianceReport(errs, warnings, recommendations []string) ComplianceReport {
	return ComplianceReport{
		IsValid:         len(errs) == 0,
		ComplianceLevel: LevelFor(errs, warnings),
		Errors:          nonNil(errs),
		Warnings:        nonNil(warnings),
		Recommendations: nonNil(recommendations),
	}
}

// LevelFor returns NON_COMPLIANT when errors exist, WARNING when only warnings exist,
// COMPLIANT otherwise
func LevelFor(errs, warnings []string) ComplianceLevel {
	switch {
	case len(errs) > 0:
		return LevelNonCompliant
	case len(warnings) > 0:
		return LevelWarning
	default:
		return LevelCompliant
	}
}

// ReviewDecision routes an extraction to downstream handling
type ReviewDecision struct {
	Decision  string  `json:"decision"`
	Rationale string  `json:"rationale"`
	Score     float64 `json:"score"`
}

// ProcessingResult bundles everything produced for one document
type ProcessingResult struct {
	DocumentID  string           `json:"document_id"`
	OwnerScope  string           `json:"owner_scope"`
	Fingerprint Fingerprint      `json:"fingerprint"`
	Duplicate   DuplicateVerdict `json:"duplicate"`
	Extraction  ExtractionResult `json:"extraction"`
	Compliance  ComplianceReport `json:"compliance"`
	Review      ReviewDecision   `json:"review"`
	ArchivePath string           `json:"archive_path,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// Clamp01 bounds a score to [0,1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
