package entity

import "time"

// RawDocument is an uploaded business document. It is never modified after ingest.
type RawDocument struct {
	ID           string    `json:"id"`
	Content      []byte    `json:"-"`
	MimeType     string    `json:"mime_type"`
	FileName     string    `json:"file_name"`
	Category     string    `json:"category"`
	OwnerScope   string    `json:"owner_scope"`
	DocumentType string    `json:"document_type,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// SizeBytes returns the payload size
func (d RawDocument) SizeBytes() int64 {
	return int64(len(d.Content))
}

// Fingerprint characterizes a document for duplicate comparison
type Fingerprint struct {
	DocumentID     string     `json:"document_id"`
	OwnerScope     string     `json:"owner_scope"`
	ContentHash    string     `json:"content_hash"`
	StructuralHash string     `json:"structural_hash"`
	MetadataHash   string     `json:"metadata_hash,omitempty"`
	SizeBytes      int64      `json:"size_bytes"`
	FileName       string     `json:"file_name"`
	MimeType       string     `json:"mime_type"`
	InvoiceDate    *time.Time `json:"invoice_date,omitempty"`
	InvoiceTotal   *float64   `json:"invoice_total,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ExtractedMetadata holds document facts recovered alongside the VAT amounts.
// Total, date, VAT amounts and supplier feed the metadata hash; the rest
// feeds compliance checks.
type ExtractedMetadata struct {
	InvoiceTotal *float64   `json:"invoice_total,omitempty"`
	InvoiceDate  *time.Time `json:"invoice_date,omitempty"`
	VATAmounts   []float64  `json:"vat_amounts,omitempty"`
	SupplierName string     `json:"supplier_name,omitempty"`

	NetAmount *float64  `json:"net_amount,omitempty"`
	VATRates  []float64 `json:"vat_rates,omitempty"`
	VATNumber string    `json:"vat_number,omitempty"`
	Currency  string    `json:"currency,omitempty"`
}

// IsEmpty reports whether none of the hashed fields is available
func (m *ExtractedMetadata) IsEmpty() bool {
	if m == nil {
		return true
	}
	return m.InvoiceTotal == nil && m.InvoiceDate == nil && len(m.VATAmounts) == 0 && m.SupplierName == ""
}
