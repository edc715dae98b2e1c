// Package fingerprint derives stable hashes identifying a document's content,
// structure and extracted metadata.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// supplierNoise is removed from supplier names before hashing
var supplierNoise = []string{"limited", "ltd", "teoranta", "teo", "dac", "plc", "clg", "uc", "the"}

// Generator computes fingerprints. It holds no mutable state.
type Generator struct {
	clock port.Clock
}

// NewGenerator creates a new fingerprint generator
func NewGenerator(clock port.Clock) *Generator {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &Generator{clock: clock}
}

// Fingerprint computes all three hashes. Unavailable inputs leave the
// corresponding hash empty; it never fails.
func (g *Generator) Fingerprint(content []byte, fileName string, sizeBytes int64, mimeType string, meta *entity.ExtractedMetadata) entity.Fingerprint {
	fp := entity.Fingerprint{
		ContentHash:    ContentHash(content),
		StructuralHash: StructuralHash(sizeBytes, mimeType, fileName),
		MetadataHash:   MetadataHash(meta),
		SizeBytes:      sizeBytes,
		FileName:       fileName,
		MimeType:       mimeType,
		CreatedAt:      g.clock.Now().UTC(),
	}
	if meta != nil {
		fp.InvoiceDate = meta.InvoiceDate
		fp.InvoiceTotal = meta.InvoiceTotal
	}
	return fp
}

// ForDocument fingerprints a raw document, attaching its identity
func (g *Generator) ForDocument(doc entity.RawDocument, meta *entity.ExtractedMetadata) entity.Fingerprint {
	fp := g.Fingerprint(doc.Content, doc.FileName, doc.SizeBytes(), doc.MimeType, meta)
	fp.DocumentID = doc.ID
	fp.OwnerScope = doc.OwnerScope
	return fp
}

// ContentHash is the SHA-256 of the raw bytes, empty for empty content
func ContentHash(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// StructuralHash hashes size, MIME type, normalized file name and extension
func StructuralHash(sizeBytes int64, mimeType, fileName string) string {
	if sizeBytes <= 0 && mimeType == "" && fileName == "" {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	return hashParts(
		strconv.FormatInt(sizeBytes, 10),
		strings.ToLower(strings.TrimSpace(mimeType)),
		NormalizeFileName(base),
		ext,
	)
}

// MetadataHash hashes invoice total, ISO date, sorted VAT amounts and the
// normalized supplier name. Empty when no metadata is available.
func MetadataHash(meta *entity.ExtractedMetadata) string {
	if meta.IsEmpty() {
		return ""
	}

	total := ""
	if meta.InvoiceTotal != nil {
		total = formatAmount(*meta.InvoiceTotal)
	}
	date := ""
	if meta.InvoiceDate != nil {
		date = meta.InvoiceDate.UTC().Format(time.DateOnly)
	}

	amounts := make([]float64, len(meta.VATAmounts))
	copy(amounts, meta.VATAmounts)
	sort.Float64s(amounts)
	formatted := make([]string, len(amounts))
	for i, a := range amounts {
		formatted[i] = formatAmount(a)
	}

	return hashParts(total, date, strings.Join(formatted, ";"), NormalizeSupplierName(meta.SupplierName))
}

// NormalizeFileName lowercases and strips every non-alphanumeric character
func NormalizeFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if isAlnum(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeSupplierName lowercases, drops company-form suffixes and punctuation
func NormalizeSupplierName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool { return !isAlnum(r) })
	kept := fields[:0]
	for _, f := range fields {
		if !isNoise(f) {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, "")
}

// hashParts writes each part followed by a zero byte so that field
// boundaries cannot be confused
func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func isNoise(word string) bool {
	for _, n := range supplierNoise {
		if word == n {
			return true
		}
	}
	return false
}
