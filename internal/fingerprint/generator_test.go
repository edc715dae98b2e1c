package fingerprint

import (
	"testing"
	"time"

	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestGenerator() *Generator {
	return NewGenerator(fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)})
}

func TestContentHash_Deterministic(t *testing.T) {
	payloads := [][]byte{
		[]byte("%PDF-1.4 invoice 0001"),
		[]byte("Item,Item Tax Amt.\nA,1.00\n"),
		{0x00, 0xff, 0x10, 0x7f},
	}

	for _, p := range payloads {
		first := ContentHash(p)
		second := ContentHash(p)
		assert.Equal(t, first, second)
		assert.Len(t, first, 64)
	}

	assert.NotEqual(t, ContentHash([]byte("invoice A")), ContentHash([]byte("invoice B")))
	assert.Empty(t, ContentHash(nil))
}

func TestStructuralHash_IgnoresNamePunctuationAndCase(t *testing.T) {
	a := StructuralHash(2048, "application/pdf", "Invoice_2024-03.PDF")
	b := StructuralHash(2048, "application/pdf", "invoice 2024 03.pdf")
	c := StructuralHash(2049, "application/pdf", "invoice 2024 03.pdf")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Empty(t, StructuralHash(0, "", ""))
}

func TestMetadataHash(t *testing.T) {
	total := 123.0
	date := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

	t.Run("empty metadata", func(t *testing.T) {
		assert.Empty(t, MetadataHash(nil))
		assert.Empty(t, MetadataHash(&entity.ExtractedMetadata{}))
	})

	t.Run("vat amount order does not matter", func(t *testing.T) {
		m1 := &entity.ExtractedMetadata{InvoiceTotal: &total, InvoiceDate: &date, VATAmounts: []float64{23, 4.5}, SupplierName: "Acme Ltd."}
		m2 := &entity.ExtractedMetadata{InvoiceTotal: &total, InvoiceDate: &date, VATAmounts: []float64{4.5, 23}, SupplierName: "ACME Limited"}
		assert.Equal(t, MetadataHash(m1), MetadataHash(m2))
	})

	t.Run("does not mutate input", func(t *testing.T) {
		m := &entity.ExtractedMetadata{VATAmounts: []float64{9, 1, 5}}
		_ = MetadataHash(m)
		assert.Equal(t, []float64{9, 1, 5}, m.VATAmounts)
	})
}

func TestNormalizeFileName(t *testing.T) {
	assert.Equal(t, "invoice2024march", NormalizeFileName("Invoice-2024 (March)"))
	assert.Equal(t, "", NormalizeFileName("---"))
}

func TestNormalizeSupplierName(t *testing.T) {
	assert.Equal(t, "acmewidgets", NormalizeSupplierName("The Acme Widgets Ltd"))
	assert.Equal(t, "oneillsbar", NormalizeSupplierName("O'Neills Bar Teoranta"))
}

func TestGenerator_ForDocument(t *testing.T) {
	g := newTestGenerator()
	doc := entity.RawDocument{
		ID:         "doc-1",
		OwnerScope: "org-1",
		Content:    []byte("receipt body"),
		MimeType:   "text/plain",
		FileName:   "receipt.txt",
	}

	fp := g.ForDocument(doc, nil)

	require.NotEmpty(t, fp.ContentHash)
	assert.NotEmpty(t, fp.StructuralHash)
	assert.Empty(t, fp.MetadataHash)
	assert.Equal(t, "doc-1", fp.DocumentID)
	assert.Equal(t, "org-1", fp.OwnerScope)
	assert.Equal(t, int64(len("receipt body")), fp.SizeBytes)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), fp.CreatedAt)
}
