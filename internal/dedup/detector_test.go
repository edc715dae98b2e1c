package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// MockFingerprintRepository mocks port.FingerprintRepository
type MockFingerprintRepository struct {
	mock.Mock
}

func (m *MockFingerprintRepository) ListByOwner(ctx context.Context, ownerScope, excludeID string) ([]*entity.Fingerprint, error) {
	args := m.Called(ctx, ownerScope, excludeID)
	fps, _ := args.Get(0).([]*entity.Fingerprint)
	return fps, args.Error(1)
}

func (m *MockFingerprintRepository) Save(ctx context.Context, fp *entity.Fingerprint) error {
	args := m.Called(ctx, fp)
	return args.Error(0)
}

func (m *MockFingerprintRepository) Claim(ctx context.Context, fp *entity.Fingerprint) (string, error) {
	args := m.Called(ctx, fp)
	return args.String(0), args.Error(1)
}

func newFingerprint(id, hash, name string, size int64) entity.Fingerprint {
	return entity.Fingerprint{
		DocumentID:  id,
		OwnerScope:  "org-1",
		ContentHash: hash,
		FileName:    name,
		SizeBytes:   size,
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"digits collapse", "Invoice_001.pdf", "invoiceN"},
		{"date collapses", "receipt-20240315.PDF", "receiptD"},
		{"date and counter", "INV 20240315 - 17.pdf", "invDN"},
		{"punctuation only", "...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNameSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, NameSimilarity("invoice_001.pdf", "invoice_002.pdf"), 1e-9)
	assert.InDelta(t, 1.0, NameSimilarity("bill-20240101.pdf", "bill 20240202.pdf"), 1e-9)
	assert.Less(t, NameSimilarity("invoice.pdf", "statement.pdf"), 0.8)
	assert.Equal(t, 0.0, NameSimilarity("", ""))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("abc", "abc"))
	assert.Equal(t, 3, Levenshtein("", "abc"))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 1, Levenshtein("cáin", "cain"))
}

func TestDetector_Score(t *testing.T) {
	d := NewDetector(nil, DefaultConfig(), zap.NewNop())

	t.Run("identical hash alone contributes the content weight", func(t *testing.T) {
		a := newFingerprint("a", "h1", "alpha.pdf", 100)
		b := newFingerprint("b", "h1", "statement.pdf", 500)

		score, reasons := d.Score(&a, &b)

		assert.GreaterOrEqual(t, score, 0.50)
		assert.Less(t, score, 0.80)
		assert.Contains(t, reasons, "identical content hash")
	})

	t.Run("identical hash with similar name and size crosses the threshold", func(t *testing.T) {
		a := newFingerprint("a", "h1", "invoice_001.pdf", 2048)
		b := newFingerprint("b", "h1", "invoice_002.pdf", 2048)

		score, reasons := d.Score(&a, &b)

		assert.InDelta(t, 0.85, score, 1e-9)
		assert.Len(t, reasons, 3)
	})

	t.Run("score is capped at one", func(t *testing.T) {
		date := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
		total := 123.0
		cfg := DefaultConfig()
		cfg.Weights.Content = 0.9
		heavy := NewDetector(nil, cfg, zap.NewNop())

		a := newFingerprint("a", "h1", "invoice_001.pdf", 2048)
		a.InvoiceDate, a.InvoiceTotal = &date, &total
		b := a

		score, _ := heavy.Score(&a, &b)
		assert.Equal(t, 1.0, score)
	})
}

func TestDetector_CheckDuplicate(t *testing.T) {
	ctx := context.Background()

	t.Run("no prior documents", func(t *testing.T) {
		repo := new(MockFingerprintRepository)
		repo.On("ListByOwner", ctx, "org-1", "new").Return([]*entity.Fingerprint{}, nil)
		d := NewDetector(repo, DefaultConfig(), zap.NewNop())

		verdict, err := d.CheckDuplicate(ctx, newFingerprint("new", "h1", "a.pdf", 10), "org-1", "new")

		require.NoError(t, err)
		assert.False(t, verdict.IsDuplicate)
		assert.Equal(t, 0.0, verdict.Confidence)
		assert.NotEmpty(t, verdict.Reasons)
		repo.AssertExpectations(t)
	})

	t.Run("best candidate is reported", func(t *testing.T) {
		weak := newFingerprint("weak", "other", "invoice_009.pdf", 2048)
		strong := newFingerprint("strong", "h1", "invoice_002.pdf", 2048)
		repo := new(MockFingerprintRepository)
		repo.On("ListByOwner", ctx, "org-1", "new").Return([]*entity.Fingerprint{&weak, &strong}, nil)
		d := NewDetector(repo, DefaultConfig(), zap.NewNop())

		verdict, err := d.CheckDuplicate(ctx, newFingerprint("new", "h1", "invoice_001.pdf", 2048), "org-1", "new")

		require.NoError(t, err)
		assert.True(t, verdict.IsDuplicate)
		assert.Equal(t, "strong", verdict.DuplicateOfID)
		assert.InDelta(t, 0.85, verdict.SimilarityScore, 1e-9)
		assert.Equal(t, verdict.SimilarityScore, verdict.Confidence)
	})

	t.Run("below threshold is not a duplicate", func(t *testing.T) {
		prior := newFingerprint("prior", "h1", "statement.pdf", 9999)
		repo := new(MockFingerprintRepository)
		repo.On("ListByOwner", ctx, "org-1", "").Return([]*entity.Fingerprint{&prior}, nil)
		d := NewDetector(repo, DefaultConfig(), zap.NewNop())

		verdict, err := d.CheckDuplicate(ctx, newFingerprint("new", "h1", "invoice.pdf", 10), "org-1", "")

		require.NoError(t, err)
		assert.False(t, verdict.IsDuplicate)
		assert.Empty(t, verdict.DuplicateOfID)
		assert.InDelta(t, 0.5, verdict.SimilarityScore, 1e-9)
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := new(MockFingerprintRepository)
		repo.On("ListByOwner", ctx, "org-1", "").Return(nil, errors.New("disk I/O error"))
		d := NewDetector(repo, DefaultConfig(), zap.NewNop())

		verdict, err := d.CheckDuplicate(ctx, newFingerprint("new", "h1", "a.pdf", 10), "org-1", "")

		require.Error(t, err)
		assert.False(t, verdict.IsDuplicate)
		assert.Equal(t, 0.0, verdict.Confidence)
		assert.NotEmpty(t, verdict.Reasons)
	})

	t.Run("claimed hash short-circuits the scan", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ClaimBeforeScan = true
		repo := new(MockFingerprintRepository)
		repo.On("Claim", ctx, mock.AnythingOfType("*entity.Fingerprint")).Return("first", entity.ErrFingerprintClaimed)
		d := NewDetector(repo, cfg, zap.NewNop())

		verdict, err := d.CheckDuplicate(ctx, newFingerprint("second", "h1", "a.pdf", 10), "org-1", "second")

		require.NoError(t, err)
		assert.True(t, verdict.IsDuplicate)
		assert.Equal(t, "first", verdict.DuplicateOfID)
		assert.Equal(t, 1.0, verdict.Confidence)
		repo.AssertNotCalled(t, "ListByOwner", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("successful claim continues with the scan", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ClaimBeforeScan = true
		repo := new(MockFingerprintRepository)
		repo.On("Claim", ctx, mock.AnythingOfType("*entity.Fingerprint")).Return("", nil)
		repo.On("ListByOwner", ctx, "org-1", "first").Return([]*entity.Fingerprint{}, nil)
		d := NewDetector(repo, cfg, zap.NewNop())

		verdict, err := d.CheckDuplicate(ctx, newFingerprint("first", "h1", "a.pdf", 10), "org-1", "first")

		require.NoError(t, err)
		assert.False(t, verdict.IsDuplicate)
		repo.AssertExpectations(t)
	})
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Threshold = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Weights.Size = 1.5
	assert.Error(t, cfg.Validate())
}
