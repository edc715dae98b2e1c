// Package dedup decides whether a newly uploaded document duplicates one
// already on file for the same owner.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// Weights holds the contribution of each similarity signal
type Weights struct {
	Content  float64 `mapstructure:"content"`
	Size     float64 `mapstructure:"size"`
	FileName float64 `mapstructure:"filename"`
	Date     float64 `mapstructure:"date"`
	Total    float64 `mapstructure:"total"`
}

// Config controls duplicate scoring
type Config struct {
	Weights Weights
	// Threshold is the score at or above which a candidate is a duplicate
	Threshold float64
	// SizeRatio is the min/max size ratio above which the size signal fires
	SizeRatio float64
	// NameSimilarity is the normalized name similarity above which the name signal fires
	NameSimilarity float64
	// ClaimBeforeScan reserves the content hash before scanning
	ClaimBeforeScan bool
}

// DefaultConfig returns the default weights and thresholds
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Content:  0.50,
			Size:     0.20,
			FileName: 0.15,
			Date:     0.05,
			Total:    0.05,
		},
		Threshold:      0.80,
		SizeRatio:      0.95,
		NameSimilarity: 0.80,
	}
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"content": w.Content, "size": w.Size, "filename": w.FileName, "date": w.Date, "total": w.Total,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("dedup weight %s must be between 0 and 1, got %.2f", name, v)
		}
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("dedup threshold must be in (0, 1], got %.2f", c.Threshold)
	}
	if c.SizeRatio <= 0 || c.SizeRatio > 1 {
		return fmt.Errorf("dedup size ratio must be in (0, 1], got %.2f", c.SizeRatio)
	}
	if c.NameSimilarity <= 0 || c.NameSimilarity > 1 {
		return fmt.Errorf("dedup name similarity must be in (0, 1], got %.2f", c.NameSimilarity)
	}
	return nil
}

// Detector scores a fingerprint against the owner's prior fingerprints
type Detector struct {
	repo   port.FingerprintRepository
	cfg    Config
	logger *zap.Logger
}

// NewDetector creates a new duplicate detector
func NewDetector(repo port.FingerprintRepository, cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{repo: repo, cfg: cfg, logger: logger}
}

// CheckDuplicate compares fp with every prior fingerprint of ownerScope,
// skipping excludeID, and returns the verdict for the best candidate.
// A repository failure yields a non-duplicate verdict with confidence 0
// together with the error.
func (d *Detector) CheckDuplicate(ctx context.Context, fp entity.Fingerprint, ownerScope, excludeID string) (entity.DuplicateVerdict, error) {
	if d.cfg.ClaimBeforeScan && fp.ContentHash != "" {
		if verdict, ok := d.claim(ctx, fp, ownerScope); ok {
			return verdict, nil
		}
	}

	candidates, err := d.repo.ListByOwner(ctx, ownerScope, excludeID)
	if err != nil {
		d.logger.Error("Failed to list prior fingerprints",
			zap.String("owner_scope", ownerScope),
			zap.Error(err))
		return entity.DuplicateVerdict{
			Reasons: []string{"duplicate check unavailable: fingerprint store error"},
		}, fmt.Errorf("failed to list fingerprints: %w", err)
	}

	if len(candidates) == 0 {
		return entity.DuplicateVerdict{
			Reasons: []string{"no prior documents for owner"},
		}, nil
	}

	var (
		bestScore   float64
		bestID      string
		bestReasons []string
	)
	for _, candidate := range candidates {
		if candidate == nil || candidate.DocumentID == excludeID {
			continue
		}
		score, reasons := d.Score(&fp, candidate)
		if score > bestScore {
			bestScore = score
			bestID = candidate.DocumentID
			bestReasons = reasons
		}
	}

	if bestID == "" {
		return entity.DuplicateVerdict{
			Reasons: []string{"no similar prior document"},
		}, nil
	}

	verdict := entity.DuplicateVerdict{
		IsDuplicate:     bestScore >= d.cfg.Threshold,
		DuplicateOfID:   bestID,
		SimilarityScore: bestScore,
		Confidence:      bestScore,
		Reasons:         bestReasons,
	}
	if !verdict.IsDuplicate {
		verdict.DuplicateOfID = ""
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("best match %s scored %.2f, below threshold %.2f", bestID, bestScore, d.cfg.Threshold))
	}

	d.logger.Debug("Duplicate check complete",
		zap.String("document_id", fp.DocumentID),
		zap.String("best_match", bestID),
		zap.Float64("score", bestScore),
		zap.Bool("is_duplicate", verdict.IsDuplicate))

	return verdict, nil
}

// Score computes the weighted similarity between two fingerprints, capped at 1.0
func (d *Detector) Score(a, b *entity.Fingerprint) (float64, []string) {
	w := d.cfg.Weights
	var (
		score   float64
		reasons []string
	)

	if a.ContentHash != "" && a.ContentHash == b.ContentHash {
		score += w.Content
		reasons = append(reasons, "identical content hash")
	}

	if a.SizeBytes > 0 && b.SizeBytes > 0 {
		ratio := float64(min(a.SizeBytes, b.SizeBytes)) / float64(max(a.SizeBytes, b.SizeBytes))
		if ratio > d.cfg.SizeRatio {
			score += w.Size
			reasons = append(reasons, fmt.Sprintf("similar file size (ratio %.3f)", ratio))
		}
	}

	if a.FileName != "" && b.FileName != "" {
		sim := NameSimilarity(a.FileName, b.FileName)
		if sim > d.cfg.NameSimilarity {
			score += w.FileName * sim
			reasons = append(reasons, fmt.Sprintf("similar file name (%.2f)", sim))
		}
	}

	if a.InvoiceDate != nil && b.InvoiceDate != nil {
		score += w.Date
		reasons = append(reasons, "both documents carry an invoice date")
	}

	if a.InvoiceTotal != nil && b.InvoiceTotal != nil {
		score += w.Total
		reasons = append(reasons, "both documents carry an invoice total")
	}

	return min(score, 1.0), reasons
}

// claim reserves the content hash. A hash already held by another document
// is reported as an exact duplicate without scanning.
func (d *Detector) claim(ctx context.Context, fp entity.Fingerprint, ownerScope string) (entity.DuplicateVerdict, bool) {
	fp.OwnerScope = ownerScope
	claimedBy, err := d.repo.Claim(ctx, &fp)
	if err == nil {
		return entity.DuplicateVerdict{}, false
	}
	if errors.Is(err, entity.ErrFingerprintClaimed) && claimedBy != "" && claimedBy != fp.DocumentID {
		return entity.DuplicateVerdict{
			IsDuplicate:     true,
			DuplicateOfID:   claimedBy,
			SimilarityScore: 1.0,
			Confidence:      1.0,
			Reasons:         []string{"identical content hash already claimed by " + claimedBy},
		}, true
	}

	d.logger.Warn("Fingerprint claim failed, falling back to scan",
		zap.String("document_id", fp.DocumentID),
		zap.Error(err))
	return entity.DuplicateVerdict{}, false
}
