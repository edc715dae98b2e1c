package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// DefaultExternalTimeout bounds a single call to the external service
const DefaultExternalTimeout = 30 * time.Second

// ExternalStrategy asks a document-understanding service for the VAT amounts
type ExternalStrategy struct {
	extractor port.ExternalExtractor
	timeout   time.Duration
	logger    *zap.Logger
}

// NewExternalStrategy creates the strategy. A nil extractor makes it permanently unavailable.
func NewExternalStrategy(extractor port.ExternalExtractor, timeout time.Duration, logger *zap.Logger) *ExternalStrategy {
	if timeout <= 0 {
		timeout = DefaultExternalTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExternalStrategy{extractor: extractor, timeout: timeout, logger: logger}
}

// Name returns the strategy name
func (s *ExternalStrategy) Name() string { return entity.StrategyExternal }

// Extract calls the external service under a per-call timeout
func (s *ExternalStrategy) Extract(ctx context.Context, in *Input) entity.StrategyOutcome {
	if s.extractor == nil {
		return unavailableOutcome(s.Name(), "external extraction not configured")
	}
	if len(in.Document.Content) == 0 {
		return emptyOutcome(s.Name(), "no content to send")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	amounts, err := s.extractor.ExtractAmounts(callCtx, in.Document.Content, in.MimeType)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		kind := ClassifyExternalError(err)
		s.logger.Warn("External extraction failed",
			zap.String("document_id", in.Document.ID),
			zap.String("provider", s.extractor.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return failedOutcome(s.Name(), fmt.Sprintf("external extraction failed (%s): %v", kind, err))
	}

	candidates := make([]entity.CandidateAmount, 0, len(amounts))
	confidences := make(map[int]float64, len(amounts))
	for _, a := range amounts {
		if a.Value == 0 {
			continue
		}
		confidences[len(candidates)] = entity.Clamp01(a.Confidence)
		label := a.Label
		if label == "" {
			label = s.extractor.Name()
		}
		candidates = append(candidates, entity.CandidateAmount{
			Value:         a.Value,
			SourcePattern: label,
			Strategy:      s.Name(),
		})
	}
	if len(candidates) == 0 {
		return emptyOutcome(s.Name(), "external service found no vat amount")
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return confidences[order[i]] > confidences[order[j]]
	})
	sorted := make([]entity.CandidateAmount, len(candidates))
	for i, idx := range order {
		sorted[i] = candidates[idx]
	}

	return entity.StrategyOutcome{
		Strategy:   s.Name(),
		Status:     entity.OutcomeClaimed,
		Candidates: sorted,
		Confidence: confidences[order[0]],
		Reasons:    []string{fmt.Sprintf("external service %s returned %d amount(s)", s.extractor.Name(), len(sorted))},
	}
}

// ClassifyExternalError maps a provider error onto the external failure kinds
func ClassifyExternalError(err error) error {
	switch {
	case errors.Is(err, entity.ErrExtractionTimeout), errors.Is(err, context.DeadlineExceeded):
		return entity.ErrExtractionTimeout
	case errors.Is(err, entity.ErrQuotaExceeded):
		return entity.ErrQuotaExceeded
	case errors.Is(err, entity.ErrInvalidInput):
		return entity.ErrInvalidInput
	default:
		return entity.ErrStrategyUnavailable
	}
}
