package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/compliance"
	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/garyjia/vat-intake/internal/fingerprint"
)

// DuplicateChecker scores a fingerprint against earlier uploads of an owner
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, fp entity.Fingerprint, ownerScope, excludeID string) (entity.DuplicateVerdict, error)
}

// AmountExtractor runs the extraction chain. It always returns a result.
type AmountExtractor interface {
	Extract(ctx context.Context, doc entity.RawDocument) entity.ExtractionResult
}

// ComplianceChecker validates extracted data against VAT rules
type ComplianceChecker interface {
	CheckCompliance(in compliance.Input) entity.ComplianceReport
}

// ReviewRouter maps a confidence score to a review decision
type ReviewRouter interface {
	Route(score float64, needsReview bool) entity.ReviewDecision
}

// PipelineRecorder receives per-document pipeline measurements
type PipelineRecorder interface {
	StartDocument()
	FinishDocument(result *entity.ProcessingResult, duration time.Duration, err error)
}

// BatchItem is the outcome for one document of a batch
type BatchItem struct {
	Result *entity.ProcessingResult
	Err    error
}

// PipelineService processes uploaded documents end to end
type PipelineService interface {
	Process(ctx context.Context, doc entity.RawDocument) (*entity.ProcessingResult, error)
	ProcessBatch(ctx context.Context, docs []entity.RawDocument, parallelism int) []BatchItem
	GetResult(ctx context.Context, documentID string) (*entity.ProcessingResult, error)
}

// PipelineDeps groups the collaborators of the pipeline
type PipelineDeps struct {
	Fingerprints *fingerprint.Generator
	Dedup        DuplicateChecker
	Extractor    AmountExtractor
	Compliance   ComplianceChecker
	Router       ReviewRouter

	FingerprintRepo port.FingerprintRepository
	ResultRepo      port.ResultRepository
	TxManager       port.TransactionManager
	Publisher       port.ResultPublisher
	Archive         port.DocumentArchive
	Metrics         PipelineRecorder
	Clock           port.Clock
}

type pipelineServiceImpl struct {
	deps   PipelineDeps
	logger *zap.Logger
}

// NewPipelineService creates a new PipelineService. TxManager, Publisher,
// Archive and Metrics are optional.
func NewPipelineService(deps PipelineDeps, logger *zap.Logger) PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = port.SystemClock{}
	}
	if deps.Fingerprints == nil {
		deps.Fingerprints = fingerprint.NewGenerator(deps.Clock)
	}
	return &pipelineServiceImpl{deps: deps, logger: logger}
}

// Process extracts, fingerprints, deduplicates and validates one document.
// It fails only when ctx is done before processing started.
func (s *pipelineServiceImpl) Process(ctx context.Context, doc entity.RawDocument) (*entity.ProcessingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("process document %s: %w", doc.ID, err)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.deps.Clock.Now()
	}

	start := time.Now()
	if s.deps.Metrics != nil {
		s.deps.Metrics.StartDocument()
	}

	s.logger.Info("Processing document",
		zap.String("document_id", doc.ID),
		zap.String("owner_scope", doc.OwnerScope),
		zap.String("file_name", doc.FileName),
		zap.Int64("size_bytes", doc.SizeBytes()))

	extraction := s.deps.Extractor.Extract(ctx, doc)

	// Dedup needs the invoice date and total the extraction found
	meta := extraction.Metadata
	fp := s.deps.Fingerprints.ForDocument(doc, &meta)

	var (
		verdict entity.DuplicateVerdict
		report  entity.ComplianceReport
		review  entity.ReviewDecision
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.deps.Dedup.CheckDuplicate(gctx, fp, doc.OwnerScope, doc.ID)
		if err != nil {
			s.logger.Warn("Duplicate check degraded",
				zap.String("document_id", doc.ID),
				zap.Error(err))
		}
		verdict = v
		return nil
	})
	g.Go(func() error {
		report = s.deps.Compliance.CheckCompliance(compliance.InputFromExtraction(extraction, doc.DocumentType))
		review = s.deps.Router.Route(extraction.Confidence, extraction.NeedsReview)
		return nil
	})
	_ = g.Wait()

	result := &entity.ProcessingResult{
		DocumentID:  doc.ID,
		OwnerScope:  doc.OwnerScope,
		Fingerprint: fp,
		Duplicate:   verdict,
		Extraction:  extraction,
		Compliance:  report,
		Review:      review,
		ProcessedAt: s.deps.Clock.Now(),
	}

	if s.deps.Archive != nil {
		path, err := s.deps.Archive.Store(ctx, doc.OwnerScope, doc.ID, doc.FileName, doc.Content)
		if err != nil {
			s.logger.Warn("Failed to archive original document",
				zap.String("document_id", doc.ID),
				zap.Error(err))
		}
		result.ArchivePath = path
	}

	persistErr := s.persist(ctx, result)
	if persistErr != nil {
		s.logger.Error("Failed to persist processing result",
			zap.String("document_id", doc.ID),
			zap.Error(persistErr))
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishProcessed(ctx, result); err != nil {
			s.logger.Warn("Failed to publish processing result",
				zap.String("document_id", doc.ID),
				zap.Error(err))
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.FinishDocument(result, time.Since(start), persistErr)
	}

	s.logger.Info("Document processed",
		zap.String("document_id", doc.ID),
		zap.String("strategy", extraction.StrategyUsed),
		zap.Float64("primary_amount", extraction.PrimaryAmount),
		zap.Float64("confidence", extraction.Confidence),
		zap.Bool("duplicate", verdict.IsDuplicate),
		zap.String("compliance", string(report.ComplianceLevel)),
		zap.String("review", review.Decision),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// persist stores the fingerprint and the result, in one transaction when a
// transaction manager is configured
func (s *pipelineServiceImpl) persist(ctx context.Context, result *entity.ProcessingResult) error {
	save := func(ctx context.Context) error {
		if s.deps.FingerprintRepo != nil {
			if err := s.deps.FingerprintRepo.Save(ctx, &result.Fingerprint); err != nil {
				return fmt.Errorf("save fingerprint: %w", err)
			}
		}
		if s.deps.ResultRepo != nil {
			if err := s.deps.ResultRepo.Save(ctx, result); err != nil {
				return fmt.Errorf("save result: %w", err)
			}
		}
		return nil
	}

	if s.deps.TxManager == nil {
		return save(ctx)
	}
	return s.deps.TxManager.WithTransaction(ctx, save)
}

// ProcessBatch processes docs with at most parallelism documents in flight.
// Items keep the input order; one failure does not stop the others.
func (s *pipelineServiceImpl) ProcessBatch(ctx context.Context, docs []entity.RawDocument, parallelism int) []BatchItem {
	items := make([]BatchItem, len(docs))
	if parallelism <= 0 {
		parallelism = 1
	}

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i := range docs {
		g.Go(func() error {
			result, err := s.Process(ctx, docs[i])
			items[i] = BatchItem{Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Batch processed",
		zap.Int("documents", len(docs)),
		zap.Int("parallelism", parallelism))
	return items
}

// GetResult returns the stored result of a processed document
func (s *pipelineServiceImpl) GetResult(ctx context.Context, documentID string) (*entity.ProcessingResult, error) {
	if s.deps.ResultRepo == nil {
		return nil, entity.ErrDocumentNotFound
	}
	result, err := s.deps.ResultRepo.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", documentID, err)
	}
	return result, nil
}
