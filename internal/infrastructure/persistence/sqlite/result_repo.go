package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// ResultRepository implements port.ResultRepository
type ResultRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewResultRepository creates a new processing result repository
func NewResultRepository(db *sql.DB, logger *zap.Logger) *ResultRepository {
	return &ResultRepository{
		db:     db,
		logger: logger,
	}
}

// Save stores the result, replacing an earlier run for the same document
func (r *ResultRepository) Save(ctx context.Context, result *entity.ProcessingResult) error {
	query := `
		INSERT OR REPLACE INTO processing_results (
			document_id, owner_scope, strategy_used, primary_amount, confidence,
			is_duplicate, duplicate_of_id, compliance_level, review_decision, payload, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode processing result: %w", err)
	}

	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		result.DocumentID,
		result.OwnerScope,
		result.Extraction.StrategyUsed,
		result.Extraction.PrimaryAmount,
		result.Extraction.Confidence,
		result.Duplicate.IsDuplicate,
		result.Duplicate.DuplicateOfID,
		string(result.Compliance.ComplianceLevel),
		result.Review.Decision,
		string(payload),
		result.ProcessedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save processing result",
			zap.String("document_id", result.DocumentID),
			zap.Error(err))
		return fmt.Errorf("failed to save processing result: %w", err)
	}
	return nil
}

// GetByDocumentID loads a stored result. Returns entity.ErrDocumentNotFound when absent.
func (r *ResultRepository) GetByDocumentID(ctx context.Context, documentID string) (*entity.ProcessingResult, error) {
	query := `SELECT payload FROM processing_results WHERE document_id = ?`

	var payload string
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query, documentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrDocumentNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get processing result",
			zap.String("document_id", documentID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get processing result: %w", err)
	}

	var result entity.ProcessingResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode processing result: %w", err)
	}
	return &result, nil
}

// Verify interface compliance
var _ port.ResultRepository = (*ResultRepository)(nil)
