package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// FingerprintRepository implements port.FingerprintRepository
type FingerprintRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFingerprintRepository creates a new fingerprint repository
func NewFingerprintRepository(db *sql.DB, logger *zap.Logger) *FingerprintRepository {
	return &FingerprintRepository{
		db:     db,
		logger: logger,
	}
}

// ListByOwner returns the fingerprints stored for ownerScope, oldest first
func (r *FingerprintRepository) ListByOwner(ctx context.Context, ownerScope, excludeID string) ([]*entity.Fingerprint, error) {
	query := `
		SELECT document_id, owner_scope, content_hash, structural_hash, metadata_hash,
			size_bytes, file_name, mime_type, invoice_date, invoice_total, created_at
		FROM fingerprints
		WHERE owner_scope = ? AND document_id <> ?
		ORDER BY created_at ASC
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, ownerScope, excludeID)
	if err != nil {
		r.logger.Error("Failed to list fingerprints",
			zap.String("owner_scope", ownerScope),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	var fingerprints []*entity.Fingerprint
	for rows.Next() {
		var fp entity.Fingerprint
		var invoiceDate sql.NullTime
		var invoiceTotal sql.NullFloat64

		if err := rows.Scan(
			&fp.DocumentID,
			&fp.OwnerScope,
			&fp.ContentHash,
			&fp.StructuralHash,
			&fp.MetadataHash,
			&fp.SizeBytes,
			&fp.FileName,
			&fp.MimeType,
			&invoiceDate,
			&invoiceTotal,
			&fp.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}

		if invoiceDate.Valid {
			d := invoiceDate.Time
			fp.InvoiceDate = &d
		}
		if invoiceTotal.Valid {
			t := invoiceTotal.Float64
			fp.InvoiceTotal = &t
		}
		fingerprints = append(fingerprints, &fp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fingerprints: %w", err)
	}
	return fingerprints, nil
}

// Save inserts the fingerprint or replaces the stored one for the same document
func (r *FingerprintRepository) Save(ctx context.Context, fp *entity.Fingerprint) error {
	query := `
		INSERT INTO fingerprints (
			document_id, owner_scope, content_hash, structural_hash, metadata_hash,
			size_bytes, file_name, mime_type, invoice_date, invoice_total, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			owner_scope = excluded.owner_scope,
			content_hash = excluded.content_hash,
			structural_hash = excluded.structural_hash,
			metadata_hash = excluded.metadata_hash,
			size_bytes = excluded.size_bytes,
			file_name = excluded.file_name,
			mime_type = excluded.mime_type,
			invoice_date = excluded.invoice_date,
			invoice_total = excluded.invoice_total
	`

	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = time.Now()
	}

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		fp.DocumentID,
		fp.OwnerScope,
		fp.ContentHash,
		fp.StructuralHash,
		fp.MetadataHash,
		fp.SizeBytes,
		fp.FileName,
		fp.MimeType,
		fp.InvoiceDate,
		fp.InvoiceTotal,
		fp.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save fingerprint",
			zap.String("document_id", fp.DocumentID),
			zap.Error(err))
		return fmt.Errorf("failed to save fingerprint: %w", err)
	}
	return nil
}

// Claim reserves the content hash of fp within its owner scope. A document
// re-claiming its own hash succeeds.
func (r *FingerprintRepository) Claim(ctx context.Context, fp *entity.Fingerprint) (string, error) {
	insert := `
		INSERT INTO fingerprint_claims (owner_scope, content_hash, document_id, claimed_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, insert,
		fp.OwnerScope, fp.ContentHash, fp.DocumentID, time.Now())
	if err == nil {
		return fp.DocumentID, nil
	}
	if !isUniqueViolation(err) {
		r.logger.Error("Failed to claim fingerprint",
			zap.String("document_id", fp.DocumentID),
			zap.Error(err))
		return "", fmt.Errorf("failed to claim fingerprint: %w", err)
	}

	var claimedBy string
	lookup := `SELECT document_id FROM fingerprint_claims WHERE owner_scope = ? AND content_hash = ?`
	if err := getExecutor(ctx, r.db).QueryRowContext(ctx, lookup, fp.OwnerScope, fp.ContentHash).Scan(&claimedBy); err != nil {
		return "", fmt.Errorf("failed to read fingerprint claim: %w", err)
	}

	if claimedBy == fp.DocumentID {
		return claimedBy, nil
	}
	return claimedBy, entity.ErrFingerprintClaimed
}

// Verify interface compliance
var _ port.FingerprintRepository = (*FingerprintRepository)(nil)
