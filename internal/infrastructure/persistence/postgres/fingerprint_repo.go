// Package postgres stores fingerprints in PostgreSQL for deployments that
// share one duplicate index across several intake workers.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// schemaLockID serializes bootstrap DDL across workers
const schemaLockID int64 = 2026100101

// FingerprintRepository implements port.FingerprintRepository on PostgreSQL
type FingerprintRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFingerprintRepository creates a new fingerprint repository
func NewFingerprintRepository(db *sql.DB, logger *zap.Logger) *FingerprintRepository {
	return &FingerprintRepository{db: db, logger: logger}
}

// OpenDB connects through the pgx stdlib driver
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the fingerprint tables when missing
func (r *FingerprintRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS fingerprints (
	document_id TEXT PRIMARY KEY,
	owner_scope TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	structural_hash TEXT NOT NULL DEFAULT '',
	metadata_hash TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	file_name TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	invoice_date TIMESTAMPTZ,
	invoice_total DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_owner ON fingerprints(owner_scope);

CREATE TABLE IF NOT EXISTS fingerprint_claims (
	owner_scope TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	document_id TEXT NOT NULL,
	claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_scope, content_hash)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// ListByOwner returns the fingerprints stored for ownerScope, oldest first
func (r *FingerprintRepository) ListByOwner(ctx context.Context, ownerScope, excludeID string) ([]*entity.Fingerprint, error) {
	const query = `
SELECT document_id, owner_scope, content_hash, structural_hash, metadata_hash,
	size_bytes, file_name, mime_type, invoice_date, invoice_total, created_at
FROM fingerprints
WHERE owner_scope = $1 AND document_id <> $2
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, query, ownerScope, excludeID)
	if err != nil {
		r.logger.Error("Failed to list fingerprints", zap.String("owner_scope", ownerScope), zap.Error(err))
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var out []*entity.Fingerprint
	for rows.Next() {
		var fp entity.Fingerprint
		var invoiceDate sql.NullTime
		var invoiceTotal sql.NullFloat64
		if err := rows.Scan(
			&fp.DocumentID, &fp.OwnerScope, &fp.ContentHash, &fp.StructuralHash, &fp.MetadataHash,
			&fp.SizeBytes, &fp.FileName, &fp.MimeType, &invoiceDate, &invoiceTotal, &fp.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		if invoiceDate.Valid {
			d := invoiceDate.Time
			fp.InvoiceDate = &d
		}
		if invoiceTotal.Valid {
			v := invoiceTotal.Float64
			fp.InvoiceTotal = &v
		}
		out = append(out, &fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}

// Save upserts the fingerprint of a document
func (r *FingerprintRepository) Save(ctx context.Context, fp *entity.Fingerprint) error {
	const query = `
INSERT INTO fingerprints (
	document_id, owner_scope, content_hash, structural_hash, metadata_hash,
	size_bytes, file_name, mime_type, invoice_date, invoice_total, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (document_id) DO UPDATE SET
	owner_scope = EXCLUDED.owner_scope,
	content_hash = EXCLUDED.content_hash,
	structural_hash = EXCLUDED.structural_hash,
	metadata_hash = EXCLUDED.metadata_hash,
	size_bytes = EXCLUDED.size_bytes,
	file_name = EXCLUDED.file_name,
	mime_type = EXCLUDED.mime_type,
	invoice_date = EXCLUDED.invoice_date,
	invoice_total = EXCLUDED.invoice_total
`
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		fp.DocumentID, fp.OwnerScope, fp.ContentHash, fp.StructuralHash, fp.MetadataHash,
		fp.SizeBytes, fp.FileName, fp.MimeType, fp.InvoiceDate, fp.InvoiceTotal, fp.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save fingerprint", zap.String("document_id", fp.DocumentID), zap.Error(err))
		return fmt.Errorf("save fingerprint: %w", err)
	}
	return nil
}

// Claim reserves (owner_scope, content_hash) for fp. The insert is a no-op when
// the pair is already held; the follow-up read reports the holder.
func (r *FingerprintRepository) Claim(ctx context.Context, fp *entity.Fingerprint) (string, error) {
	const insert = `
INSERT INTO fingerprint_claims (owner_scope, content_hash, document_id)
VALUES ($1, $2, $3)
ON CONFLICT (owner_scope, content_hash) DO NOTHING
`
	if _, err := r.db.ExecContext(ctx, insert, fp.OwnerScope, fp.ContentHash, fp.DocumentID); err != nil {
		r.logger.Error("Failed to claim fingerprint", zap.String("document_id", fp.DocumentID), zap.Error(err))
		return "", fmt.Errorf("claim fingerprint: %w", err)
	}

	var claimedBy string
	const lookup = `SELECT document_id FROM fingerprint_claims WHERE owner_scope = $1 AND content_hash = $2`
	if err := r.db.QueryRowContext(ctx, lookup, fp.OwnerScope, fp.ContentHash).Scan(&claimedBy); err != nil {
		return "", fmt.Errorf("read fingerprint claim: %w", err)
	}

	if claimedBy != fp.DocumentID {
		return claimedBy, entity.ErrFingerprintClaimed
	}
	return claimedBy, nil
}

var _ port.FingerprintRepository = (*FingerprintRepository)(nil)
