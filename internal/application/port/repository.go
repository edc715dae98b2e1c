package port

import (
	"context"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// FingerprintRepository defines persistence operations for document fingerprints.
// Reads are always scoped to a single owner.
type FingerprintRepository interface {
	// ListByOwner returns prior fingerprints of ownerScope, skipping excludeID when set
	ListByOwner(ctx context.Context, ownerScope, excludeID string) ([]*entity.Fingerprint, error)

	// Save inserts or updates the fingerprint of a document
	Save(ctx context.Context, fp *entity.Fingerprint) error

	// Claim reserves (owner_scope, content_hash) for a document before the duplicate scan.
	// Returns entity.ErrFingerprintClaimed when another document already holds it.
	Claim(ctx context.Context, fp *entity.Fingerprint) (claimedBy string, err error)
}

// ResultRepository defines persistence operations for processing results
type ResultRepository interface {
	Save(ctx context.Context, result *entity.ProcessingResult) error
	GetByDocumentID(ctx context.Context, documentID string) (*entity.ProcessingResult, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
