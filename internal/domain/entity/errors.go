package entity

import (
	"errors"
	"fmt"
)

// Domain errors shared across the pipeline

var (
	// External extraction failures
	ErrExtractionTimeout   = errors.New("external extraction timed out")
	ErrQuotaExceeded       = errors.New("external extraction quota exceeded")
	ErrInvalidInput        = errors.New("external extraction rejected input")
	ErrStrategyUnavailable = errors.New("extraction strategy unavailable")

	// Decoding failures
	ErrDecodeFailed       = errors.New("document decode failed")
	ErrUnsupportedContent = errors.New("unsupported content type")

	// Persistence
	ErrDocumentNotFound   = errors.New("document not found")
	ErrFingerprintClaimed = errors.New("fingerprint already claimed in owner scope")
)

// WrapError preserves a sentinel kind together with operation context
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}
