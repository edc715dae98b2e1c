package port

import (
	"context"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// ExternalAmount is one VAT amount reported by a document-understanding service
type ExternalAmount struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
}

// ExternalExtractor is the document-understanding collaborator used as the external strategy.
// Failures should wrap entity.ErrExtractionTimeout, entity.ErrQuotaExceeded or entity.ErrInvalidInput.
type ExternalExtractor interface {
	Name() string
	ExtractAmounts(ctx context.Context, content []byte, mimeType string) ([]ExternalAmount, error)
}

// DocumentDecoder turns a binary document (PDF) into plain text
type DocumentDecoder interface {
	DecodeText(ctx context.Context, content []byte) (string, error)
}

// ResultPublisher hands processed results to downstream consumers
type ResultPublisher interface {
	PublishProcessed(ctx context.Context, result *entity.ProcessingResult) error
}
