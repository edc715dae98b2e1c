// Package gemini reads VAT amounts with Google's Gemini models. Unlike the
// chat endpoint, Gemini accepts PDF bytes inline.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/garyjia/vat-intake/internal/infrastructure/external"
)

// ProviderName identifies this extractor in logs and candidate labels
const ProviderName = "gemini"

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-2.0-flash"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Extractor implements port.ExternalExtractor with the GenAI SDK
type Extractor struct {
	models generator
	model  string
	logger *zap.Logger
}

// NewExtractor creates a Gemini extractor backed by the Gemini API
func NewExtractor(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Extractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newExtractor(client.Models, model, logger), nil
}

func newExtractor(models generator, model string, logger *zap.Logger) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	return &Extractor{models: models, model: model, logger: logger}
}

// Name returns the provider name
func (e *Extractor) Name() string { return ProviderName }

// ExtractAmounts sends the document inline with the extraction prompt
func (e *Extractor) ExtractAmounts(ctx context.Context, content []byte, mimeType string) ([]port.ExternalAmount, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	prompt := strings.ReplaceAll(external.DefaultUserPrompt, "{{.Kind}}", external.DocumentKind(mimeType))

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(content, mimeType),
		}, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.1)),
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: external.SystemPrompt}},
		},
	}

	result, err := e.models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		e.logger.Error("Gemini generation failed", zap.Error(err))
		return nil, classify(err)
	}
	if result == nil {
		return nil, fmt.Errorf("no response from Gemini: %w", entity.ErrStrategyUnavailable)
	}

	amounts, err := external.ParseReply(result.Text())
	if err != nil {
		e.logger.Error("Failed to parse Gemini response", zap.Error(err))
		return nil, err
	}

	e.logger.Info("VAT amounts extracted",
		zap.String("provider", ProviderName),
		zap.Int("amounts", len(amounts)))
	return amounts, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", entity.ErrExtractionTimeout, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return external.ClassifyStatus(apiErr.Code, err)
	}
	return fmt.Errorf("%w: %v", entity.ErrStrategyUnavailable, err)
}

var _ port.ExternalExtractor = (*Extractor)(nil)
