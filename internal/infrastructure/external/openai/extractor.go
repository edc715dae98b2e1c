package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/garyjia/vat-intake/internal/infrastructure/external"
)

// ProviderName identifies this extractor in logs and candidate labels
const ProviderName = "openai"

// maxTextBytes caps text documents sent inline
const maxTextBytes = 64 * 1024

// chatClient is the slice of the OpenAI client the extractor uses
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor implements port.ExternalExtractor with OpenAI vision models
type Extractor struct {
	client  chatClient
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewExtractor creates an OpenAI extractor. baseURL may be empty.
func NewExtractor(apiKey, baseURL, model string, prompts *PromptConfig, logger *zap.Logger) *Extractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newExtractor(openai.NewClientWithConfig(cfg), model, prompts, logger)
}

func newExtractor(client chatClient, model string, prompts *PromptConfig, logger *zap.Logger) *Extractor {
	if model == "" {
		model = openai.GPT4o
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Extractor{
		client:  client,
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

// Name returns the provider name
func (e *Extractor) Name() string { return ProviderName }

// ExtractAmounts sends images through the vision endpoint and text documents inline
func (e *Extractor) ExtractAmounts(ctx context.Context, content []byte, mimeType string) ([]port.ExternalAmount, error) {
	cfg := e.prompts.AmountExtraction

	prompt, err := renderTemplate(cfg.UserTemplate, map[string]string{"Kind": external.DocumentKind(mimeType)})
	if err != nil {
		return nil, err
	}

	user, err := userMessage(prompt, content, mimeType)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Requesting VAT amounts",
		zap.String("model", e.model),
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(content)))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: cfg.System},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI: %w", entity.ErrStrategyUnavailable)
	}

	amounts, err := external.ParseReply(resp.Choices[0].Message.Content)
	if err != nil {
		e.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", resp.Choices[0].Message.Content))
		return nil, err
	}

	e.logger.Info("VAT amounts extracted",
		zap.String("provider", ProviderName),
		zap.Int("amounts", len(amounts)))
	return amounts, nil
}

// userMessage builds a vision message for images and a text message for
// readable text. Other binaries cannot be sent to the chat endpoint.
func userMessage(prompt string, content []byte, mimeType string) (openai.ChatCompletionMessage, error) {
	if strings.HasPrefix(mimeType, "image/") {
		return openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(content)),
						Detail: openai.ImageURLDetailHigh,
					},
				},
			},
		}, nil
	}

	if !utf8.Valid(content) {
		return openai.ChatCompletionMessage{}, fmt.Errorf("%w: %s is not readable by the chat endpoint", entity.ErrInvalidInput, mimeType)
	}
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt + "\n\nDocument:\n" + truncateUTF8(string(content), maxTextBytes),
	}, nil
}

// truncateUTF8 cuts text to at most limit bytes without splitting a rune
func truncateUTF8(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// classify maps client errors to the extraction error kinds
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", entity.ErrExtractionTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return external.ClassifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return external.ClassifyStatus(reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("%w: %v", entity.ErrStrategyUnavailable, err)
}

var _ port.ExternalExtractor = (*Extractor)(nil)
