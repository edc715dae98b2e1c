package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, model, contents, config)
	resp, _ := args.Get(0).(*genai.GenerateContentResponse)
	return resp, args.Error(1)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(text)}, genai.RoleModel),
		}},
	}
}

func TestExtractAmounts_SendsDocumentInline(t *testing.T) {
	gen := new(MockGenerator)
	e := newExtractor(gen, "", zap.NewNop())
	pdf := []byte("%PDF-1.7 ...")

	gen.On("GenerateContent", mock.Anything, DefaultModel, mock.MatchedBy(func(contents []*genai.Content) bool {
		parts := contents[0].Parts
		return len(parts) == 2 &&
			parts[1].InlineData != nil &&
			parts[1].InlineData.MIMEType == "application/pdf" &&
			string(parts[1].InlineData.Data) == string(pdf)
	}), mock.Anything).Return(textResponse(`{"vat_amounts":[{"value":4.6,"confidence":0.85},{"value":0,"confidence":0.2}]}`), nil)

	amounts, err := e.ExtractAmounts(context.Background(), pdf, "application/pdf")
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, 4.6, amounts[0].Value)
	assert.Equal(t, 0.85, amounts[0].Confidence)
	gen.AssertExpectations(t)
}

func TestExtractAmounts_TruncatedReplyIsRepaired(t *testing.T) {
	gen := new(MockGenerator)
	e := newExtractor(gen, "gemini-pro", zap.NewNop())

	gen.On("GenerateContent", mock.Anything, "gemini-pro", mock.Anything, mock.Anything).
		Return(textResponse(`{"vat_amounts":[{"value":12.5,"confidence":0.6}`), nil)

	amounts, err := e.ExtractAmounts(context.Background(), []byte("x"), "image/png")
	require.NoError(t, err)
	require.Len(t, amounts, 1)
	assert.Equal(t, 12.5, amounts[0].Value)
}

func TestExtractAmounts_QuotaError(t *testing.T) {
	gen := new(MockGenerator)
	e := newExtractor(gen, "", zap.NewNop())

	gen.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"})

	_, err := e.ExtractAmounts(context.Background(), []byte("x"), "image/png")
	assert.ErrorIs(t, err, entity.ErrQuotaExceeded)
}

func TestNewExtractor_RequiresKey(t *testing.T) {
	_, err := NewExtractor(context.Background(), "", "", zap.NewNop())
	assert.Error(t, err)
}
