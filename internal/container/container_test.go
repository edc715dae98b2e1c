package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/config"
	"github.com/garyjia/vat-intake/internal/domain/entity"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "intake.db")
	cfg.Extraction.TuningFile = ""
	cfg.Queue.NATSURL = ""
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "invalid config")
}

func TestContainer_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.ArchiveDir = filepath.Join(t.TempDir(), "archive")
	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx))

	health := c.Health(ctx)
	assert.True(t, health.Overall)
	assert.Equal(t, "external provider disabled", health.Components["extraction"].Message)

	doc := entity.RawDocument{
		ID:         "doc-1",
		Content:    []byte("Invoice 88\nVAT (23%): €92.00\nTotal: €492.00\n"),
		MimeType:   "text/plain",
		FileName:   "invoice-88.txt",
		OwnerScope: "org-1",
		UploadedAt: time.Now(),
	}
	result, err := c.Pipeline().Process(ctx, doc)
	require.NoError(t, err)
	assert.InDelta(t, 92.0, result.Extraction.PrimaryAmount, 0.001)
	assert.Equal(t, "org-1/doc-1/invoice-88.txt", result.ArchivePath)
	archived, err := os.ReadFile(filepath.Join(cfg.Storage.ArchiveDir, "org-1", "doc-1", "invoice-88.txt"))
	require.NoError(t, err)
	assert.Equal(t, doc.Content, archived)

	stored, err := c.Pipeline().GetResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, result.Extraction.PrimaryAmount, stored.Extraction.PrimaryAmount)

	// Same bytes under a new ID is an exact duplicate of the first upload
	doc.ID = "doc-2"
	again, err := c.Pipeline().Process(ctx, doc)
	require.NoError(t, err)
	assert.True(t, again.Duplicate.IsDuplicate)
	assert.Equal(t, "doc-1", again.Duplicate.DuplicateOfID)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestProvideExtraction_TuningFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extraction.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
acceptable_confidence: 0.7
variants:
  - name: pattern-first
    order: [pattern_text, tabular, external]
`), 0o644))

	cfg := testConfig(t).Extraction
	cfg.TuningFile = path

	bundle, err := ProvideExtraction(cfg, "strategy-order", nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, bundle.External)

	result := bundle.Engine.Extract(context.Background(), entity.RawDocument{
		ID:         "d",
		Content:    []byte("VAT (23%): €92.00"),
		MimeType:   "text/plain",
		OwnerScope: "org-1",
	})
	assert.Equal(t, "pattern-first", result.Variant)
}

func TestProvideExtraction_BadTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extraction.yaml")
	require.NoError(t, os.WriteFile(path, []byte("variants:\n  - name: x\n    order: [ocr]\n"), 0o644))

	cfg := testConfig(t).Extraction
	cfg.TuningFile = path

	_, err := ProvideExtraction(cfg, "strategy-order", nil, zap.NewNop())
	assert.Error(t, err)
}

func TestProvideExternalExtractor(t *testing.T) {
	cfg := testConfig(t).External

	ext, err := ProvideExternalExtractor(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, ext)

	cfg.Provider = "openai"
	cfg.OpenAIAPIKey = "sk-test"
	ext, err = ProvideExternalExtractor(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "openai", ext.Name())

	cfg.Provider = "azure"
	_, err = ProvideExternalExtractor(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)
}
