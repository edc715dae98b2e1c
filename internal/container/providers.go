// Package container provides dependency injection and lifecycle management
// for the VAT intake pipeline.
package container

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/application/service"
	"github.com/garyjia/vat-intake/internal/compliance"
	"github.com/garyjia/vat-intake/internal/confidence"
	"github.com/garyjia/vat-intake/internal/config"
	"github.com/garyjia/vat-intake/internal/dedup"
	"github.com/garyjia/vat-intake/internal/experiment"
	"github.com/garyjia/vat-intake/internal/extraction"
	"github.com/garyjia/vat-intake/internal/fingerprint"
	"github.com/garyjia/vat-intake/internal/infrastructure/decoder"
	"github.com/garyjia/vat-intake/internal/infrastructure/external/gemini"
	"github.com/garyjia/vat-intake/internal/infrastructure/external/openai"
	"github.com/garyjia/vat-intake/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/vat-intake/internal/infrastructure/persistence/sqlite"
	natsqueue "github.com/garyjia/vat-intake/internal/infrastructure/queue/nats"
	"github.com/garyjia/vat-intake/internal/infrastructure/resilience"
	"github.com/garyjia/vat-intake/internal/infrastructure/storage"
	"github.com/garyjia/vat-intake/internal/observability/metrics"
	"github.com/garyjia/vat-intake/pkg/database"
)

// DatabaseBundle holds database-related components. Postgres is set only
// when fingerprints live there.
type DatabaseBundle struct {
	Store          *database.DB
	Postgres       *sql.DB
	TransactionMgr port.TransactionManager
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Fingerprint port.FingerprintRepository
	Result      port.ResultRepository
}

// ExtractionBundle holds the extraction chain and its collaborators.
type ExtractionBundle struct {
	Decoder  port.DocumentDecoder
	External port.ExternalExtractor
	Engine   *extraction.Engine
}

// ProvideDatabase opens the sqlite store, applies the embedded migrations and,
// for the postgres driver, connects the fingerprint database.
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	store, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(store, logger).Run(ctx, database.EmbeddedMigrations())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database migrations complete", zap.Int("applied", applied))

	bundle := &DatabaseBundle{Store: store}
	if cfg.Driver != "postgres" {
		bundle.TransactionMgr = sqlite.NewDB(store.DB, logger)
		return bundle, nil
	}

	pg, err := postgres.OpenDB(cfg.DSN)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	if err := postgres.NewFingerprintRepository(pg, logger).EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		_ = store.Close()
		return nil, err
	}
	bundle.Postgres = pg
	return bundle, nil
}

// ProvideRepositories creates the repositories on the opened databases.
func ProvideRepositories(db *DatabaseBundle, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil || db.Store == nil {
		return nil, fmt.Errorf("database is required")
	}

	repos := &RepositoryBundle{
		Fingerprint: sqlite.NewFingerprintRepository(db.Store.DB, logger),
		Result:      sqlite.NewResultRepository(db.Store.DB, logger),
	}
	if db.Postgres != nil {
		repos.Fingerprint = postgres.NewFingerprintRepository(db.Postgres, logger)
	}
	return repos, nil
}

// ProvideExternalExtractor creates the configured provider behind the
// resilience guard. It returns nil when the provider is "none".
func ProvideExternalExtractor(ctx context.Context, cfg config.ExternalConfig, observer resilience.CallObserver, logger *zap.Logger) (port.ExternalExtractor, error) {
	var inner port.ExternalExtractor

	switch cfg.Provider {
	case "", "none":
		logger.Info("External extraction disabled")
		return nil, nil

	case openai.ProviderName:
		prompts := openai.DefaultPrompts()
		if path := config.OptionalFile(cfg.PromptsFile); path != "" {
			loaded, err := openai.LoadPrompts(path)
			if err != nil {
				return nil, err
			}
			prompts = loaded
		}
		inner = openai.NewExtractor(cfg.OpenAIAPIKey, cfg.BaseURL, cfg.Model, prompts, logger)

	case gemini.ProviderName:
		g, err := gemini.NewExtractor(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		inner = g

	default:
		return nil, fmt.Errorf("unknown external provider %q", cfg.Provider)
	}

	logger.Info("External extraction enabled",
		zap.String("provider", inner.Name()),
		zap.Int("rate_per_minute", cfg.RatePerMinute))
	return resilience.NewGuardedExtractor(inner, cfg.Config, observer, logger), nil
}

// ProvideExtraction assembles the strategy chain and applies the tuning file.
func ProvideExtraction(cfg config.ExtractionConfig, experimentID string, external port.ExternalExtractor, logger *zap.Logger) (*ExtractionBundle, error) {
	pdf, err := decoder.New(cfg.PDFBackend, cfg.PDFMaxPages, logger)
	if err != nil {
		return nil, err
	}

	var strategies []extraction.Strategy
	if external != nil {
		strategies = append(strategies, extraction.NewExternalStrategy(external, cfg.ExternalTimeout, logger))
	}

	engine := extraction.NewEngine(
		extraction.NewPreparer(pdf, logger),
		experiment.NewAssigner(experimentID),
		logger,
		strategies...,
	)

	tuning := extraction.DefaultTuning()
	tuning.AcceptableConfidence = cfg.AcceptableConfidence
	if path := config.OptionalFile(cfg.TuningFile); path != "" {
		tuning, err = extraction.LoadTuning(path)
		if err != nil {
			return nil, err
		}
	}
	if err := engine.ApplyTuning(tuning); err != nil {
		return nil, err
	}

	return &ExtractionBundle{Decoder: pdf, External: external, Engine: engine}, nil
}

// ProvidePublisher connects to NATS, or returns a no-op publisher when no
// URL is configured.
func ProvidePublisher(cfg config.QueueConfig, logger *zap.Logger) (port.ResultPublisher, func(), error) {
	if cfg.NATSURL == "" {
		return natsqueue.NoopPublisher{}, func() {}, nil
	}

	pub, err := natsqueue.New(cfg.NATSURL, cfg.Subject, natsqueue.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Executor:       resilience.NewExecutor(resilience.DefaultConfig(), logger),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}

// ProvideArchive returns the original-document archive, or nil when no
// archive dir is configured.
func ProvideArchive(cfg config.StorageConfig, logger *zap.Logger) port.DocumentArchive {
	if cfg.ArchiveDir == "" {
		return nil
	}
	logger.Info("Archiving original documents", zap.String("dir", cfg.ArchiveDir))
	return storage.NewLocalArchive(cfg.ArchiveDir, logger)
}

// PipelineDeps holds what ProvidePipeline needs besides configuration.
type PipelineDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Extraction *ExtractionBundle
	Publisher  port.ResultPublisher
	Archive    port.DocumentArchive
	Metrics    *metrics.PipelineMetrics
	Clock      port.Clock
}

// ProvidePipeline wires the pipeline service.
func ProvidePipeline(cfg *config.Config, deps PipelineDeps, logger *zap.Logger) (service.PipelineService, error) {
	if deps.Repos == nil || deps.Extraction == nil {
		return nil, fmt.Errorf("repositories and extraction are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = port.SystemClock{}
	}

	pipelineDeps := service.PipelineDeps{
		Fingerprints:    fingerprint.NewGenerator(clock),
		Dedup:           dedup.NewDetector(deps.Repos.Fingerprint, cfg.Dedup.DetectorConfig(), logger),
		Extractor:       deps.Extraction.Engine,
		Compliance:      compliance.NewValidator(cfg.Compliance, clock, logger),
		Router:          confidence.NewRouter(cfg.Review),
		FingerprintRepo: deps.Repos.Fingerprint,
		ResultRepo:      deps.Repos.Result,
		TxManager:       deps.TxManager,
		Publisher:       deps.Publisher,
		Archive:         deps.Archive,
		Clock:           clock,
	}
	if deps.Metrics != nil {
		pipelineDeps.Metrics = deps.Metrics
	}

	return service.NewPipelineService(pipelineDeps, logger), nil
}
