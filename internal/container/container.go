package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/application/service"
	"github.com/garyjia/vat-intake/internal/config"
	"github.com/garyjia/vat-intake/internal/observability/metrics"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *DatabaseBundle
	repositories *RepositoryBundle

	// Infrastructure - External
	extraction     *ExtractionBundle
	publisher      port.ResultPublisher
	closePublisher func()

	// Application
	metrics  *metrics.PipelineMetrics
	pipeline service.PipelineService

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config:  cfg,
		logger:  logger,
		metrics: metrics.NewPipelineMetrics(),
	}, nil
}

// Start initializes all components:
// 1. Database and repositories
// 2. External provider and extraction chain
// 3. Result publisher
// 4. Pipeline service
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db

	repos, err := ProvideRepositories(db, c.logger)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}
	c.repositories = repos
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	external, err := ProvideExternalExtractor(ctx, c.config.External, c.metrics, c.logger)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize external extractor: %w", err)
	}
	bundle, err := ProvideExtraction(c.config.Extraction, c.config.Experiment.ID, external, c.logger)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize extraction: %w", err)
	}
	c.extraction = bundle
	c.logger.Info("Extraction chain initialized")

	publisher, closePublisher, err := ProvidePublisher(c.config.Queue, c.logger)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize publisher: %w", err)
	}
	c.publisher = publisher
	c.closePublisher = closePublisher

	pipeline, err := ProvidePipeline(c.config, PipelineDeps{
		Repos:      c.repositories,
		TxManager:  c.db.TransactionMgr,
		Extraction: c.extraction,
		Publisher:  c.publisher,
		Metrics:    c.metrics,
	}, c.logger)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	c.pipeline = pipeline

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close releases resources in reverse initialization order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error

	if c.closePublisher != nil {
		c.closePublisher()
		c.closePublisher = nil
		c.logger.Info("Publisher closed")
	}

	if c.db != nil {
		if c.db.Postgres != nil {
			if err := c.db.Postgres.Close(); err != nil {
				c.logger.Error("Failed to close postgres", zap.Error(err))
				errs = append(errs, fmt.Errorf("close postgres: %w", err))
			}
		}
		if c.db.Store != nil {
			if err := c.db.Store.Close(); err != nil {
				c.logger.Error("Failed to close database", zap.Error(err))
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		c.db = nil
	}

	return errs
}

// Ready reports whether Start completed.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health pings the databases and reports which components are wired.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.db == nil || c.db.Store == nil:
		set("database", false, "not initialized")
	default:
		if err := c.db.Store.PingContext(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
		if c.db.Postgres != nil {
			if err := c.db.Postgres.PingContext(ctx); err != nil {
				set("postgres", false, fmt.Sprintf("ping failed: %v", err))
			} else {
				set("postgres", true, "")
			}
		}
	}

	if c.extraction == nil {
		set("extraction", false, "not initialized")
	} else {
		msg := "external provider disabled"
		if c.extraction.External != nil {
			msg = "external provider " + c.extraction.External.Name()
		}
		set("extraction", true, msg)
	}

	if c.pipeline == nil {
		set("pipeline", false, "not initialized")
	} else {
		set("pipeline", true, "")
	}

	return status
}

// Pipeline returns the pipeline service.
func (c *Container) Pipeline() service.PipelineService {
	return c.pipeline
}

// Metrics returns the pipeline metrics.
func (c *Container) Metrics() *metrics.PipelineMetrics {
	return c.metrics
}

// Repositories returns the repository bundle.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}
