package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/vat-intake/internal/compliance"
	"github.com/garyjia/vat-intake/internal/confidence"
	"github.com/garyjia/vat-intake/internal/dedup"
	"github.com/garyjia/vat-intake/internal/infrastructure/resilience"
	"github.com/garyjia/vat-intake/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Database   DatabaseConfig       `mapstructure:"database"`
	Extraction ExtractionConfig     `mapstructure:"extraction"`
	External   ExternalConfig       `mapstructure:"external"`
	Dedup      DedupConfig          `mapstructure:"dedup"`
	Compliance compliance.Config    `mapstructure:"compliance"`
	Review     confidence.Threshold `mapstructure:"review"`
	Experiment ExperimentConfig     `mapstructure:"experiment"`
	Queue      QueueConfig          `mapstructure:"queue"`
	Storage    StorageConfig        `mapstructure:"storage"`
	Logger     utils.LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	BatchParallel  int           `mapstructure:"batch_parallelism"`
	MaxBatchFiles  int           `mapstructure:"max_batch_files"`
}

// DatabaseConfig holds database configuration. The sqlite driver stores
// fingerprints and results in one file; postgres holds fingerprints only.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExtractionConfig holds the extraction chain settings
type ExtractionConfig struct {
	AcceptableConfidence float64       `mapstructure:"acceptable_confidence"`
	ExternalTimeout      time.Duration `mapstructure:"external_timeout"`
	PDFBackend           string        `mapstructure:"pdf_backend"`
	PDFMaxPages          int           `mapstructure:"pdf_max_pages"`
	TuningFile           string        `mapstructure:"tuning_file"`
}

// ExternalConfig selects and guards the document-understanding provider
type ExternalConfig struct {
	Provider     string `mapstructure:"provider"` // openai, gemini or none
	Model        string `mapstructure:"model"`
	BaseURL      string `mapstructure:"base_url"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	PromptsFile  string `mapstructure:"prompts_file"`

	resilience.Config `mapstructure:",squash"`
}

// DedupConfig holds duplicate scoring settings
type DedupConfig struct {
	Threshold       float64       `mapstructure:"threshold"`
	Weights         dedup.Weights `mapstructure:"weights"`
	SizeRatio       float64       `mapstructure:"size_ratio"`
	NameSimilarity  float64       `mapstructure:"name_similarity"`
	ClaimBeforeScan bool          `mapstructure:"claim_before_scan"`
}

// DetectorConfig converts to the detector's configuration
func (d DedupConfig) DetectorConfig() dedup.Config {
	return dedup.Config{
		Weights:         d.Weights,
		Threshold:       d.Threshold,
		SizeRatio:       d.SizeRatio,
		NameSimilarity:  d.NameSimilarity,
		ClaimBeforeScan: d.ClaimBeforeScan,
	}
}

// ExperimentConfig identifies the strategy-order experiment
type ExperimentConfig struct {
	ID string `mapstructure:"id"`
}

// QueueConfig holds the result publisher settings. An empty URL disables publishing.
type QueueConfig struct {
	NATSURL        string        `mapstructure:"nats_url"`
	Subject        string        `mapstructure:"subject"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig holds where original uploads are archived. An empty dir
// disables archiving.
type StorageConfig struct {
	ArchiveDir string `mapstructure:"archive_dir"`
}

// Load loads configuration from file and environment variables. An empty
// path uses defaults and environment only. A .env file next to the working
// directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("VAT_INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", 20<<20)
	v.SetDefault("server.batch_parallelism", 4)
	v.SetDefault("server.max_batch_files", 20)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/vat-intake.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Extraction defaults
	v.SetDefault("extraction.acceptable_confidence", 0.6)
	v.SetDefault("extraction.external_timeout", 30*time.Second)
	v.SetDefault("extraction.pdf_backend", "fitz")
	v.SetDefault("extraction.pdf_max_pages", 20)
	v.SetDefault("extraction.tuning_file", "configs/extraction.yaml")

	// External provider defaults
	res := resilience.DefaultConfig()
	v.SetDefault("external.provider", "none")
	v.SetDefault("external.model", "")
	v.SetDefault("external.base_url", "")
	v.SetDefault("external.prompts_file", "")
	v.SetDefault("external.retry_max_attempts", res.RetryMaxAttempts)
	v.SetDefault("external.retry_initial_backoff", res.RetryInitialBackoff)
	v.SetDefault("external.retry_max_backoff", res.RetryMaxBackoff)
	v.SetDefault("external.retry_multiplier", res.RetryMultiplier)
	v.SetDefault("external.breaker_enabled", res.BreakerEnabled)
	v.SetDefault("external.breaker_min_requests", res.BreakerMinRequests)
	v.SetDefault("external.breaker_failure_ratio", res.BreakerFailureRatio)
	v.SetDefault("external.breaker_open_timeout", res.BreakerOpenTimeout)
	v.SetDefault("external.breaker_half_open_max_calls", res.BreakerHalfOpenMaxCalls)
	v.SetDefault("external.rate_per_minute", res.RatePerMinute)
	v.SetDefault("external.burst", res.Burst)

	// Dedup defaults
	d := dedup.DefaultConfig()
	v.SetDefault("dedup.threshold", d.Threshold)
	v.SetDefault("dedup.weights.content", d.Weights.Content)
	v.SetDefault("dedup.weights.size", d.Weights.Size)
	v.SetDefault("dedup.weights.filename", d.Weights.FileName)
	v.SetDefault("dedup.weights.date", d.Weights.Date)
	v.SetDefault("dedup.weights.total", d.Weights.Total)
	v.SetDefault("dedup.size_ratio", d.SizeRatio)
	v.SetDefault("dedup.name_similarity", d.NameSimilarity)
	v.SetDefault("dedup.claim_before_scan", false)

	// Compliance defaults
	v.SetDefault("compliance.country_prefix", compliance.DefaultCountryPrefix)
	v.SetDefault("compliance.expected_currency", compliance.DefaultExpectedCurrency)
	v.SetDefault("compliance.extra_rates", []float64{})

	// Review routing defaults
	t := confidence.DefaultThreshold()
	v.SetDefault("review.accept", t.Accept)
	v.SetDefault("review.review", t.Review)
	v.SetDefault("review.version", t.Version)

	v.SetDefault("experiment.id", "strategy-order")

	// Queue defaults
	v.SetDefault("queue.nats_url", "")
	v.SetDefault("queue.subject", "vat.document.processed")
	v.SetDefault("queue.connect_timeout", 2*time.Second)

	// Storage defaults
	v.SetDefault("storage.archive_dir", "")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("external.openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("external.gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("queue.nats_url", "NATS_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the result store")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if c.Extraction.AcceptableConfidence <= 0 || c.Extraction.AcceptableConfidence > 1 {
		return fmt.Errorf("extraction.acceptable_confidence must be in (0,1], got %.2f", c.Extraction.AcceptableConfidence)
	}
	if c.Extraction.ExternalTimeout <= 0 {
		return fmt.Errorf("extraction.external_timeout must be positive")
	}

	switch c.External.Provider {
	case "none", "":
	case "openai":
		if c.External.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "gemini":
		if c.External.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown external.provider %q", c.External.Provider)
	}

	if err := c.Dedup.DetectorConfig().Validate(); err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if err := c.Review.Validate(); err != nil {
		return fmt.Errorf("review: %w", err)
	}

	return nil
}

// Address returns the HTTP listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OptionalFile returns path when the file exists, "" otherwise
func OptionalFile(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
