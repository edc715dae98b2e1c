package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/container"
	httpapi "github.com/garyjia/vat-intake/internal/interfaces/http"
	"github.com/garyjia/vat-intake/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes the pipeline over HTTP:

  POST /api/v1/documents/analyze   multipart upload of one document
  POST /api/v1/documents/batch     multipart upload of several documents
  GET  /api/v1/documents/:id       stored result of a processed document
  GET  /health, GET /metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "override server.port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	logger, err := utils.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vat-intake",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		BatchParallel:  cfg.Server.BatchParallel,
		MaxBatchFiles:  cfg.Server.MaxBatchFiles,
		Version:        version,
	}, c.Pipeline(), c.Metrics().Handler(), c.Metrics(), logger)

	return server.Start(ctx)
}
