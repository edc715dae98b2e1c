package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/vat-intake/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Migrate applies the embedded SQLite migrations and, for the postgres
driver, creates the fingerprint tables. It is safe to run repeatedly.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := commandLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.New(database.Config{Path: cfg.Database.Path}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.NewMigrator(db, logger).Run(cmd.Context(), database.EmbeddedMigrations())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sqlite %s: %d migrations applied\n", cfg.Database.Path, applied)

	if cfg.Database.Driver == "postgres" {
		pg, err := postgres.OpenDB(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := postgres.NewFingerprintRepository(pg, logger).EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Postgres fingerprint schema ready")
		fmt.Fprintln(cmd.OutOrStdout(), "postgres: fingerprint schema ready")
	}

	logger.Debug("Migrate finished", zap.String("driver", cfg.Database.Driver))
	return nil
}
