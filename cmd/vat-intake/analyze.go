package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/container"
	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/garyjia/vat-intake/pkg/utils"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file> [files...]",
	Short: "Analyze local documents and print the results as JSON",
	Long: `Analyze runs each file through the full pipeline: fingerprint, duplicate
check against earlier documents of the same owner, VAT amount extraction,
compliance validation and review routing. Results are stored like uploads
through the API and printed to stdout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("owner", "", "owner scope for duplicate detection (required)")
	analyzeCmd.Flags().String("category", "purchase", "document category: sales, purchase or other")
	analyzeCmd.Flags().String("type", "", "document type: invoice, receipt, credit_note, refund or statement")
	analyzeCmd.Flags().Int("parallel", 4, "documents processed concurrently")
	_ = analyzeCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	owner, _ := cmd.Flags().GetString("owner")
	category, _ := cmd.Flags().GetString("category")
	docType, _ := cmd.Flags().GetString("type")
	parallel, _ := cmd.Flags().GetInt("parallel")

	if err := utils.ValidateOwnerScope(owner); err != nil {
		return err
	}
	if err := utils.ValidateDocumentType(docType); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := commandLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	docs := make([]entity.RawDocument, 0, len(args))
	for _, path := range args {
		doc, err := readDocument(path, owner, category, docType, cfg.Server.MaxUploadBytes)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

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
			logger.Warn("Container close failed", zap.Error(err))
		}
	}()

	items := c.Pipeline().ProcessBatch(ctx, docs, parallel)

	failed := 0
	out := make([]map[string]interface{}, len(items))
	for i, item := range items {
		entry := map[string]interface{}{"file": args[i]}
		if item.Err != nil {
			failed++
			entry["error"] = item.Err.Error()
		} else {
			entry["result"] = item.Result
		}
		out[i] = entry
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents were not processed", failed, len(items))
	}
	return nil
}

// readDocument loads a file, sniffing its MIME type from the content
func readDocument(path, owner, category, docType string, limit int64) (entity.RawDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return entity.RawDocument{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := utils.ValidateUploadSize(int64(len(content)), limit); err != nil {
		return entity.RawDocument{}, fmt.Errorf("%s: %w", path, err)
	}

	return entity.RawDocument{
		Content:      content,
		MimeType:     mimetype.Detect(content).String(),
		FileName:     filepath.Base(path),
		Category:     utils.NormalizeCategory(category),
		OwnerScope:   owner,
		DocumentType: docType,
		UploadedAt:   time.Now().UTC(),
	}, nil
}
