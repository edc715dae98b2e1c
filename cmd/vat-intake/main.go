// Package main is the entry point for the vat-intake CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/config"
	"github.com/garyjia/vat-intake/pkg/utils"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the vat-intake CLI.
var rootCmd = &cobra.Command{
	Use:   "vat-intake",
	Short: "Irish VAT document intake",
	Long: `vat-intake fingerprints uploaded invoices, receipts and statements,
flags duplicates, extracts VAT amounts and checks them against Irish
Revenue rules.

Run "analyze" for local files, "serve" for the HTTP API and "migrate"
to prepare the database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "config file (empty for defaults and environment only)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")
}

// loadConfig reads the --config file. A missing default file falls back to
// defaults and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if !cmd.Flags().Changed("config") {
		path = config.OptionalFile(path)
	}
	return config.Load(path)
}

// commandLogger logs to stderr for one-shot commands
func commandLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return utils.NewCLILogger(verbose)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
