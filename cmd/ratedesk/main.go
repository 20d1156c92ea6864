// Ratedesk - Rating and configuration reconciliation for insurance quoting.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/ratedesk/internal/backend"
	"github.com/opensource-finance/ratedesk/internal/config"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	verbose bool
	cfg     *domain.Config
)

var rootCmd = &cobra.Command{
	Use:   "ratedesk",
	Short: "Rating and configuration engine for insurance quoting",
	Long: `ratedesk stores and evaluates range-based pricing rules, reconciles
per-domain configuration with the persistence backend and reopens saved
quotes against live master data.

Examples:
  ratedesk serve
  ratedesk evaluate --insurer ins-1 --product car --domain duration_loadings --value 18
  ratedesk resume --insurer ins-1 --quote Q-100`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if cmd.Name() != "serve" && cfg.Logging.Output == "stdout" {
		// keep stdout for command output
		cfg.Logging.Output = "stderr"
	}
	return logging.Initialize(cfg.Logging)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ratedesk %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func newClient() *backend.Client {
	return backend.NewClient(cfg.Backend)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
