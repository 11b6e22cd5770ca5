package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratagen/strata/pkg/telemetry"
)

var (
	// Global flags
	logLevel string
	logJSON  bool

	// logger is configured from the global flags before any command runs.
	logger = telemetry.NewLoggerWithWriter(telemetry.DefaultConfig().Logging, os.Stderr)
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "strata - procedural world generation pipeline",
		Long: `strata compiles a recipe of generation steps into an ordered, fingerprinted
plan and runs it against a world.

Features:
  - Steps declare the tags they require and provide; order is derived
  - Recipes in YAML, CUE, HCL or Starlark
  - Deterministic labeled randomness from a single seed
  - Structured trace of every run: logs, spans, metrics, SQLite archive
  - Policy admission via OPA/rego`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	defaultLevel := os.Getenv("LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "info"
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	// Add subcommands
	rootCmd.AddCommand(newStepsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// setupLogging configures the command logger and the global zerolog logger
func setupLogging() error {
	cfg := loggingConfig()
	l, err := telemetry.NewLogger(cfg)
	if err != nil {
		return err
	}
	logger = l
	log.Logger = l.Zerolog()
	return nil
}

func loggingConfig() telemetry.LoggingConfig {
	cfg := telemetry.DefaultConfig().Logging
	cfg.Level = logLevel
	if logJSON {
		cfg.Format = "json"
	}
	return cfg
}
