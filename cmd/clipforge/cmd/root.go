// Package cmd implements the CLI commands for clipforge.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/observability"
	"github.com/clipforge/clipforge/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "clipforge",
	Short:   "Sports-video highlight extraction and live commentary engine",
	Version: version.Short(),
	Long: `clipforge ingests a video URL (VOD or live stream), segments it into
chunks, detects highlight moments with a multimodal model, trims and
captions each highlight, and streams the resulting clips to clients over
WebSocket. An optional commentary pipeline narrates the stream with
synthesized audio.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/clipforge)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// setup loads .env and the configuration, then installs the default
// logger with the API key registered for redaction.
//
// Flag values override config/env only when explicitly set, preserving
// the priority: CLI flag > env var > config file > default.
func setup() (*config.Config, error) {
	// A missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ := rootCmd.PersistentFlags().GetString("log-level")
		cfg.Logging.Level = strings.ToLower(level)
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ := rootCmd.PersistentFlags().GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}
	if key := config.APIKey(); key != "" {
		observability.RegisterSecret(key)
	}
	if cfg.Ingest.CookiesFile != "" {
		observability.RegisterSecret(cfg.Ingest.CookiesFile)
	}

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)

	return cfg, nil
}
