package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/ingest"
	"github.com/clipforge/clipforge/internal/llm"
	"github.com/clipforge/clipforge/internal/mediatools"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/scratch"
	"github.com/clipforge/clipforge/internal/server"
	"github.com/clipforge/clipforge/internal/stages"
	"github.com/clipforge/clipforge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clipforge server",
	Long: `Start the clipforge HTTP server.

The server provides:
- WebSocket endpoint at /ws/video-snippets for streaming highlights
- Health check at /healthz
- Prometheus metrics at /metrics
- Process status at /api/status`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8000, "Port to listen on")
	serveCmd.Flags().Bool("commentary", false, "Enable the live commentary pipeline")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("commentary") {
		cfg.Commentary.Enabled, _ = cmd.Flags().GetBool("commentary")
	}

	apiKey := config.APIKey()
	if apiKey == "" {
		return fmt.Errorf("%s environment variable is required", config.APIKeyEnv)
	}

	logger := slog.Default()
	logger.Info("starting clipforge",
		slog.String("version", version.Short()),
		slog.Bool("commentary", cfg.Commentary.Enabled))

	bins, err := mediatools.ResolveBinaries(cfg.Tools)
	if err != nil {
		return err
	}

	toolkit := mediatools.NewToolkit(bins, logger)
	ingestor := ingest.NewIngestor(cfg.Ingest, bins, logger)
	generator := llm.NewGeminiClient(cfg.LLM, apiKey)
	chain := stages.NewChain(generator, toolkit, cfg.Pipeline, cfg.Ingest, logger)

	var sessions llm.SessionFactory
	if cfg.Commentary.Enabled {
		sessions = llm.NewLiveFactory(cfg.LLM, cfg.Commentary.SystemInstruction, apiKey)
	}

	runner := pipeline.NewRunner(cfg, ingestor, chain, toolkit, sessions, logger)
	srv := server.NewServer(cfg, runner, logger)

	if cfg.Janitor.Enabled {
		janitor := scratch.NewJanitor(cfg.Janitor, logger)
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("starting scratch janitor: %w", err)
		}
		defer janitor.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}
