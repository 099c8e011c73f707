package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/ingest"
	"github.com/clipforge/clipforge/internal/llm"
	"github.com/clipforge/clipforge/internal/mediatools"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/stages"
)

var processCmd = &cobra.Command{
	Use:   "process <url>",
	Short: "Process one URL and write highlights to disk",
	Long: `Run the highlight pipeline against a single URL without the server,
writing each detected highlight as a numbered MP4 with a JSON metadata
sidecar. With --commentary, narrated commentary chunks are written too.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("output-dir", "highlights", "Directory for highlight files")
	processCmd.Flags().Bool("live", false, "Treat the URL as a live stream")
	processCmd.Flags().Bool("detect-live", false, "Probe the URL to decide liveness")
	processCmd.Flags().Bool("commentary", false, "Enable the live commentary pipeline")
	processCmd.Flags().String("debug-dir", "", "Directory for intermediate window videos")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	url := args[0]

	outputDir, _ := cmd.Flags().GetString("output-dir")
	if cmd.Flags().Changed("commentary") {
		cfg.Commentary.Enabled, _ = cmd.Flags().GetBool("commentary")
	}
	if cmd.Flags().Changed("debug-dir") {
		cfg.Pipeline.DebugDir, _ = cmd.Flags().GetString("debug-dir")
	}

	// --detect-live wins over --live: nil means "probe".
	var live *bool
	if detect, _ := cmd.Flags().GetBool("detect-live"); !detect {
		v, _ := cmd.Flags().GetBool("live")
		live = &v
	}

	apiKey := config.APIKey()
	if apiKey == "" {
		return fmt.Errorf("%s environment variable is required", config.APIKeyEnv)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	logger := slog.Default()
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter := &fileEmitter{dir: outputDir, url: url, toolkit: toolkit, logger: logger}
	if err := runner.Run(ctx, url, live, emitter); err != nil {
		return err
	}

	logger.Info("processing finished",
		slog.Int("highlights", emitter.snippets),
		slog.Int("commentary_chunks", emitter.chunks))
	return nil
}

// fileEmitter writes pipeline output as files. Writes go through renameio
// so a crash never leaves a half-written MP4 behind.
type fileEmitter struct {
	mu       sync.Mutex
	dir      string
	url      string
	toolkit  *mediatools.Toolkit
	logger   *slog.Logger
	snippets int
	chunks   int
}

type snippetSidecar struct {
	SrcVideoURL  string  `json:"src_video_url"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	KeyAction    string  `json:"key_action,omitempty"`
	StartSeconds int     `json:"start_seconds"`
	EndSeconds   int     `json:"end_seconds"`
	Duration     float64 `json:"duration_seconds,omitempty"`
	Confidence   string  `json:"confidence,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

func (e *fileEmitter) EmitSnippet(ctx context.Context, s pipeline.Snippet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snippets++

	base := filepath.Join(e.dir, fmt.Sprintf("highlight_%03d", e.snippets))
	if err := renameio.WriteFile(base+".mp4", s.Video, 0o644); err != nil {
		return fmt.Errorf("writing highlight: %w", err)
	}

	// Measured from the written artifact; index math can differ from the
	// container by a keyframe.
	duration, err := e.toolkit.ProbeDuration(ctx, s.Video)
	if err != nil {
		e.logger.Debug("probing snippet duration", slog.String("error", err.Error()))
		duration = 0
	}

	sidecar, err := json.MarshalIndent(snippetSidecar{
		SrcVideoURL:  e.url,
		Title:        s.Title,
		Description:  s.Description,
		KeyAction:    s.KeyAction,
		StartSeconds: s.StartSeconds,
		EndSeconds:   s.EndSeconds,
		Duration:     duration,
		Confidence:   s.Confidence,
		Reason:       s.Reason,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(base+".json", sidecar, 0o644); err != nil {
		return fmt.Errorf("writing highlight metadata: %w", err)
	}

	e.logger.Info("highlight written",
		slog.String("file", base+".mp4"),
		slog.String("title", s.Title))
	return nil
}

func (e *fileEmitter) EmitCommentary(ctx context.Context, c pipeline.CommentaryChunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks++

	path := filepath.Join(e.dir, fmt.Sprintf("commentary_%03d.mp4", c.ChunkNumber))
	if err := renameio.WriteFile(path, c.Video, 0o644); err != nil {
		return fmt.Errorf("writing commentary chunk: %w", err)
	}
	e.logger.Info("commentary chunk written", slog.String("file", path))
	return nil
}

func (e *fileEmitter) EmitComplete(ctx context.Context) error {
	return nil
}

func (e *fileEmitter) EmitError(ctx context.Context, message string) error {
	e.logger.Warn("pipeline reported error", slog.String("message", message))
	return nil
}
