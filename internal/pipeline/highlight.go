package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/observability"
)

// minCacheChunks floors the rolling buffer size for small window configs.
const minCacheChunks = 20

// HighlightConsumer slides an analysis window over the chunk stream. The
// window advances by the configured step on a miss and by a full window on
// a hit, so no two emitted highlights ever share a chunk.
type HighlightConsumer struct {
	cfg           config.PipelineConfig
	chunkDuration int
	analyzer      Analyzer
	transformer   MediaTransformer
	logger        *slog.Logger
}

// NewHighlightConsumer creates a highlight consumer.
func NewHighlightConsumer(pipeCfg config.PipelineConfig, ingestCfg config.IngestConfig, analyzer Analyzer, transformer MediaTransformer, logger *slog.Logger) *HighlightConsumer {
	return &HighlightConsumer{
		cfg:           pipeCfg,
		chunkDuration: ingestCfg.ChunkDuration,
		analyzer:      analyzer,
		transformer:   transformer,
		logger:        observability.WithComponent(logger, "highlight"),
	}
}

// maxCache is the rolling buffer bound in chunks.
func (h *HighlightConsumer) maxCache() int {
	if c := 3 * h.cfg.WindowSize; c > minCacheChunks {
		return c
	}
	return minCacheChunks
}

// Run consumes the queue until its sentinel (close) and emits a snippet for
// each detected highlight. The rolling buffer uses absolute sequence
// indices throughout so eviction never shifts window positions.
func (h *HighlightConsumer) Run(ctx context.Context, queue <-chan Chunk, emitter Emitter) error {
	w := h.cfg.WindowSize
	maxCache := h.maxCache()

	var (
		buffer        [][]byte
		base          int // absolute index of buffer[0]
		windowStart   int // absolute index of the next window to process
		lastProcessed = -1
	)

	for {
		var chunk Chunk
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok = <-queue:
		}
		if !ok {
			h.logger.InfoContext(ctx, "chunk stream ended",
				slog.Int("chunks", base+len(buffer)))
			return nil
		}

		buffer = append(buffer, chunk.Data)
		for len(buffer) > maxCache {
			buffer = buffer[1:]
			base++
		}

		// Windows may complete in a burst after the buffer catches up.
		for {
			if windowStart < base {
				// The window start fell out of cache; resume at the
				// oldest chunk still held.
				windowStart = base
			}
			if windowStart <= lastProcessed {
				windowStart = lastProcessed + 1
			}
			if base+len(buffer) < windowStart+w {
				break
			}

			windowChunks := buffer[windowStart-base : windowStart-base+w]
			advance, err := h.processWindow(ctx, windowStart, windowChunks, emitter)
			if err != nil {
				return err
			}
			lastProcessed = windowStart
			windowStart += advance
		}
	}
}

// processWindow runs the stage chain over one window and returns how far
// the window advances: the slide step on a miss, the full window on a hit.
func (h *HighlightConsumer) processWindow(ctx context.Context, windowStart int, chunks [][]byte, emitter Emitter) (int, error) {
	metrics.WindowsAnalyzed.Inc()
	logger := h.logger.With(slog.Int("window_start", windowStart))

	windowVideo, err := h.transformer.Concatenate(ctx, chunks)
	if err != nil {
		logger.WarnContext(ctx, "window concat failed, skipping window",
			slog.String("error", err.Error()))
		return h.cfg.SlideStep, nil
	}
	h.saveDebugWindow(ctx, windowStart, windowVideo)

	detection := h.analyzer.Detect(ctx, windowVideo)
	if detection.Fallback {
		metrics.StageFallbacks.WithLabelValues("detect").Inc()
	}
	if !detection.IsHighlight {
		logger.DebugContext(ctx, "no highlight",
			slog.String("confidence", detection.Confidence))
		return h.cfg.SlideStep, nil
	}

	metrics.HighlightsDetected.Inc()
	logger.InfoContext(ctx, "highlight detected",
		slog.String("confidence", detection.Confidence),
		slog.String("reason", detection.Reason))

	trimmed, trimRange, err := h.analyzer.Trim(ctx, chunks, detection)
	if err != nil {
		logger.WarnContext(ctx, "trim failed, skipping window",
			slog.String("error", err.Error()))
		return h.cfg.SlideStep, nil
	}
	if trimRange.Fallback {
		metrics.StageFallbacks.WithLabelValues("trim").Inc()
	}

	startSeconds := (windowStart + trimRange.Start - 1) * h.chunkDuration
	endSeconds := (windowStart + trimRange.End) * h.chunkDuration

	caption := h.analyzer.GenerateCaption(ctx, trimmed, startSeconds, endSeconds)
	if caption.Fallback {
		metrics.StageFallbacks.WithLabelValues("caption").Inc()
	}

	// Fragmented output plays progressively in browsers; keep the plain
	// MP4 if the rewrite fails.
	video, err := h.transformer.FragmentMP4(ctx, trimmed)
	if err != nil {
		logger.WarnContext(ctx, "fragmenting snippet failed, sending plain mp4",
			slog.String("error", err.Error()))
		video = trimmed
	}

	snippet := Snippet{
		Video:           video,
		Title:           caption.Title,
		Description:     caption.Description,
		KeyAction:       caption.KeyAction,
		StartSeconds:    startSeconds,
		EndSeconds:      endSeconds,
		Confidence:      detection.Confidence,
		Reason:          detection.Reason,
		CaptionFallback: caption.Fallback,
	}
	if err := emitter.EmitSnippet(ctx, snippet); err != nil {
		return 0, err
	}
	metrics.SnippetsEmitted.Inc()

	return h.cfg.WindowSize, nil
}

// saveDebugWindow dumps the analyzed window video when a debug directory
// is configured. Best effort only.
func (h *HighlightConsumer) saveDebugWindow(ctx context.Context, windowStart int, video []byte) {
	if h.cfg.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(h.cfg.DebugDir, 0o755); err != nil {
		h.logger.DebugContext(ctx, "creating debug dir", slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(h.cfg.DebugDir, fmt.Sprintf("window_%06d.mp4", windowStart))
	if err := os.WriteFile(path, video, 0o644); err != nil {
		h.logger.DebugContext(ctx, "writing debug window", slog.String("error", err.Error()))
	}
}
