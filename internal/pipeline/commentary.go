package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/llm"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/observability"
)

// commentaryWindowChunks is how many base chunks form one narration window.
const commentaryWindowChunks = 2

// CommentaryConsumer narrates the chunk stream through a live multimodal
// session: frames from each two-chunk window are streamed in, the prompt
// triggers a spoken turn, and the returned PCM is remuxed over the window's
// video. A final odd chunk is narrated alone.
type CommentaryConsumer struct {
	cfg         config.CommentaryConfig
	chunkDur    int
	transformer MediaTransformer
	sessions    llm.SessionFactory
	logger      *slog.Logger
}

// NewCommentaryConsumer creates a commentary consumer.
func NewCommentaryConsumer(cfg config.CommentaryConfig, ingestCfg config.IngestConfig, transformer MediaTransformer, sessions llm.SessionFactory, logger *slog.Logger) *CommentaryConsumer {
	return &CommentaryConsumer{
		cfg:         cfg,
		chunkDur:    ingestCfg.ChunkDuration,
		transformer: transformer,
		sessions:    sessions,
		logger:      observability.WithComponent(logger, "commentary"),
	}
}

// Run consumes the queue until its sentinel. A per-window failure logs and
// skips that window; a session failure is fatal for this consumer, which
// then drains its queue so the dispatcher never blocks on it.
func (c *CommentaryConsumer) Run(ctx context.Context, queue <-chan Chunk, emitter Emitter) error {
	session, err := c.sessions(ctx)
	if err != nil {
		drain(queue)
		return fmt.Errorf("opening live session: %w", err)
	}
	defer session.Close()

	var (
		pending     []Chunk
		chunkNumber int
	)

	process := func(window []Chunk) error {
		emitted, err := c.processWindow(ctx, session, window, chunkNumber+1, emitter)
		if err != nil {
			return err
		}
		if emitted {
			chunkNumber++
		}
		return nil
	}

	for {
		var chunk Chunk
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok = <-queue:
		}
		if !ok {
			// A final odd chunk becomes a half-window on its own.
			if len(pending) == 1 {
				if err := process(pending); err != nil {
					return err
				}
			}
			c.logger.InfoContext(ctx, "commentary stream ended",
				slog.Int("chunks_emitted", chunkNumber))
			return nil
		}

		pending = append(pending, chunk)
		if len(pending) < commentaryWindowChunks {
			continue
		}
		window := pending
		pending = nil
		if err := process(window); err != nil {
			drain(queue)
			return err
		}
	}
}

// processWindow narrates one window. It reports whether a commentary chunk
// was emitted; recoverable failures log and return false. Only a dead
// session or a failed emit is returned as an error.
func (c *CommentaryConsumer) processWindow(ctx context.Context, session llm.LiveSession, window []Chunk, chunkNumber int, emitter Emitter) (bool, error) {
	startSeconds := window[0].Index * c.chunkDur
	endSeconds := (window[len(window)-1].Index + 1) * c.chunkDur
	logger := c.logger.With(slog.Int("chunk_number", chunkNumber), slog.Int("start_s", startSeconds))

	chunks := make([][]byte, len(window))
	for i, w := range window {
		chunks[i] = w.Data
	}
	windowVideo, err := c.transformer.Concatenate(ctx, chunks)
	if err != nil {
		logger.WarnContext(ctx, "window concat failed, skipping", slog.String("error", err.Error()))
		return false, nil
	}

	frames, err := c.transformer.ExtractFrames(ctx, windowVideo, c.cfg.FPS)
	if err != nil || len(frames) == 0 {
		logger.WarnContext(ctx, "frame extraction failed, skipping",
			slog.String("error", errString(err)))
		return false, nil
	}

	// A previous window that ended on the cap or the deadline can leave its
	// turn marker and trailing audio behind. Discard them so this window's
	// collection starts from a clean session.
	flushStaleTurn(session)

	for _, frame := range frames {
		if err := session.SendFrame(ctx, frame); err != nil {
			return false, fmt.Errorf("sending frame: %w", err)
		}
	}
	if err := session.Prompt(ctx, c.cfg.Prompt); err != nil {
		return false, fmt.Errorf("sending prompt: %w", err)
	}

	pcm, err := c.collectAudio(ctx, session)
	if err != nil {
		return false, err
	}
	if len(pcm) == 0 {
		logger.WarnContext(ctx, "no commentary audio before deadline, skipping window")
		return false, nil
	}

	muxed, err := c.transformer.RemuxAudioVideo(ctx, windowVideo, pcm, c.cfg.AudioSampleRate)
	if err != nil {
		logger.WarnContext(ctx, "remux failed, skipping", slog.String("error", err.Error()))
		return false, nil
	}
	fragmented, err := c.transformer.FragmentMP4(ctx, muxed)
	if err != nil {
		logger.WarnContext(ctx, "fragmenting failed, skipping", slog.String("error", err.Error()))
		return false, nil
	}

	err = emitter.EmitCommentary(ctx, CommentaryChunk{
		ChunkNumber:  chunkNumber,
		Video:        fragmented,
		StartSeconds: startSeconds,
		EndSeconds:   endSeconds,
		BaseChunks:   len(window),
		AudioBytes:   len(pcm),
		VideoBytes:   len(windowVideo),
	})
	if err != nil {
		return false, err
	}
	metrics.CommentaryChunksEmitted.Inc()
	return true, nil
}

// collectAudio gathers PCM until the model completes its turn, the soft
// chunk cap is reached, or the per-window deadline expires. A closed audio
// channel means the session died.
func (c *CommentaryConsumer) collectAudio(ctx context.Context, session llm.LiveSession) ([]byte, error) {
	var parts [][]byte
	deadline := time.NewTimer(c.cfg.AudioTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case pcm, ok := <-session.Audio():
			if !ok {
				if err := session.Err(); err != nil {
					return nil, fmt.Errorf("live session ended: %w", err)
				}
				return bytes.Join(parts, nil), nil
			}
			parts = append(parts, pcm)
			if len(parts) >= c.cfg.AudioChunkCap {
				return bytes.Join(parts, nil), nil
			}

		case <-session.TurnDone():
			// Audio delivered before the turn marker may still be queued.
			for {
				select {
				case pcm, ok := <-session.Audio():
					if !ok {
						return bytes.Join(parts, nil), nil
					}
					parts = append(parts, pcm)
					if len(parts) >= c.cfg.AudioChunkCap {
						return bytes.Join(parts, nil), nil
					}
				default:
					return bytes.Join(parts, nil), nil
				}
			}

		case <-deadline.C:
			return bytes.Join(parts, nil), nil
		}
	}
}

// flushStaleTurn empties any buffered turn-complete signal and audio left
// over from an earlier window. Without it a stale marker ends the next
// window's collection immediately, attributing the old turn's audio to it.
func flushStaleTurn(session llm.LiveSession) {
	for {
		select {
		case <-session.TurnDone():
		case _, ok := <-session.Audio():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// drain discards remaining queue items so the dispatcher's parallel puts
// never block on a dead consumer.
func drain(queue <-chan Chunk) {
	for range queue {
	}
}

func errString(err error) string {
	if err == nil {
		return "no frames extracted"
	}
	return err.Error()
}
