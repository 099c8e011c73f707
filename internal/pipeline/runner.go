package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/ingest"
	"github.com/clipforge/clipforge/internal/llm"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/observability"
)

// Source feeds the dispatcher. Implemented by ingest.Ingestor.
type Source interface {
	Stream(ctx context.Context, url string, live bool, emit ingest.EmitFunc) error
	ProbeLive(ctx context.Context, url string) (bool, error)
}

// Runner supervises one URL run: ingestion, fan-out, and the consumers.
type Runner struct {
	cfg         *config.Config
	source      Source
	analyzer    Analyzer
	transformer MediaTransformer
	sessions    llm.SessionFactory
	logger      *slog.Logger
}

// NewRunner assembles a run supervisor.
func NewRunner(cfg *config.Config, source Source, analyzer Analyzer, transformer MediaTransformer, sessions llm.SessionFactory, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:         cfg,
		source:      source,
		analyzer:    analyzer,
		transformer: transformer,
		sessions:    sessions,
		logger:      observability.WithComponent(logger, "runner"),
	}
}

// Run processes one URL until the source is exhausted, a fatal error
// occurs, or the context is cancelled. When live is nil the source is
// probed to decide. A commentary failure is reported through the emitter
// but does not abort the highlight pipeline; the returned error is the
// run's terminal failure, if any.
func (r *Runner) Run(ctx context.Context, url string, live *bool, emitter Emitter) error {
	isLive := false
	if live != nil {
		isLive = *live
	} else {
		probed, err := r.source.ProbeLive(ctx, url)
		if err != nil {
			return err
		}
		isLive = probed
	}

	commentaryOn := r.cfg.Commentary.Enabled && r.sessions != nil
	queues := 1
	if commentaryOn {
		queues = 2
	}
	dispatcher := NewDispatcher(queues, r.cfg.Pipeline.QueueCapacity)

	r.logger.InfoContext(ctx, "run starting",
		slog.String("url", url),
		slog.Bool("live", isLive),
		slog.Bool("commentary", commentaryOn))

	g, gctx := errgroup.WithContext(ctx)

	// Producer: every exit path delivers exactly one sentinel per queue.
	g.Go(func() error {
		defer dispatcher.CloseAll()

		index := 0
		err := r.source.Stream(gctx, url, isLive, func(data []byte) error {
			chunk := Chunk{Index: index, Data: data}
			index++
			metrics.ChunksIngested.Inc()
			return dispatcher.Dispatch(gctx, chunk)
		})
		if err != nil {
			var ingErr *ingest.IngestError
			if errors.As(err, &ingErr) {
				metrics.IngestFailures.WithLabelValues(ingErr.Kind.String()).Inc()
			}
		}
		return err
	})

	highlight := NewHighlightConsumer(r.cfg.Pipeline, r.cfg.Ingest, r.analyzer, r.transformer, r.logger)
	g.Go(func() error {
		return highlight.Run(gctx, dispatcher.Queue(0), emitter)
	})

	// The commentary consumer runs outside the group: its failure must not
	// cancel ingestion or the highlight consumer.
	commentaryDone := make(chan struct{})
	if commentaryOn {
		commentary := NewCommentaryConsumer(r.cfg.Commentary, r.cfg.Ingest, r.transformer, r.sessions, r.logger)
		go func() {
			defer close(commentaryDone)
			if err := commentary.Run(gctx, dispatcher.Queue(1), emitter); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WarnContext(gctx, "commentary consumer failed",
					slog.String("error", err.Error()))
				if emitErr := emitter.EmitError(gctx, "commentary unavailable: "+err.Error()); emitErr != nil {
					r.logger.DebugContext(gctx, "error message not delivered",
						slog.String("error", emitErr.Error()))
				}
			}
		}()
	} else {
		close(commentaryDone)
	}

	err := g.Wait()
	<-commentaryDone

	if err != nil {
		r.logger.WarnContext(ctx, "run failed", slog.String("error", err.Error()))
		return err
	}
	if err := emitter.EmitComplete(ctx); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "run complete", slog.String("url", url))
	return nil
}
