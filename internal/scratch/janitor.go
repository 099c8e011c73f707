package scratch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/observability"
)

// Janitor periodically removes orphaned scratch directories left behind by
// crashed or killed processes. Live scopes clean up after themselves; the
// janitor only touches directories older than the configured max age.
type Janitor struct {
	cfg    config.JanitorConfig
	logger *slog.Logger
	cron   *cron.Cron
	root   string
}

// NewJanitor builds a janitor sweeping the system temp root.
func NewJanitor(cfg config.JanitorConfig, logger *slog.Logger) *Janitor {
	return &Janitor{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "janitor"),
		root:   os.TempDir(),
	}
}

// Start schedules periodic sweeps. It returns immediately; sweeps run on the
// cron's own goroutine until Stop is called.
func (j *Janitor) Start() error {
	if !j.cfg.Enabled {
		j.logger.Info("janitor disabled")
		return nil
	}

	j.cron = cron.New(cron.WithSeconds())
	if _, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		if n := j.Sweep(context.Background()); n > 0 {
			j.logger.Info("removed orphaned scratch dirs", slog.Int("count", n))
		}
	}); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("janitor started", slog.String("schedule", j.cfg.Schedule))
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Sweep removes scratch directories older than the configured max age and
// returns the number removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		j.logger.WarnContext(ctx, "scratch sweep failed", slog.String("error", err.Error()))
		return 0
	}

	cutoff := time.Now().Add(-j.cfg.MaxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.WarnContext(ctx, "failed to remove scratch dir",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed
}
