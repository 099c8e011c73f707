package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/mediatools"
	"github.com/clipforge/clipforge/internal/observability"
	"github.com/clipforge/clipforge/internal/scratch"
)

const (
	// segmentPattern names segmenter output so lexical order is chunk order.
	segmentPattern = "seg-%05d.mp4"
	// pollInterval is how often the live segment directory is scanned.
	pollInterval = 500 * time.Millisecond
	// terminateGrace is how long a process gets after SIGTERM before SIGKILL.
	terminateGrace = 5 * time.Second
	// stderrLimit bounds retained downloader stderr.
	stderrLimit = 4096
)

// EmitFunc receives each completed chunk in order. Returning an error stops
// the ingestion.
type EmitFunc func(chunk []byte) error

// Ingestor turns a source URL into an ordered stream of MP4 chunks of the
// configured duration.
type Ingestor struct {
	cfg    config.IngestConfig
	bins   mediatools.Binaries
	logger *slog.Logger
}

// NewIngestor creates an ingestor using the given resolved binaries.
func NewIngestor(cfg config.IngestConfig, bins mediatools.Binaries, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		cfg:    cfg,
		bins:   bins,
		logger: observability.WithComponent(logger, "ingest"),
	}
}

// Stream ingests the source and emits chunks until the source is exhausted,
// emit fails, or the context is cancelled. VOD sources are downloaded in
// full and then segmented; live sources are segmented as data arrives.
func (i *Ingestor) Stream(ctx context.Context, url string, live bool, emit EmitFunc) error {
	if live {
		return i.streamLive(ctx, url, emit)
	}
	return i.streamVOD(ctx, url, emit)
}

func (i *Ingestor) streamVOD(ctx context.Context, url string, emit EmitFunc) error {
	done := observability.TimedOperation(ctx, i.logger, "stream_vod")
	defer done()

	scope, err := scratch.NewScope("vod")
	if err != nil {
		return err
	}
	defer scope.Close()

	cacheDir, err := scope.CacheDir()
	if err != nil {
		return err
	}

	sourcePath := scope.Path("source.mp4")
	args := downloaderArgs(i.cfg, cacheDir, false)
	args = append(args, "-o", sourcePath, url)

	cmd := exec.CommandContext(ctx, i.bins.Ytdlp, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := tailOf(stderr.Bytes())
		return &IngestError{Kind: classify(tail), URL: url, Stderr: tail, Err: err}
	}

	segDir, err := scope.Subdir("segments")
	if err != nil {
		return err
	}
	err = mediatools.NewCommandBuilder(i.bins.FFmpeg).
		HideBanner().
		Overwrite().
		Input(sourcePath).
		StreamCopy().
		SegmentArgs(i.cfg.ChunkDuration).
		Output(filepath.Join(segDir, segmentPattern)).
		Run(ctx, "segment_source")
	if err != nil {
		return err
	}

	names, err := listSegments(segDir)
	if err != nil {
		return err
	}
	i.logger.InfoContext(ctx, "source segmented",
		slog.String("url", url), slog.Int("chunks", len(names)))

	for _, name := range names {
		chunk, err := os.ReadFile(filepath.Join(segDir, name))
		if err != nil {
			return fmt.Errorf("reading chunk %s: %w", name, err)
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingestor) streamLive(ctx context.Context, url string, emit EmitFunc) error {
	done := observability.TimedOperation(ctx, i.logger, "stream_live")
	defer done()

	scope, err := scratch.NewScope("live")
	if err != nil {
		return err
	}
	defer scope.Close()

	cacheDir, err := scope.CacheDir()
	if err != nil {
		return err
	}
	segDir, err := scope.Subdir("segments")
	if err != nil {
		return err
	}

	dlArgs := downloaderArgs(i.cfg, cacheDir, true)
	dlArgs = append(dlArgs, "-o", "-", url)
	dl := exec.Command(i.bins.Ytdlp, dlArgs...)
	var dlStderr bytes.Buffer
	dl.Stderr = &dlStderr

	dlOut, err := dl.StdoutPipe()
	if err != nil {
		return fmt.Errorf("downloader stdout pipe: %w", err)
	}

	ffArgs := mediatools.NewCommandBuilder(i.bins.FFmpeg).
		HideBanner().
		Overwrite().
		Input("pipe:0").
		StreamCopy().
		SegmentArgs(i.cfg.ChunkDuration).
		Output(filepath.Join(segDir, segmentPattern)).
		Args()
	ff := exec.Command(i.bins.FFmpeg, ffArgs...)
	ff.Stdin = dlOut
	var ffStderr bytes.Buffer
	ff.Stderr = &ffStderr

	if err := dl.Start(); err != nil {
		return &IngestError{Kind: Permanent, URL: url, Err: fmt.Errorf("starting downloader: %w", err)}
	}
	if err := ff.Start(); err != nil {
		_ = dl.Process.Signal(syscall.SIGTERM)
		_ = dl.Wait()
		return fmt.Errorf("starting segmenter: %w", err)
	}

	dlDone := waitAsync(dl)
	ffDone := waitAsync(ff)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	emitted := 0
	drain := func(final bool) error {
		names, err := listSegments(segDir)
		if err != nil {
			return err
		}
		for _, name := range readySegments(names, emitted, final) {
			chunk, err := os.ReadFile(filepath.Join(segDir, name))
			if err != nil {
				return fmt.Errorf("reading chunk %s: %w", name, err)
			}
			if err := emit(chunk); err != nil {
				return err
			}
			emitted++
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = stopAndWait(dl, dlDone)
			_ = stopAndWait(ff, ffDone)
			// The segmenter flushed its last segment on termination.
			if err := drain(true); err != nil {
				i.logger.WarnContext(ctx, "final drain after cancel failed",
					slog.String("error", err.Error()))
			}
			return ctx.Err()

		case ffErr := <-ffDone:
			// Segmenter exit means the stream ended: the downloader hit EOF
			// and closed the pipe, or one of the tools failed.
			dlErr := stopAndWait(dl, dlDone)
			if err := drain(true); err != nil {
				return err
			}
			// stopAndWait signals the downloader, so a signalled exit there
			// is our doing, not a failure.
			if signalled(dlErr) {
				dlErr = nil
			}
			if ffErr != nil || dlErr != nil {
				tail := tailOf(ffStderr.Bytes())
				cause := ffErr
				if ffErr == nil {
					tail = tailOf(dlStderr.Bytes())
					cause = dlErr
				} else if tail == "" {
					tail = tailOf(dlStderr.Bytes())
				}
				return &IngestError{
					Kind:   classify(tail),
					URL:    url,
					Stderr: tail,
					Err:    fmt.Errorf("live ingest failed after %d chunks: %w", emitted, cause),
				}
			}
			if emitted == 0 {
				tail := tailOf(dlStderr.Bytes())
				if tail == "" {
					tail = tailOf(ffStderr.Bytes())
				}
				return &IngestError{
					Kind:   classify(tail),
					URL:    url,
					Stderr: tail,
					Err:    fmt.Errorf("live stream produced no chunks"),
				}
			}
			i.logger.InfoContext(ctx, "live stream ended",
				slog.String("url", url), slog.Int("chunks", emitted))
			return nil

		case <-ticker.C:
			if err := drain(false); err != nil {
				_ = stopAndWait(dl, dlDone)
				_ = stopAndWait(ff, ffDone)
				return err
			}
		}
	}
}

// readySegments returns the segment names safe to emit, given how many have
// already been emitted. While the stream is running the newest segment is
// withheld: a segment is only complete once its successor exists. On the
// final drain every remaining segment is returned.
func readySegments(names []string, emitted int, final bool) []string {
	end := len(names)
	if !final {
		end--
	}
	if emitted >= end || end < 0 {
		return nil
	}
	return names[emitted:end]
}

// listSegments returns segmenter output files in lexical (chunk) order.
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "seg-") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// waitAsync waits for the process on its own goroutine.
func waitAsync(cmd *exec.Cmd) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- cmd.Wait() }()
	return ch
}

// stopAndWait terminates a process gracefully, escalating to SIGKILL after
// the grace period, waits for it to exit and returns its wait error. Safe to
// call on a process that has already exited.
func stopAndWait(cmd *exec.Cmd, done <-chan error) error {
	if cmd.Process == nil {
		return <-done
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-time.After(terminateGrace):
		_ = cmd.Process.Kill()
		return <-done
	}
}

// signalled reports whether err is an exit caused by SIGTERM or SIGKILL.
func signalled(err error) bool {
	var exit *exec.ExitError
	if !errors.As(err, &exit) {
		return false
	}
	status, ok := exit.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return false
	}
	sig := status.Signal()
	return sig == syscall.SIGTERM || sig == syscall.SIGKILL
}

// tailOf returns the last stderrLimit bytes as a trimmed string.
func tailOf(out []byte) string {
	if len(out) > stderrLimit {
		out = out[len(out)-stderrLimit:]
	}
	return strings.TrimSpace(string(out))
}
