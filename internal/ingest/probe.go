package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// sourceInfo is the subset of downloader metadata the probe cares about.
type sourceInfo struct {
	IsLive     bool   `json:"is_live"`
	LiveStatus string `json:"live_status"`
	Title      string `json:"title"`
}

// ProbeLive asks the downloader whether the source is currently live.
// It inspects metadata only; nothing is downloaded.
func (i *Ingestor) ProbeLive(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.ProbeTimeout)
	defer cancel()

	args := []string{"--dump-json", "--playlist-items", "1", "--no-warnings"}
	if i.cfg.CookiesFile != "" {
		args = append(args, "--cookies", i.cfg.CookiesFile)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, i.bins.Ytdlp, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := tailOf(stderr.Bytes())
		return false, &IngestError{Kind: classify(tail), URL: url, Stderr: tail, Err: err}
	}

	var info sourceInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return false, fmt.Errorf("parsing probe metadata: %w", err)
	}
	return isLive(info), nil
}

// isLive interprets downloader metadata. A source counts as live when it is
// currently broadcasting or scheduled to start; older extractors only set
// is_live, so either signal suffices.
func isLive(info sourceInfo) bool {
	return info.IsLive ||
		info.LiveStatus == "is_live" ||
		info.LiveStatus == "is_upcoming"
}
