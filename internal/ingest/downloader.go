// Package ingest turns remote video sources into ordered streams of
// fixed-duration MP4 chunks using yt-dlp and ffmpeg.
package ingest

import (
	"strings"

	"github.com/clipforge/clipforge/internal/config"
)

// liveSafeSelector replaces MP4-constrained format selectors for live
// sources, where the MP4-only formats are generally not offered.
const liveSafeSelector = "bestvideo+bestaudio/best"

// downloaderArgs builds the yt-dlp argument list shared by all invocations.
// cacheDir must be unique per invocation so concurrent downloads never share
// cache state.
func downloaderArgs(cfg config.IngestConfig, cacheDir string, live bool) []string {
	args := []string{
		"-f", formatSelector(cfg.FormatSelector, live),
		"--cache-dir", cacheDir,
		"--no-part",
		"--no-playlist",
		"--quiet",
		"--no-warnings",
	}
	if cfg.CookiesFile != "" {
		args = append(args, "--cookies", cfg.CookiesFile)
	}
	if live {
		args = append(args, "--live-from-start")
	}
	args = append(args, cfg.ExtraArgs...)
	return args
}

// formatSelector returns the effective format selector for a source.
// Live sources override MP4-constrained selectors with a live-safe one.
func formatSelector(selector string, live bool) string {
	if live && strings.Contains(selector, "ext=mp4") {
		return liveSafeSelector
	}
	return selector
}
