package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipforge/clipforge/internal/config"
)

func TestDownloaderArgs_VOD(t *testing.T) {
	cfg := config.IngestConfig{
		FormatSelector: "best[ext=mp4]/best",
		CookiesFile:    "/tmp/cookies.txt",
		ExtraArgs:      []string{"--socket-timeout", "30"},
	}
	args := downloaderArgs(cfg, "/tmp/cache-abc", false)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f best[ext=mp4]/best")
	assert.Contains(t, joined, "--cache-dir /tmp/cache-abc")
	assert.Contains(t, joined, "--no-part")
	assert.Contains(t, joined, "--cookies /tmp/cookies.txt")
	assert.Contains(t, joined, "--socket-timeout 30")
	assert.NotContains(t, joined, "--live-from-start")
}

func TestDownloaderArgs_Live(t *testing.T) {
	cfg := config.IngestConfig{FormatSelector: "best[ext=mp4]/best"}
	args := downloaderArgs(cfg, "/tmp/cache", true)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--live-from-start")
	assert.NotContains(t, joined, "--cookies")
}

func TestFormatSelector_LiveOverride(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		live     bool
		want     string
	}{
		{"vod keeps mp4 selector", "best[ext=mp4]/best", false, "best[ext=mp4]/best"},
		{"live overrides mp4 selector", "best[ext=mp4]/best", true, liveSafeSelector},
		{"live keeps generic selector", "best", true, "best"},
		{"live overrides combined mp4 selector", "bestvideo[ext=mp4]+bestaudio", true, liveSafeSelector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSelector(tt.selector, tt.live))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Permanent, classify("ERROR: Video unavailable"))
	assert.Equal(t, Permanent, classify("ERROR: Private video. Sign in if you've been granted access"))
	assert.Equal(t, Permanent, classify("ERROR: Unsupported URL: ftp://example.com"))
	assert.Equal(t, Transient, classify("ERROR: unable to download video data: HTTP Error 503"))
	assert.Equal(t, Transient, classify(""))
}

func TestIngestError_Unwrap(t *testing.T) {
	inner := assert.AnError
	err := &IngestError{Kind: Transient, URL: "https://example.com/v", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "transient")
}

func TestReadySegments(t *testing.T) {
	names := []string{"seg-00000.mp4", "seg-00001.mp4", "seg-00002.mp4"}

	// Steady state: the newest segment is withheld until a successor exists.
	assert.Equal(t, []string{"seg-00000.mp4", "seg-00001.mp4"}, readySegments(names, 0, false))
	assert.Equal(t, []string{"seg-00001.mp4"}, readySegments(names, 1, false))
	assert.Nil(t, readySegments(names, 2, false))

	// A single segment is never ready while the stream runs.
	assert.Nil(t, readySegments(names[:1], 0, false))
	assert.Nil(t, readySegments(nil, 0, false))

	// Final drain releases everything, including the last segment.
	assert.Equal(t, names, readySegments(names, 0, true))
	assert.Equal(t, []string{"seg-00002.mp4"}, readySegments(names, 2, true))
	assert.Nil(t, readySegments(names, 3, true))
}

func TestIsLive(t *testing.T) {
	assert.True(t, isLive(sourceInfo{LiveStatus: "is_live"}))
	assert.True(t, isLive(sourceInfo{LiveStatus: "is_upcoming"}))
	assert.True(t, isLive(sourceInfo{IsLive: true}))
	// Either signal suffices; a stale live_status never overrides is_live.
	assert.True(t, isLive(sourceInfo{IsLive: true, LiveStatus: "post_live"}))
	assert.True(t, isLive(sourceInfo{IsLive: true, LiveStatus: "was_live"}))
	assert.False(t, isLive(sourceInfo{LiveStatus: "was_live"}))
	assert.False(t, isLive(sourceInfo{LiveStatus: "not_live"}))
	assert.False(t, isLive(sourceInfo{}))
}
