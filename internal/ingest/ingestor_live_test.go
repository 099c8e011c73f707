package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/mediatools"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// fakeSegmenter mimics the segment muxer: it writes n segment files into the
// directory of the output pattern (its last argument) and exits with status.
func fakeSegmenter(n, status int) string {
	return fmt.Sprintf(`for a; do out=$a; done
dir=$(dirname "$out")
i=0
while [ $i -lt %d ]; do
	printf 'segment-%%d' $i > "$dir/$(printf 'seg-%%05d.mp4' $i)"
	i=$((i+1))
done
exit %d
`, n, status)
}

func liveIngestor(t *testing.T, ytdlpBody, ffmpegBody string) *Ingestor {
	t.Helper()
	dir := t.TempDir()
	return NewIngestor(
		config.IngestConfig{ChunkDuration: 4, FormatSelector: "best"},
		mediatools.Binaries{
			Ytdlp:  writeScript(t, dir, "ytdlp", ytdlpBody),
			FFmpeg: writeScript(t, dir, "ffmpeg", ffmpegBody),
		},
		slog.Default(),
	)
}

func TestStreamLive_ToolFailureSurfacesAfterChunks(t *testing.T) {
	ing := liveIngestor(t,
		"echo 'ERROR: unable to download video data: HTTP Error 503' >&2\nexit 1\n",
		fakeSegmenter(3, 1))

	var chunks [][]byte
	err := ing.Stream(context.Background(), "https://example.com/live", true, func(chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	})

	// Chunks produced before the failure are still delivered, but the run
	// must end in an error, never a clean completion.
	assert.Len(t, chunks, 3)
	var ingErr *IngestError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, Transient, ingErr.Kind)
	assert.Contains(t, ingErr.Stderr, "HTTP Error 503")
}

func TestStreamLive_DownloaderFailureSurfaces(t *testing.T) {
	ing := liveIngestor(t,
		"echo 'ERROR: Video unavailable' >&2\nexit 1\n",
		fakeSegmenter(2, 0))

	var chunks int
	err := ing.Stream(context.Background(), "https://example.com/live", true, func([]byte) error {
		chunks++
		return nil
	})

	assert.Equal(t, 2, chunks)
	var ingErr *IngestError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, Permanent, ingErr.Kind)
}

func TestStreamLive_CleanEndEmitsAllChunks(t *testing.T) {
	ing := liveIngestor(t, "exit 0\n", fakeSegmenter(3, 0))

	var chunks [][]byte
	err := ing.Stream(context.Background(), "https://example.com/live", true, func(chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("segment-0"), chunks[0])
}

func TestStreamLive_NoChunksIsError(t *testing.T) {
	ing := liveIngestor(t, "exit 0\n", fakeSegmenter(0, 0))

	err := ing.Stream(context.Background(), "https://example.com/live", true, func([]byte) error {
		t.Fatal("no chunk expected")
		return nil
	})

	var ingErr *IngestError
	require.ErrorAs(t, err, &ingErr)
}
