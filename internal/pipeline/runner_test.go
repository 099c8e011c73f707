package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/ingest"
	"github.com/clipforge/clipforge/internal/llm"
	"github.com/clipforge/clipforge/internal/stages"
)

// fakeSource emits a fixed number of chunks, optionally failing after some.
type fakeSource struct {
	chunks     int
	failAfter  int
	failWith   error
	live       bool
	probeErr   error
	probeCalls int
	gotLive    *bool
}

func (s *fakeSource) Stream(ctx context.Context, url string, live bool, emit ingest.EmitFunc) error {
	s.gotLive = &live
	for i := 0; i < s.chunks; i++ {
		if s.failWith != nil && i == s.failAfter {
			return s.failWith
		}
		if err := emit([]byte{byte('a' + i)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSource) ProbeLive(ctx context.Context, url string) (bool, error) {
	s.probeCalls++
	return s.live, s.probeErr
}

func runnerConfig(commentary bool) *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{ChunkDuration: 4},
		Pipeline: config.PipelineConfig{
			WindowSize:    3,
			SlideStep:     1,
			QueueCapacity: 20,
		},
		Commentary: config.CommentaryConfig{
			Enabled:         commentary,
			FPS:             1,
			AudioSampleRate: 24000,
			AudioChunkCap:   60,
			AudioTimeout:    200 * time.Millisecond,
			Prompt:          "Narrate.",
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestRunner_HighlightOnlyRun(t *testing.T) {
	analyzer := &fakeAnalyzer{detections: []stages.Detection{
		{IsHighlight: true, Confidence: "high"},
	}}
	emitter := &recordingEmitter{}
	source := &fakeSource{chunks: 6}

	r := NewRunner(runnerConfig(false), source, analyzer, &fakeTransformer{}, nil, slog.Default())
	err := r.Run(context.Background(), "https://example.com/v", boolPtr(false), emitter)
	require.NoError(t, err)

	require.Len(t, emitter.snippets, 1)
	assert.Equal(t, []int{0}, emitter.snippetStarts())
	assert.Equal(t, 1, emitter.completes)
	assert.Zero(t, source.probeCalls)
}

func TestRunner_EmptyStreamStillCompletes(t *testing.T) {
	emitter := &recordingEmitter{}
	source := &fakeSource{chunks: 0}

	r := NewRunner(runnerConfig(false), source, &fakeAnalyzer{}, &fakeTransformer{}, nil, slog.Default())
	err := r.Run(context.Background(), "https://example.com/v", boolPtr(false), emitter)
	require.NoError(t, err)

	assert.Empty(t, emitter.snippets)
	assert.Equal(t, 1, emitter.completes)
}

func TestRunner_ProbesWhenLiveUnknown(t *testing.T) {
	source := &fakeSource{chunks: 1, live: true}
	emitter := &recordingEmitter{}

	r := NewRunner(runnerConfig(false), source, &fakeAnalyzer{}, &fakeTransformer{}, nil, slog.Default())
	err := r.Run(context.Background(), "https://example.com/v", nil, emitter)
	require.NoError(t, err)

	assert.Equal(t, 1, source.probeCalls)
	require.NotNil(t, source.gotLive)
	assert.True(t, *source.gotLive)
}

func TestRunner_ProbeFailureAborts(t *testing.T) {
	source := &fakeSource{probeErr: errors.New("yt-dlp not found")}

	r := NewRunner(runnerConfig(false), source, &fakeAnalyzer{}, &fakeTransformer{}, nil, slog.Default())
	err := r.Run(context.Background(), "https://example.com/v", nil, &recordingEmitter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yt-dlp not found")
}

func TestRunner_IngestFailureSurfaces(t *testing.T) {
	source := &fakeSource{
		chunks:    6,
		failAfter: 2,
		failWith: &ingest.IngestError{
			Kind: ingest.Permanent,
			URL:  "https://example.com/v",
			Err:  errors.New("Video unavailable"),
		},
	}
	analyzer := &fakeAnalyzer{}
	emitter := &recordingEmitter{}

	r := NewRunner(runnerConfig(false), source, analyzer, &fakeTransformer{}, nil, slog.Default())
	err := r.Run(context.Background(), "https://example.com/v", boolPtr(false), emitter)

	var ingErr *ingest.IngestError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, ingest.Permanent, ingErr.Kind)
	// Two chunks made it through before the failure; no window completed
	// and no completion signal goes out.
	assert.Empty(t, emitter.snippets)
	assert.Zero(t, emitter.completes)
}

func TestRunner_CommentaryFailureDoesNotStopHighlights(t *testing.T) {
	analyzer := &fakeAnalyzer{detections: []stages.Detection{
		{IsHighlight: true, Confidence: "high"},
	}}
	emitter := &recordingEmitter{}
	source := &fakeSource{chunks: 6}
	failingFactory := func(ctx context.Context) (llm.LiveSession, error) {
		return nil, errors.New("live dial refused")
	}

	r := NewRunner(runnerConfig(true), source, analyzer, &fakeTransformer{}, failingFactory, slog.Default())
	err := r.Run(context.Background(), "https://example.com/v", boolPtr(true), emitter)
	require.NoError(t, err)

	// The highlight side of the run is unaffected; the failure is
	// reported to the client as a non-terminal error.
	require.Len(t, emitter.snippets, 1)
	assert.Empty(t, emitter.commentary)
	require.Len(t, emitter.errMessages, 1)
	assert.Contains(t, emitter.errMessages[0], "commentary unavailable")
}

func TestRunner_CommentaryAndHighlightsTogether(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	emitter := &recordingEmitter{}
	source := &fakeSource{chunks: 4}
	session := newFakeSession(
		[][]byte{[]byte("pcm1")},
		[][]byte{[]byte("pcm2")},
	)
	factory := func(ctx context.Context) (llm.LiveSession, error) {
		return session, nil
	}

	r := NewRunner(runnerConfig(true), source, analyzer, &fakeTransformer{}, factory, slog.Default())
	err := r.Run(context.Background(), "https://example.com/v", boolPtr(true), emitter)
	require.NoError(t, err)

	// Four chunks: highlight windows at 0 and 1 (both misses), commentary
	// windows (0,1) and (2,3).
	assert.Equal(t, 2, analyzer.detectCalls())
	assert.Equal(t, []int{1, 2}, emitter.commentaryNumbers())
}
