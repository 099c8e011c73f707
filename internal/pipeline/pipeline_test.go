package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/clipforge/clipforge/internal/stages"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAnalyzer answers Detect from a per-window script and trims to the
// configured range, defaulting to the full window.
type fakeAnalyzer struct {
	mu         sync.Mutex
	detections []stages.Detection
	trimRange  *stages.TrimRange
	trimErr    error
	windows    [][][]byte
}

func (a *fakeAnalyzer) Detect(ctx context.Context, windowVideo []byte) stages.Detection {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := len(a.windows)
	a.windows = append(a.windows, nil)
	if i < len(a.detections) {
		return a.detections[i]
	}
	return stages.Detection{}
}

func (a *fakeAnalyzer) Trim(ctx context.Context, chunks [][]byte, detection stages.Detection) ([]byte, stages.TrimRange, error) {
	if a.trimErr != nil {
		return nil, stages.TrimRange{}, a.trimErr
	}
	rng := stages.TrimRange{Start: 1, End: len(chunks)}
	if a.trimRange != nil {
		rng = *a.trimRange
	}
	return bytes.Join(chunks[rng.Start-1:rng.End], nil), rng, nil
}

func (a *fakeAnalyzer) GenerateCaption(ctx context.Context, video []byte, startSeconds, endSeconds int) stages.Caption {
	return stages.Caption{Title: "Great Play", Description: "A great play."}
}

func (a *fakeAnalyzer) detectCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}

// fakeTransformer performs byte-level stand-ins for the ffmpeg operations.
type fakeTransformer struct {
	concatErr  error
	framesErr  error
	frameCount int
}

func (t *fakeTransformer) Concatenate(ctx context.Context, chunks [][]byte) ([]byte, error) {
	if t.concatErr != nil {
		return nil, t.concatErr
	}
	return bytes.Join(chunks, nil), nil
}

func (t *fakeTransformer) ExtractFrames(ctx context.Context, video []byte, fps float64) ([][]byte, error) {
	if t.framesErr != nil {
		return nil, t.framesErr
	}
	n := t.frameCount
	if n == 0 {
		n = 2
	}
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = []byte("jpeg")
	}
	return frames, nil
}

func (t *fakeTransformer) RemuxAudioVideo(ctx context.Context, video, pcm []byte, sampleRate int) ([]byte, error) {
	out := append([]byte{}, video...)
	return append(out, pcm...), nil
}

func (t *fakeTransformer) FragmentMP4(ctx context.Context, video []byte) ([]byte, error) {
	return video, nil
}

// recordingEmitter captures everything emitted, with optional injected
// failures.
type recordingEmitter struct {
	mu          sync.Mutex
	snippets    []Snippet
	commentary  []CommentaryChunk
	errMessages []string
	completes   int
	snippetErr  error
}

func (e *recordingEmitter) EmitSnippet(ctx context.Context, s Snippet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snippetErr != nil {
		return e.snippetErr
	}
	e.snippets = append(e.snippets, s)
	return nil
}

func (e *recordingEmitter) EmitCommentary(ctx context.Context, c CommentaryChunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commentary = append(e.commentary, c)
	return nil
}

func (e *recordingEmitter) EmitComplete(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completes++
	return nil
}

func (e *recordingEmitter) EmitError(ctx context.Context, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errMessages = append(e.errMessages, message)
	return nil
}

func (e *recordingEmitter) snippetStarts() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	starts := make([]int, len(e.snippets))
	for i, s := range e.snippets {
		starts[i] = s.StartSeconds
	}
	return starts
}

func (e *recordingEmitter) commentaryNumbers() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	nums := make([]int, len(e.commentary))
	for i, c := range e.commentary {
		nums[i] = c.ChunkNumber
	}
	return nums
}
