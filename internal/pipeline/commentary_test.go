package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/llm"
)

// fakeSession answers each Prompt with a scripted set of PCM chunks
// followed by a turn-complete signal.
type fakeSession struct {
	mu       sync.Mutex
	turns    [][][]byte // PCM chunks per prompted turn
	turn     int
	frames   int
	audio    chan []byte
	turnDone chan struct{}
	err      error
	sendErr  error
	closed   bool
}

func newFakeSession(turns ...[][]byte) *fakeSession {
	return &fakeSession{
		turns:    turns,
		audio:    make(chan []byte, 64),
		turnDone: make(chan struct{}, 1),
	}
}

func (s *fakeSession) SendFrame(ctx context.Context, jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames++
	return nil
}

func (s *fakeSession) Prompt(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pcm [][]byte
	if s.turn < len(s.turns) {
		pcm = s.turns[s.turn]
	}
	s.turn++
	for _, p := range pcm {
		s.audio <- p
	}
	s.turnDone <- struct{}{}
	return nil
}

func (s *fakeSession) Audio() <-chan []byte      { return s.audio }
func (s *fakeSession) TurnDone() <-chan struct{} { return s.turnDone }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func commentaryConfig() config.CommentaryConfig {
	return config.CommentaryConfig{
		Enabled:         true,
		FPS:             1,
		AudioSampleRate: 24000,
		AudioChunkCap:   60,
		AudioTimeout:    200 * time.Millisecond,
		Prompt:          "Narrate the action.",
	}
}

func runCommentary(t *testing.T, session llm.LiveSession, sessionErr error, transformer *fakeTransformer, emitter *recordingEmitter, nChunks int) error {
	t.Helper()
	factory := func(ctx context.Context) (llm.LiveSession, error) {
		if sessionErr != nil {
			return nil, sessionErr
		}
		return session, nil
	}
	consumer := NewCommentaryConsumer(commentaryConfig(),
		config.IngestConfig{ChunkDuration: 4},
		transformer, factory, slog.Default())

	queue := make(chan Chunk, nChunks)
	for i := 0; i < nChunks; i++ {
		queue <- Chunk{Index: i, Data: []byte{byte('a' + i)}}
	}
	close(queue)
	return consumer.Run(context.Background(), queue, emitter)
}

func TestCommentary_PairsChunksAndNumbersSequentially(t *testing.T) {
	session := newFakeSession(
		[][]byte{[]byte("pcm1")},
		[][]byte{[]byte("pcm2")},
		[][]byte{[]byte("pcm3")},
	)
	emitter := &recordingEmitter{}

	err := runCommentary(t, session, nil, &fakeTransformer{}, emitter, 5)
	require.NoError(t, err)

	// Five chunks: windows (0,1), (2,3), and the final half-window (4).
	require.Len(t, emitter.commentary, 3)
	assert.Equal(t, []int{1, 2, 3}, emitter.commentaryNumbers())

	assert.Equal(t, 0, emitter.commentary[0].StartSeconds)
	assert.Equal(t, 8, emitter.commentary[0].EndSeconds)
	assert.Equal(t, 16, emitter.commentary[2].StartSeconds)
	assert.Equal(t, 20, emitter.commentary[2].EndSeconds)

	// Video is window bytes plus the muxed PCM.
	assert.Equal(t, []byte("abpcm1"), emitter.commentary[0].Video)
	assert.Equal(t, []byte("epcm3"), emitter.commentary[2].Video)

	assert.Equal(t, 2, emitter.commentary[0].BaseChunks)
	assert.Equal(t, 1, emitter.commentary[2].BaseChunks)
	assert.Equal(t, len("pcm1"), emitter.commentary[0].AudioBytes)
	assert.Equal(t, 2, emitter.commentary[0].VideoBytes)
	assert.True(t, session.closed)
}

func TestCommentary_EmptyAudioSkipsWindow(t *testing.T) {
	session := newFakeSession(
		nil, // first window produces no audio
		[][]byte{[]byte("pcm")},
	)
	emitter := &recordingEmitter{}

	err := runCommentary(t, session, nil, &fakeTransformer{}, emitter, 4)
	require.NoError(t, err)

	// The silent window emits nothing and does not burn a chunk number.
	require.Len(t, emitter.commentary, 1)
	assert.Equal(t, 1, emitter.commentary[0].ChunkNumber)
	assert.Equal(t, 8, emitter.commentary[0].StartSeconds)
}

func TestCommentary_SessionOpenFailureDrainsQueue(t *testing.T) {
	emitter := &recordingEmitter{}

	err := runCommentary(t, nil, errors.New("dial refused"), &fakeTransformer{}, emitter, 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial refused")
	assert.Empty(t, emitter.commentary)
}

func TestCommentary_SendFailureDrainsAndReturns(t *testing.T) {
	session := newFakeSession()
	session.sendErr = errors.New("connection reset")
	emitter := &recordingEmitter{}

	err := runCommentary(t, session, nil, &fakeTransformer{}, emitter, 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, emitter.commentary)
}

func TestCommentary_FrameExtractionFailureSkips(t *testing.T) {
	session := newFakeSession([][]byte{[]byte("pcm")})
	emitter := &recordingEmitter{}
	transformer := &fakeTransformer{framesErr: errors.New("no keyframes")}

	err := runCommentary(t, session, nil, transformer, emitter, 2)
	require.NoError(t, err)
	assert.Empty(t, emitter.commentary)
}

func TestCommentary_StaleTurnSignalDoesNotBleedAcrossWindows(t *testing.T) {
	session := newFakeSession([][]byte{[]byte("fresh")})
	// Leftovers from a turn that ended on the cap or the deadline: audio and
	// a turn marker nobody consumed.
	session.audio <- []byte("stale")
	session.turnDone <- struct{}{}
	emitter := &recordingEmitter{}

	err := runCommentary(t, session, nil, &fakeTransformer{}, emitter, 2)
	require.NoError(t, err)

	// The window's commentary carries only its own turn's audio.
	require.Len(t, emitter.commentary, 1)
	assert.Equal(t, len("fresh"), emitter.commentary[0].AudioBytes)
	assert.Equal(t, []byte("abfresh"), emitter.commentary[0].Video)
}

func TestCommentary_AudioCapStopsCollection(t *testing.T) {
	chunks := make([][]byte, 80)
	for i := range chunks {
		chunks[i] = []byte("p")
	}
	session := &fakeSession{
		turns:    [][][]byte{chunks},
		audio:    make(chan []byte, 128),
		turnDone: make(chan struct{}, 1),
	}
	emitter := &recordingEmitter{}

	err := runCommentary(t, session, nil, &fakeTransformer{}, emitter, 2)
	require.NoError(t, err)
	require.Len(t, emitter.commentary, 1)
	// 60 chunks of one byte each on top of the two-byte window.
	assert.Len(t, emitter.commentary[0].Video, 62)
}
