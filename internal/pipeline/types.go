// Package pipeline wires ingestion, analysis, and delivery together: a
// dispatcher fans ingested chunks out to consumers, the highlight consumer
// slides an analysis window over the stream, and the commentary consumer
// narrates it through a live session.
package pipeline

import (
	"context"

	"github.com/clipforge/clipforge/internal/stages"
)

// Chunk is one base chunk with its absolute position in the stream.
type Chunk struct {
	// Index is the 0-based position of this chunk in the source.
	Index int
	// Data is the chunk's MP4 bytes.
	Data []byte
}

// Snippet is a finished highlight ready for delivery.
type Snippet struct {
	// Video is the trimmed, fragmented MP4.
	Video []byte
	// Title, Description, and KeyAction come from the caption stage.
	Title       string
	Description string
	KeyAction   string
	// StartSeconds and EndSeconds locate the snippet in the source.
	StartSeconds int
	EndSeconds   int
	// Confidence and Reason come from the detect stage.
	Confidence string
	Reason     string
	// CaptionFallback is set when the caption stage degraded.
	CaptionFallback bool
}

// CommentaryChunk is one narrated window of a live commentary stream.
type CommentaryChunk struct {
	// ChunkNumber is 1-based and strictly increasing per session.
	ChunkNumber int
	// Video is the fragmented MP4 with commentary audio muxed in.
	Video []byte
	// StartSeconds and EndSeconds locate the window in the source.
	StartSeconds int
	EndSeconds   int
	// BaseChunks is how many base chunks formed this window.
	BaseChunks int
	// AudioBytes and VideoBytes are the sizes of the raw PCM commentary
	// and the pre-mux window video.
	AudioBytes int
	VideoBytes int
}

// Emitter delivers pipeline output to a client. EmitComplete is the
// at-most-once terminal signal for a successful run; EmitError carries
// non-terminal failures, such as commentary becoming unavailable while
// highlights keep flowing.
type Emitter interface {
	EmitSnippet(ctx context.Context, s Snippet) error
	EmitCommentary(ctx context.Context, c CommentaryChunk) error
	EmitComplete(ctx context.Context) error
	EmitError(ctx context.Context, message string) error
}

// Analyzer runs the highlight stage chain. Implemented by stages.Chain.
type Analyzer interface {
	Detect(ctx context.Context, windowVideo []byte) stages.Detection
	Trim(ctx context.Context, chunks [][]byte, detection stages.Detection) ([]byte, stages.TrimRange, error)
	GenerateCaption(ctx context.Context, video []byte, startSeconds, endSeconds int) stages.Caption
}

// MediaTransformer is the toolkit subset the consumers need.
// Implemented by mediatools.Toolkit.
type MediaTransformer interface {
	Concatenate(ctx context.Context, chunks [][]byte) ([]byte, error)
	ExtractFrames(ctx context.Context, video []byte, fps float64) ([][]byte, error)
	RemuxAudioVideo(ctx context.Context, video, pcm []byte, sampleRate int) ([]byte, error)
	FragmentMP4(ctx context.Context, video []byte) ([]byte, error)
}
