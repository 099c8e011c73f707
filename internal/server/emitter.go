package server

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/clipforge/clipforge/internal/pipeline"
)

// Message envelope kinds sent to the client.
const (
	messageSnippet         = "snippet"
	messageCommentaryChunk = "live_commentary_chunk"
	messageSnippetComplete = "snippet_complete"
	messageError           = "error"
)

type snippetMetadata struct {
	SrcVideoURL string `json:"src_video_url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type snippetData struct {
	VideoData string          `json:"video_data"`
	Metadata  snippetMetadata `json:"metadata"`
}

type snippetMessage struct {
	Type string      `json:"type"`
	Data snippetData `json:"data"`
}

type commentaryMetadata struct {
	SrcVideoURL           string `json:"src_video_url"`
	ChunkNumber           int    `json:"chunk_number"`
	Format                string `json:"format"`
	AudioSampleRate       int    `json:"audio_sample_rate"`
	CommentaryLengthBytes int    `json:"commentary_length_bytes"`
	VideoLengthBytes      int    `json:"video_length_bytes"`
	BaseChunksCombined    int    `json:"base_chunks_combined"`
	TotalDurationSeconds  int    `json:"total_duration_seconds"`
}

type commentaryData struct {
	VideoData string             `json:"video_data"`
	Metadata  commentaryMetadata `json:"metadata"`
}

type commentaryMessage struct {
	Type string         `json:"type"`
	Data commentaryData `json:"data"`
}

type terminalMetadata struct {
	SrcVideoURL string `json:"src_video_url"`
}

type completeMessage struct {
	Type     string           `json:"type"`
	Metadata terminalMetadata `json:"metadata"`
}

type errorMessage struct {
	Type     string           `json:"type"`
	Message  string           `json:"message"`
	Metadata terminalMetadata `json:"metadata"`
}

// wsEmitter serializes pipeline output onto one WebSocket connection.
// Both consumers emit concurrently, so every write holds the mutex.
type wsEmitter struct {
	mu         sync.Mutex
	conn       *websocket.Conn
	url        string
	sampleRate int
}

func newWSEmitter(conn *websocket.Conn, url string, sampleRate int) *wsEmitter {
	return &wsEmitter{conn: conn, url: url, sampleRate: sampleRate}
}

func (e *wsEmitter) send(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteJSON(v)
}

func (e *wsEmitter) EmitSnippet(ctx context.Context, s pipeline.Snippet) error {
	return e.send(snippetMessage{
		Type: messageSnippet,
		Data: snippetData{
			VideoData: base64.StdEncoding.EncodeToString(s.Video),
			Metadata: snippetMetadata{
				SrcVideoURL: e.url,
				Title:       s.Title,
				Description: s.Description,
			},
		},
	})
}

func (e *wsEmitter) EmitCommentary(ctx context.Context, c pipeline.CommentaryChunk) error {
	return e.send(commentaryMessage{
		Type: messageCommentaryChunk,
		Data: commentaryData{
			VideoData: base64.StdEncoding.EncodeToString(c.Video),
			Metadata: commentaryMetadata{
				SrcVideoURL:           e.url,
				ChunkNumber:           c.ChunkNumber,
				Format:                "fragmented_mp4",
				AudioSampleRate:       e.sampleRate,
				CommentaryLengthBytes: c.AudioBytes,
				VideoLengthBytes:      c.VideoBytes,
				BaseChunksCombined:    c.BaseChunks,
				TotalDurationSeconds:  c.EndSeconds - c.StartSeconds,
			},
		},
	})
}

func (e *wsEmitter) EmitComplete(ctx context.Context) error {
	return e.send(completeMessage{
		Type:     messageSnippetComplete,
		Metadata: terminalMetadata{SrcVideoURL: e.url},
	})
}

func (e *wsEmitter) EmitError(ctx context.Context, message string) error {
	return e.send(errorMessage{
		Type:     messageError,
		Message:  message,
		Metadata: terminalMetadata{SrcVideoURL: e.url},
	})
}
