package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipforge/clipforge/internal/config"
)

// liveEndpoint is the bidirectional generation websocket endpoint.
const liveEndpoint = "wss://generativelanguage.googleapis.com/ws/" +
	"google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	liveDialTimeout    = 30 * time.Second
	liveSetupTimeout   = 10 * time.Second
	liveMaxMessageSize = 16 * 1024 * 1024
)

// LiveSession is a bidirectional session that accepts video frames and a
// text prompt and streams back PCM audio.
type LiveSession interface {
	// SendFrame submits one JPEG frame as realtime input.
	SendFrame(ctx context.Context, jpeg []byte) error
	// Prompt sends the commentary prompt and completes the turn.
	Prompt(ctx context.Context, text string) error
	// Audio yields decoded PCM chunks. Closed when the session ends.
	Audio() <-chan []byte
	// TurnDone signals each completed model turn.
	TurnDone() <-chan struct{}
	// Err returns the receive failure that ended the session, if any.
	Err() error
	// Close tears down the session.
	Close() error
}

// SessionFactory opens a fresh live session.
type SessionFactory func(ctx context.Context) (LiveSession, error)

// liveSetup is the mandatory first client message.
type liveSetup struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
		} `json:"generationConfig"`
		SystemInstruction *Content `json:"systemInstruction,omitempty"`
	} `json:"setup"`
}

// liveRealtimeInput carries streamed media frames.
type liveRealtimeInput struct {
	RealtimeInput struct {
		MediaChunks []InlineData `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

// liveClientContent carries a user turn.
type liveClientContent struct {
	ClientContent struct {
		Turns        []Content `json:"turns"`
		TurnComplete bool      `json:"turnComplete"`
	} `json:"clientContent"`
}

// liveServerMessage is the union of server messages the session handles.
type liveServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				InlineData *InlineData `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"modelTurn,omitempty"`
		TurnComplete       bool `json:"turnComplete,omitempty"`
		GenerationComplete bool `json:"generationComplete,omitempty"`
	} `json:"serverContent,omitempty"`
}

// GeminiLiveSession implements LiveSession over a websocket connection.
type GeminiLiveSession struct {
	conn *websocket.Conn

	audioCh chan []byte
	turnCh  chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
	recvErr error
}

// DialLive opens a live session against the default provider endpoint.
func DialLive(ctx context.Context, cfg config.LLMConfig, systemInstruction, apiKey string) (*GeminiLiveSession, error) {
	return dialLive(ctx, liveEndpoint, cfg.LiveModel, systemInstruction, apiKey)
}

// NewLiveFactory returns a SessionFactory bound to the given configuration.
func NewLiveFactory(cfg config.LLMConfig, systemInstruction, apiKey string) SessionFactory {
	return func(ctx context.Context) (LiveSession, error) {
		return DialLive(ctx, cfg, systemInstruction, apiKey)
	}
}

func dialLive(ctx context.Context, endpoint, model, systemInstruction, apiKey string) (*GeminiLiveSession, error) {
	dialer := websocket.Dialer{HandshakeTimeout: liveDialTimeout}
	header := http.Header{}
	header.Set(apiKeyHeader, apiKey)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, &SessionError{Op: "dial", Err: fmt.Errorf("%w (status %d)", err, resp.StatusCode)}
		}
		return nil, &SessionError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(liveMaxMessageSize)

	s := &GeminiLiveSession{
		conn:    conn,
		audioCh: make(chan []byte, 16),
		turnCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	var setup liveSetup
	setup.Setup.Model = "models/" + model
	setup.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	if systemInstruction != "" {
		setup.Setup.SystemInstruction = &Content{Parts: []Part{{Text: systemInstruction}}}
	}
	if err := s.writeJSON(setup); err != nil {
		conn.Close()
		return nil, &SessionError{Op: "setup", Err: err}
	}

	// The first server message must acknowledge setup.
	_ = conn.SetReadDeadline(time.Now().Add(liveSetupTimeout))
	var ack liveServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, &SessionError{Op: "setup", Err: err}
	}
	if ack.SetupComplete == nil {
		conn.Close()
		return nil, &SessionError{Op: "setup", Err: fmt.Errorf("setup not acknowledged")}
	}
	_ = conn.SetReadDeadline(time.Time{})

	go s.receiveLoop()
	return s, nil
}

// SendFrame submits one JPEG frame as realtime input.
func (s *GeminiLiveSession) SendFrame(ctx context.Context, jpeg []byte) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	var msg liveRealtimeInput
	msg.RealtimeInput.MediaChunks = []InlineData{{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(jpeg),
	}}
	if err := s.writeJSON(msg); err != nil {
		return &SessionError{Op: "send_frame", Err: err}
	}
	return nil
}

// Prompt sends the commentary prompt text and marks the turn complete,
// triggering audio generation for the frames sent so far.
func (s *GeminiLiveSession) Prompt(ctx context.Context, text string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	var msg liveClientContent
	msg.ClientContent.Turns = []Content{{Role: "user", Parts: []Part{{Text: text}}}}
	msg.ClientContent.TurnComplete = true
	if err := s.writeJSON(msg); err != nil {
		return &SessionError{Op: "prompt", Err: err}
	}
	return nil
}

// Audio yields decoded PCM chunks.
func (s *GeminiLiveSession) Audio() <-chan []byte {
	return s.audioCh
}

// TurnDone signals each completed model turn.
func (s *GeminiLiveSession) TurnDone() <-chan struct{} {
	return s.turnCh
}

// Err returns the receive failure that ended the session, if any.
func (s *GeminiLiveSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvErr
}

// Close tears down the session. Safe to call more than once.
func (s *GeminiLiveSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *GeminiLiveSession) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &SessionError{Op: "send", Err: fmt.Errorf("session closed")}
	}
	return nil
}

func (s *GeminiLiveSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// receiveLoop decodes server messages into audio chunks and turn signals
// until the connection closes.
func (s *GeminiLiveSession) receiveLoop() {
	defer close(s.audioCh)

	for {
		var msg liveServerMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			if !s.closed {
				s.recvErr = err
			}
			s.mu.Unlock()
			return
		}
		if msg.ServerContent == nil {
			continue
		}

		if turn := msg.ServerContent.ModelTurn; turn != nil {
			for _, part := range turn.Parts {
				if part.InlineData == nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				select {
				case s.audioCh <- pcm:
				case <-s.done:
					return
				}
			}
		}
		if msg.ServerContent.TurnComplete || msg.ServerContent.GenerationComplete {
			select {
			case s.turnCh <- struct{}{}:
			default:
			}
		}
	}
}
