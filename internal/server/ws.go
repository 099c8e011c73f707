package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/clipforge/clipforge/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from arbitrary origins; auth is out of band.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleVideoSnippets runs one pipeline per connection. The connection's
// query names the source; the run ends when the source is exhausted, a
// terminal error occurs, or the client disconnects.
func (s *Server) handleVideoSnippets(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("video_url")
	if url == "" {
		http.Error(w, "video_url query parameter is required", http.StatusBadRequest)
		return
	}

	// Absent is_live means "probe the source".
	var live *bool
	switch r.URL.Query().Get("is_live") {
	case "":
	case "true", "1":
		v := true
		live = &v
	default:
		v := false
		live = &v
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// ULIDs sort by time, which keeps log greps over concurrent runs sane.
	runID := ulid.Make().String()
	logger := s.logger.With(slog.String("run_id", runID), slog.String("url", url))
	logger.Info("client connected")

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing after connecting; the read loop exists to
	// notice the peer going away and cancel the run.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	emitter := newWSEmitter(conn, url, s.sampleRate)
	runErr := s.runs.Run(ctx, url, live, emitter)

	switch {
	case runErr == nil:
		logger.Info("run finished")
	case errors.Is(runErr, context.Canceled):
		logger.Info("client disconnected")
	default:
		logger.Warn("run failed", slog.String("error", runErr.Error()))
		if err := emitter.EmitError(ctx, runErr.Error()); err != nil {
			logger.Debug("terminal error not delivered", slog.String("error", err.Error()))
		}
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
