package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mushan/thinkspeak/pkg/chat"
	"github.com/mushan/thinkspeak/pkg/provider"
	"github.com/mushan/thinkspeak/pkg/store"
)

const defaultStreamTimeout = 1000 * time.Millisecond

// handleStreamMessage is the streaming reply path, delivered as SSE: one
// "data:" event per generated chunk, closed by a "done" or "error" event.
// The handler's timeout is the backstop against adapters whose streams
// never emit.
func (s *Server) handleStreamMessage(w http.ResponseWriter, r *http.Request) {
	if _, err := store.ParseID(r.PathValue("id")); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	q := r.URL.Query()
	message := q.Get("message")

	providerID := s.DefaultStreamProvider
	if p := q.Get("provider"); p != "" {
		var err error
		providerID, err = provider.ParseID(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	timeout := s.StreamTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	chunks, err := s.Orchestrator.GenerateReplyStream(ctx, chat.ReplyRequest{
		Persona:     q.Get("persona"),
		History:     q.Get("history"),
		UserMessage: message,
		Provider:    providerID,
	})
	if err != nil {
		var unknown *provider.ErrUnknownProvider
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		writeError(w, http.StatusBadGateway, "stream initiation failed: %v", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			writeSSEEvent(w, "error", "stream timeout")
			flusher.Flush()
			return
		case chunk, open := <-chunks:
			if !open {
				return
			}
			if chunk.Err != nil {
				s.logger().Warn("stream failed", "error", chunk.Err)
				writeSSEEvent(w, "error", "generation failed")
				flusher.Flush()
				return
			}
			if chunk.Done {
				writeSSEEvent(w, "done", "")
				flusher.Flush()
				return
			}
			writeSSEData(w, chunk.Text)
			flusher.Flush()
		}
	}
}

// writeSSEData writes one data event; embedded newlines become multiple
// data: lines of the same event per the SSE framing rules.
func writeSSEData(w http.ResponseWriter, text string) {
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func writeSSEEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
