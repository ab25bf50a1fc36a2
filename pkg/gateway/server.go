// Package gateway exposes the reply orchestrator and the audio session
// manager over HTTP: JSON endpoints for conversations, SSE for streaming
// replies, and a websocket endpoint for real-time audio.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mushan/thinkspeak/pkg/chat"
	"github.com/mushan/thinkspeak/pkg/provider"
	"github.com/mushan/thinkspeak/pkg/store"
)

// Server wires the gateway's HTTP surface.
type Server struct {
	Orchestrator *chat.Orchestrator
	Store        store.Store
	Audio        http.Handler

	// DefaultProvider serves synchronous requests that omit a provider.
	DefaultProvider provider.ID
	// DefaultStreamProvider serves streaming requests that omit a provider.
	DefaultStreamProvider provider.ID
	// StreamTimeout bounds one SSE response; it is the backstop against
	// adapters whose streams never emit.
	StreamTimeout time.Duration

	Logger *slog.Logger
}

// Routes builds the gateway mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/characters", s.handleCreateCharacter)
	mux.HandleFunc("GET /api/characters/{id}", s.handleGetCharacter)

	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/history", s.handleHistory)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("POST /api/conversations/{id}/message", s.handleSendMessage)
	mux.HandleFunc("GET /api/conversations/{id}/stream_message", s.handleStreamMessage)

	if s.Audio != nil {
		mux.Handle("GET /ws/audio", s.Audio)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	return mux
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, apiError{Error: fmt.Sprintf(format, args...)})
}
