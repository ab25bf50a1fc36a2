package audio

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to audio websocket sessions and runs the
// read loop: binary frames go to the chunk collaborator, text frames to the
// control parser. Session state is discarded on every exit path.
type Handler struct {
	Manager *Manager
	Logger  *slog.Logger

	// MaxFrameBytes bounds inbound frames; zero means the transport default.
	MaxFrameBytes int64
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if h.MaxFrameBytes > 0 {
		conn.SetReadLimit(h.MaxFrameBytes)
	}

	sess := h.Manager.Open(conn)
	defer h.Manager.Close(sess.ID)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("audio read ended", "session", sess.ID, "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			h.Manager.HandleBinary(sess.ID, data)
		case websocket.TextMessage:
			h.Manager.HandleControl(sess.ID, data)
		}
	}
}
