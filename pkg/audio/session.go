package audio

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mushan/thinkspeak/pkg/metrics"
)

const defaultSampleRate = 16000

// frameWriter is the slice of *websocket.Conn the session layer needs.
// Narrow so tests can substitute a fake.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is the live state of one audio connection. It exists exactly as
// long as the socket; there is no cross-connection sharing.
type Session struct {
	ID string

	// mu serializes outbound writes and guards the mutable state, so
	// concurrent collaborator callbacks never interleave a frame.
	mu         sync.Mutex
	conn       frameWriter
	active     bool
	sampleRate int

	closeOnce sync.Once
}

// Active reports whether a start directive has been received.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SampleRate returns the negotiated input sample rate.
func (s *Session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

func (s *Session) setActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = v
}

func (s *Session) setSampleRate(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleRate = v
}

func (s *Session) writeFrame(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

type transcriptFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Manager owns the session table, the only shared mutable state of the
// audio layer. Every mutation is safe under concurrent handler invocations
// and asynchronous collaborator callbacks.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	processor Processor
	logger    *slog.Logger
}

// NewManager creates a session manager backed by the given collaborator.
func NewManager(processor Processor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		processor: processor,
		logger:    logger,
	}
}

// Open registers a new connection and returns its session, created idle at
// the default sample rate.
func (m *Manager) Open(conn frameWriter) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		conn:       conn,
		sampleRate: defaultSampleRate,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	metrics.AudioSessionsActive.Inc()
	m.logger.Info("audio session opened", "session", s.ID)
	return s
}

// Close removes the session and notifies the collaborator. Safe to call from
// both the close path and the transport-error path; the collaborator is
// notified exactly once.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		metrics.AudioSessionsActive.Dec()
		m.processor.OnSessionClosed(id)
		m.logger.Info("audio session closed", "session", id)
	})
}

// lookup returns the live session or nil when the connection is gone.
func (m *Manager) lookup(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// HandleBinary forwards one inbound audio chunk to the collaborator. Chunks
// are forwarded verbatim regardless of the session's active/idle state. The
// callbacks resolve the session at fire time, so a callback arriving after
// Close is a silent no-op.
func (m *Manager) HandleBinary(id string, chunk []byte) {
	if m.lookup(id) == nil {
		return
	}
	metrics.AudioChunksTotal.Inc()
	m.processor.OnAudioChunk(id, chunk,
		func(text string) { m.sendTranscript(id, text) },
		func(data []byte) { m.sendAudio(id, data) },
	)
}

// HandleControl applies one inbound control frame to the session state.
// Malformed or unknown directives are ignored.
func (m *Manager) HandleControl(id string, payload []byte) {
	s := m.lookup(id)
	if s == nil {
		return
	}

	msg, err := parseControl(payload)
	if err != nil {
		m.logger.Debug("ignoring control frame", "session", id, "error", err)
		return
	}

	switch msg.Type {
	case ControlStart:
		s.setActive(true)
	case ControlEnd:
		s.setActive(false)
	case ControlSampleRate:
		s.setSampleRate(msg.SampleRate)
	}
}

// sendTranscript serializes a transcript as one JSON text frame on the
// session's connection.
func (m *Manager) sendTranscript(id, text string) {
	s := m.lookup(id)
	if s == nil {
		return
	}

	data, err := json.Marshal(transcriptFrame{Type: "transcript", Text: text})
	if err != nil {
		m.logger.Warn("transcript marshal failed", "session", id, "error", err)
		return
	}
	if err := s.writeFrame(websocket.TextMessage, data); err != nil {
		m.logger.Warn("transcript write failed", "session", id, "error", err)
		return
	}
	metrics.AudioFramesOutTotal.WithLabelValues("transcript").Inc()
}

// sendAudio forwards synthesized audio bytes as one binary frame, unmodified.
func (m *Manager) sendAudio(id string, data []byte) {
	s := m.lookup(id)
	if s == nil {
		return
	}

	if err := s.writeFrame(websocket.BinaryMessage, data); err != nil {
		m.logger.Warn("audio write failed", "session", id, "error", err)
		return
	}
	metrics.AudioFramesOutTotal.WithLabelValues("audio").Inc()
}
