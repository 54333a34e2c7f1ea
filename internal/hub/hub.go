// Package hub fans push events out to connected wall sessions.
//
// Every session owns a bounded outbound queue drained by a single writer
// goroutine, so frames reach each viewer in the order they were queued.
// Broadcast queues under the hub lock: all sessions observe one global order.
// A session whose queue is full misses the event; the wall recovers through
// the pull endpoints.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 512
)

// ErrClosed is returned by Register after Close
var ErrClosed = errors.New("hub is closed")

// Conn is the subset of *websocket.Conn used by a session
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Options tune per-session behaviour
type Options struct {
	QueueSize    int
	PingInterval time.Duration
}

// Stats is a snapshot of hub counters
type Stats struct {
	TotalBroadcast uint64
	TotalSent      uint64
	TotalDropped   uint64
	Sessions       map[string]SessionStats
}

// SessionStats tracks delivery for a single session
type SessionStats struct {
	Sent    uint64
	Dropped uint64
}

type outbound struct {
	event string
	data  []byte
}

// Session is one connected wall
type Session struct {
	id   string
	conn Conn
	send chan outbound
	done chan struct{}
	once sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Hub is the registry of live sessions
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	totalBroadcast atomic.Uint64

	queueSize    int
	pingInterval time.Duration
	metrics      metrics.Provider
	logger       zerolog.Logger
}

// New creates an empty hub
func New(opts Options, m metrics.Provider, logger zerolog.Logger) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	return &Hub{
		sessions:     make(map[string]*Session),
		queueSize:    opts.QueueSize,
		pingInterval: opts.PingInterval,
		metrics:      m,
		logger:       logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds conn to the working set and queues greeting as its first
// frame. greeting is evaluated under the hub lock so no broadcast can slip in
// ahead of it.
func (h *Hub) Register(conn Conn, greeting func() models.Event) (*Session, error) {
	s := &Session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan outbound, h.queueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if greeting != nil {
		if msg, err := encode(greeting()); err == nil {
			h.enqueue(s, msg)
		} else {
			h.logger.Error().Err(err).Msg("Failed to encode greeting")
		}
	}
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetSessions(count)
	h.logger.Info().Str("session", s.id).Int("sessions", count).Msg("Wall connected")
	return s, nil
}

// Serve runs the session until the peer goes away. It blocks on the read
// loop and unregisters the session on return.
func (h *Hub) Serve(s *Session) {
	go h.writeLoop(s)
	h.readLoop(s)
}

// Broadcast queues e for every session
func (h *Hub) Broadcast(e models.Event) {
	msg, err := encode(e)
	if err != nil {
		h.logger.Error().Err(err).Str("event", e.Event).Msg("Failed to encode event")
		return
	}

	h.totalBroadcast.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		h.enqueue(s, msg)
	}
}

// SendTo queues e for one session. It reports false when the session is gone
// or its queue is full.
func (h *Hub) SendTo(id string, e models.Event) bool {
	msg, err := encode(e)
	if err != nil {
		h.logger.Error().Err(err).Str("event", e.Event).Msg("Failed to encode event")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return false
	}
	return h.enqueue(s, msg)
}

// Unregister removes the session and closes its connection. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.metrics.SetSessions(count)
	h.logger.Info().
		Str("session", id).
		Uint64("sent", s.sent.Load()).
		Uint64("dropped", s.dropped.Load()).
		Int("sessions", count).
		Msg("Wall disconnected")
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Stats returns a snapshot of delivery counters
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{
		TotalBroadcast: h.totalBroadcast.Load(),
		Sessions:       make(map[string]SessionStats, len(h.sessions)),
	}
	for id, s := range h.sessions {
		ss := SessionStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		stats.Sessions[id] = ss
		stats.TotalSent += ss.Sent
		stats.TotalDropped += ss.Dropped
	}
	return stats
}

// Close sends a close frame to every session and rejects new registrations
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, s := range sessions {
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.close()
	}
	h.metrics.SetSessions(0)
	h.logger.Info().Int("sessions", len(sessions)).Msg("Hub closed")
}

// enqueue must be called with h.mu held
func (h *Hub) enqueue(s *Session, msg outbound) bool {
	select {
	case s.send <- msg:
		s.sent.Add(1)
		h.metrics.IncEventsSent(msg.event)
		return true
	default:
		s.dropped.Add(1)
		h.metrics.IncEventsDropped(msg.event)
		h.logger.Warn().Str("session", s.id).Str("event", msg.event).Msg("Session queue full, event dropped")
		return false
	}
}

func (h *Hub) writeLoop(s *Session) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				h.logger.Debug().Err(err).Str("session", s.id).Msg("Write failed")
				h.Unregister(s.id)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug().Err(err).Str("session", s.id).Msg("Ping failed")
				h.Unregister(s.id)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (h *Hub) readLoop(s *Session) {
	defer h.Unregister(s.id)

	pongWait := 2 * h.pingInterval
	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("session", s.id).Msg("Unexpected close")
			}
			return
		}
	}
}

func encode(e models.Event) (outbound, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return outbound{}, err
	}
	return outbound{event: e.Event, data: data}, nil
}
