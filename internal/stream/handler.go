package stream

import (
	"log"
	"sync"
	"time"

	"patchstream/internal/broker"
	"patchstream/internal/observability"
)

// DefaultPingInterval is the keep-alive cadence for idle connections.
const DefaultPingInterval = 15 * time.Second

// Options configures a Handler.
type Options struct {
	Broker *broker.Broker
	// PingInterval is the keep-alive cadence. Default: DefaultPingInterval.
	PingInterval time.Duration
	Logger       *log.Logger
}

// Handler serves the event stream endpoints and tracks live sessions.
type Handler struct {
	brk          *broker.Broker
	pingInterval time.Duration
	logger       *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// NewHandler creates a stream handler over the given broker.
func NewHandler(opts Options) *Handler {
	pingInterval := opts.PingInterval
	if pingInterval == 0 {
		pingInterval = DefaultPingInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		brk:          opts.Broker,
		pingInterval: pingInterval,
		logger:       logger,
		sessions:     make(map[string]*Session),
		shutdown:     make(chan struct{}),
	}
}

// Shutdown asks every delivery loop to drain and exit. Idempotent.
func (h *Handler) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

// ActiveSessions returns the number of connected clients.
func (h *Handler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// register opens a session: subscribes it to the broker and tracks it.
func (h *Handler) register(transport string) *Session {
	sub := h.brk.Subscribe()
	session := newSession(transport, sub)

	h.mu.Lock()
	h.sessions[session.id] = session
	n := len(h.sessions)
	h.mu.Unlock()

	observability.RecordSessionOpened(transport)
	observability.SetActiveSessions(n)
	h.logger.Printf("Session %s opened (%s)", session.id, transport)
	return session
}

// release closes a session: unsubscribes and drops all references. Safe to
// call once per session from its own delivery loop.
func (h *Handler) release(session *Session) {
	h.brk.Unsubscribe(session.sub)
	session.setState(StateClosed)

	h.mu.Lock()
	delete(h.sessions, session.id)
	n := len(h.sessions)
	h.mu.Unlock()

	observability.SetActiveSessions(n)
	h.logger.Printf("Session %s closed after %d events", session.id, session.Delivered())
}
