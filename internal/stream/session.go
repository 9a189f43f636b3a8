// Package stream exposes the derivative stream to clients over SSE and
// WebSocket. Each connection owns one StreamSession and one broker
// subscription; the per-session delivery loop is the only writer on its
// transport.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"patchstream/internal/broker"
)

// SessionState tracks a client connection's lifecycle.
type SessionState string

const (
	StateConnecting SessionState = "connecting"
	StateActive     SessionState = "active"
	StateDraining   SessionState = "draining"
	StateClosed     SessionState = "closed"
)

// Session represents one connected client. Exclusively owned by the handler
// goroutine serving its connection; the broker holds only the subscription.
type Session struct {
	id        string
	transport string
	sub       *broker.Subscription
	startedAt time.Time

	mu        sync.Mutex
	state     SessionState
	delivered int64
}

func newSession(transport string, sub *broker.Subscription) *Session {
	return &Session{
		id:        uuid.NewString(),
		transport: transport,
		sub:       sub,
		startedAt: time.Now(),
		state:     StateConnecting,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Transport returns "sse" or "ws".
func (s *Session) Transport() string { return s.transport }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Delivered returns how many events this session has pushed downstream.
func (s *Session) Delivered() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

func (s *Session) countDelivered() {
	s.mu.Lock()
	s.delivered++
	s.mu.Unlock()
}
