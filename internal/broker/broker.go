// Package broker fans derivative points out to live subscribers.
//
// The broker is the only pipeline structure touched from multiple goroutines:
// the dispatcher publishes into it while per-session delivery loops drain
// their subscriptions. All registry and backlog mutation is serialized behind
// one mutex. Publish never blocks on a slow subscriber; when a backlog is
// full the oldest buffered event is dropped and the overflow counter moves.
package broker

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"patchstream/internal/domain"
	"patchstream/internal/observability"
)

// DefaultBacklogCapacity bounds each subscriber's undelivered event queue.
const DefaultBacklogCapacity = 256

// Subscription is one registered consumer of the stream. The owning session
// drains Events until it is closed; the broker never holds a reference past
// Unsubscribe.
type Subscription struct {
	id       string
	events   chan domain.StreamEvent
	overflow atomic.Uint64
	closed   bool // guarded by the broker mutex
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Events returns the channel the subscriber drains. It is closed after a
// terminal event or Unsubscribe; buffered events remain readable.
func (s *Subscription) Events() <-chan domain.StreamEvent { return s.events }

// Overflow returns how many buffered events were dropped for this subscriber.
func (s *Subscription) Overflow() uint64 { return s.overflow.Load() }

// Options configures a Broker.
type Options struct {
	// BacklogCapacity is the bounded per-subscriber queue size.
	// Default: DefaultBacklogCapacity.
	BacklogCapacity int
	Logger          *log.Logger
}

// Broker is the in-process fan-out hub for one logical signal.
type Broker struct {
	mu             sync.Mutex
	subs           map[string]*Subscription
	capacity       int
	terminated     bool
	terminalReason domain.TerminalReason
	published      atomic.Uint64
	dropped        atomic.Uint64
	logger         *log.Logger
}

// New creates a broker.
func New(opts Options) *Broker {
	capacity := opts.BacklogCapacity
	if capacity <= 0 {
		capacity = DefaultBacklogCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{
		subs:     make(map[string]*Subscription),
		capacity: capacity,
		logger:   logger,
	}
}

// Subscribe registers a new consumer with an empty backlog. Subscribing to a
// terminated broker yields a subscription that immediately carries the
// terminal event and is closed.
func (b *Broker) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		events: make(chan domain.StreamEvent, b.capacity),
	}

	b.mu.Lock()
	if b.terminated {
		sub.events <- domain.TerminalEvent(b.terminalReason)
		close(sub.events)
		sub.closed = true
		b.mu.Unlock()
		return sub
	}
	b.subs[sub.id] = sub
	n := len(b.subs)
	b.mu.Unlock()

	observability.SetActiveSubscribers(n)
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once and with subscriptions the broker no longer tracks.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
	}
	if !sub.closed {
		close(sub.events)
		sub.closed = true
	}
	n := len(b.subs)
	b.mu.Unlock()

	observability.SetActiveSubscribers(n)
}

// Publish appends the point to every active subscriber's backlog. It never
// blocks; full backlogs lose their oldest entry. Publishing after Terminate
// is a no-op.
func (b *Broker) Publish(p domain.DerivativePoint) {
	ev := domain.PointEvent(p)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminated {
		return
	}

	for _, sub := range b.subs {
		b.offer(sub, ev)
	}
	b.published.Add(1)
	observability.RecordPointPublished()
}

// Terminate delivers one terminal event to every active subscriber, closes
// their channels, and stops the broker. Only the first call has any effect.
func (b *Broker) Terminate(reason domain.TerminalReason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminated {
		return
	}
	b.terminated = true
	b.terminalReason = reason

	ev := domain.TerminalEvent(reason)
	for id, sub := range b.subs {
		b.offer(sub, ev)
		close(sub.events)
		sub.closed = true
		delete(b.subs, id)
	}

	observability.SetActiveSubscribers(0)
	observability.RecordTerminalEvent(string(reason))
	b.logger.Printf("Broker terminated: %s", reason)
}

// offer enqueues without blocking, evicting the oldest buffered event when
// the backlog is full. Caller holds b.mu, so sends cannot race each other;
// only the draining session removes entries concurrently.
func (b *Broker) offer(sub *Subscription, ev domain.StreamEvent) {
	select {
	case sub.events <- ev:
		return
	default:
	}

	// Backlog full: favor freshness, drop the oldest entry.
	select {
	case <-sub.events:
		sub.overflow.Add(1)
		b.dropped.Add(1)
		observability.RecordBacklogOverflow()
	default:
		// Reader drained it in the meantime.
	}

	select {
	case sub.events <- ev:
	default:
		// Unreachable while the mutex is held; kept so offer can never block.
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Terminated reports whether the broker has delivered its terminal event.
func (b *Broker) Terminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated
}

// Published returns the total number of points published.
func (b *Broker) Published() uint64 { return b.published.Load() }

// Dropped returns the total number of events lost to backlog overflow.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }
