package domain

// EventType discriminates broker stream events.
type EventType string

const (
	// EventPoint carries one derivative point.
	EventPoint EventType = "point"
	// EventTerminal signals the end of the stream; no points follow.
	EventTerminal EventType = "terminal"
)

// TerminalReason explains why a stream ended.
type TerminalReason string

const (
	// ReasonSourceUnavailable means acquisition retries were exhausted.
	ReasonSourceUnavailable TerminalReason = "SOURCE_UNAVAILABLE"
	// ReasonSourceComplete means a finite source delivered its last sample.
	ReasonSourceComplete TerminalReason = "SOURCE_COMPLETE"
	// ReasonShutdown means the pipeline was stopped deliberately.
	ReasonShutdown TerminalReason = "SHUTDOWN"
)

// StreamEvent is the unit delivered to subscribers. Point is valid only when
// Type is EventPoint; Reason only when Type is EventTerminal.
type StreamEvent struct {
	Type   EventType       `json:"type"`
	Point  DerivativePoint `json:"-"`
	Reason TerminalReason  `json:"reason,omitempty"`
}

// PointEvent wraps a derivative point as a stream event.
func PointEvent(p DerivativePoint) StreamEvent {
	return StreamEvent{Type: EventPoint, Point: p}
}

// TerminalEvent builds a terminal stream event.
func TerminalEvent(reason TerminalReason) StreamEvent {
	return StreamEvent{Type: EventTerminal, Reason: reason}
}
