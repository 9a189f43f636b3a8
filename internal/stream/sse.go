package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"patchstream/internal/domain"
	"patchstream/internal/observability"
)

// ServeSSE streams derivative points as server-sent events, one
// `data: {"x":..,"y":..}` frame per point. A terminal condition is sent as
// a distinguished `event: terminal` frame, after which the server closes
// the response.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := h.register("sse")
	defer h.release(session)
	session.setState(StateActive)

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-session.sub.Events():
			if !open {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				observability.RecordSendError("sse")
				h.logger.Printf("Session %s send failed: %v", session.id, err)
				return
			}
			flusher.Flush()
			session.countDelivered()
			if ev.Type == domain.EventTerminal {
				session.setState(StateDraining)
				return
			}

		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				observability.RecordSendError("sse")
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return

		case <-h.shutdown:
			session.setState(StateDraining)
			// The broker has usually settled by now; flush whatever it left
			// in the backlog so the client sees the terminal frame.
			h.drainSSE(w, flusher, session)
			return
		}
	}
}

// drainSSE writes already-buffered events without blocking for new ones.
func (h *Handler) drainSSE(w http.ResponseWriter, flusher http.Flusher, session *Session) {
	for {
		select {
		case ev, open := <-session.sub.Events():
			if !open {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				observability.RecordSendError("sse")
				return
			}
			flusher.Flush()
			session.countDelivered()
			if ev.Type == domain.EventTerminal {
				return
			}
		default:
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev domain.StreamEvent) error {
	switch ev.Type {
	case domain.EventTerminal:
		payload, err := json.Marshal(struct {
			Reason domain.TerminalReason `json:"reason"`
		}{ev.Reason})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "event: terminal\ndata: %s\n\n", payload)
		return err

	default:
		payload, err := json.Marshal(ev.Point)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		return err
	}
}
