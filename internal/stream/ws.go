package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"patchstream/internal/domain"
	"patchstream/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // charting frontend is served from another origin
	},
}

const wsWriteTimeout = 10 * time.Second

// wsPointMessage is one derivative point on the WebSocket transport.
type wsPointMessage struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// wsTerminalMessage signals the end of the stream.
type wsTerminalMessage struct {
	Type   string                `json:"type"`
	Reason domain.TerminalReason `json:"reason"`
}

// ServeWS streams derivative points over a WebSocket connection, carrying
// the same events as the SSE endpoint as discrete JSON messages.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session := h.register("ws")
	defer h.release(session)
	session.setState(StateActive)

	// Reader goroutine: the client never sends data frames, but reading is
	// required to notice disconnects and answer control frames.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-session.sub.Events():
			if !open {
				return
			}
			if err := writeWSEvent(conn, ev); err != nil {
				observability.RecordSendError("ws")
				h.logger.Printf("Session %s send failed: %v", session.id, err)
				return
			}
			session.countDelivered()
			if ev.Type == domain.EventTerminal {
				session.setState(StateDraining)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					time.Now().Add(wsWriteTimeout))
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				observability.RecordSendError("ws")
				return
			}

		case <-clientGone:
			return

		case <-h.shutdown:
			session.setState(StateDraining)
			// Flush already-buffered events so the client sees the terminal
			// message before the close handshake.
			h.drainWS(conn, session)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}

// drainWS writes already-buffered events without blocking for new ones.
func (h *Handler) drainWS(conn *websocket.Conn, session *Session) {
	for {
		select {
		case ev, open := <-session.sub.Events():
			if !open {
				return
			}
			if err := writeWSEvent(conn, ev); err != nil {
				observability.RecordSendError("ws")
				return
			}
			session.countDelivered()
			if ev.Type == domain.EventTerminal {
				return
			}
		default:
			return
		}
	}
}

func writeWSEvent(conn *websocket.Conn, ev domain.StreamEvent) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

	if ev.Type == domain.EventTerminal {
		return conn.WriteJSON(wsTerminalMessage{Type: "terminal", Reason: ev.Reason})
	}
	return conn.WriteJSON(wsPointMessage{Type: "point", X: ev.Point.X, Y: ev.Point.Y})
}
