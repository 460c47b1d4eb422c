// internal/hub/websocket.go
package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Frames carry the payload JSON-escaped inside an envelope. An escaped byte
// takes at most six (\u00XX), so any payload within MaxPayloadBytes fits
// under the read limit. The payload size itself is checked after decoding.
const (
	maxEscapeExpansion = 6
	envelopeOverhead   = 1024
)

func (h *Hub) readLimit() int64 {
	return int64(maxEscapeExpansion*h.opts.MaxPayloadBytes + envelopeOverhead)
}

func (h *Hub) pingPeriod() time.Duration {
	return (h.opts.ReadDeadline * 9) / 10 // Must be less than the read deadline
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// ServeWs upgrades the request and runs the connection until it drops.
// Unauthenticated callers are never refused; the anonymous policy decides
// their key.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	ident := h.identifier.Identify(r, id)

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(id, ident, h.opts.SendBuffer)
	client.Conn = conn
	h.Connect(context.Background(), client)

	go h.WritePump(client)
	go h.ReadPump(client)
}

// ReadPump reads frames until the connection fails or goes idle past the
// read deadline, then disconnects the client.
func (h *Hub) ReadPump(client *Client) {
	defer func() {
		h.Disconnect(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(h.readLimit())
	client.Conn.SetReadDeadline(time.Now().Add(h.opts.ReadDeadline))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(h.opts.ReadDeadline))
		return nil
	})

	for {
		_, frame, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Warnf("WebSocket error for %s: %v", client.ID, err)
			}
			return
		}

		client.touch()
		client.Conn.SetReadDeadline(time.Now().Add(h.opts.ReadDeadline))
		h.HandleClientMessage(client, frame)
	}
}

// WritePump writes queued frames, one websocket message each, and keeps the
// connection alive with pings.
func (h *Hub) WritePump(client *Client) {
	ticker := time.NewTicker(h.pingPeriod())
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if !ok {
				// The hub closed the channel.
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Client connection is likely broken
			}
		}
	}
}
