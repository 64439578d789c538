package hub

import (
	"time"

	"github.com/gorilla/websocket"

	"safety-monitoring/pkg/logger"
)

// Client is one observing dashboard connection. The hub owns it: it is
// created on upgrade and destroyed on close, send failure, or
// keepalive timeout. Reconnecting clients get a fresh Client.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) ID() string {
	return c.id
}

// readPump consumes inbound messages and enforces liveness: any
// message or pong from the client resets the read deadline, and a
// connection silent past PongWait is dropped. A "ping" text message is
// answered with a pong control payload.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Get().Warnw("client read error", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		if string(msg) == "ping" {
			c.hub.trySend(c, controlMessage("pong", nil))
		}
	}
}

// writePump drains the send channel onto the wire and emits the
// keepalive on every ping tick: a protocol-level ping plus a JSON
// keepalive message for clients that only watch the data stream.
func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, controlMessage("keepalive", nil)); err != nil {
				return
			}
		}
	}
}
