package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"safety-monitoring/internal/pipeline"
	"safety-monitoring/pkg/logger"
)

type Config struct {
	// PingInterval is the keepalive cadence. PongWait must cover two
	// missed keepalives; a connection silent that long is evicted.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	// SendBuffer is the per-connection outbound queue. A client that
	// falls this far behind is evicted rather than slowing the others.
	SendBuffer int
}

func (c *Config) fillDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 2*c.PingInterval + 5*time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
}

// Hub owns the set of live dashboard connections and fans each
// processed event out to all of them. Registration and broadcast may
// run concurrently; the registry is guarded by one lock.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func New(cfg Config) *Hub {
	cfg.fillDefaults()
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards connect from anywhere, same as the CORS-open API.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := logger.Get()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	// The ack must be queued inside the registration critical section:
	// the buffer is still empty and no broadcast or close can reach the
	// channel while the lock is held, so the client's first message is
	// always the ack and the send can never hit a closed channel.
	c.send <- controlMessage("connection", map[string]interface{}{
		"status":    "connected",
		"client_id": c.id,
	})
	h.mu.Unlock()
	log.Infow("client connected", "client_id", c.id, "total", total)

	go c.writePump()
	go c.readPump()
}

// unregister removes the client and closes its send channel. Safe to
// call more than once per client.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		logger.Get().Infow("client disconnected", "client_id", c.id, "total", total)
	}
}

// Broadcast sends the event to every registered connection. With no
// connections it is a no-op and performs no serialization or I/O. A
// client whose buffer is full is scheduled for eviction; delivery to
// the others is unaffected.
func (h *Hub) Broadcast(ev pipeline.Event) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.mu.RUnlock()
		logger.Get().Errorw("broadcast marshal failed", "error", err)
		return
	}

	var stale []*Client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		logger.Get().Warnw("client too slow, evicting", "client_id", c.id)
		h.unregister(c)
		_ = c.conn.Close()
	}
}

// trySend queues a message for one client if it is still registered.
// The registry lock orders it against unregister closing the channel.
func (h *Hub) trySend(c *Client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close evicts every connection. Used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
		_ = c.conn.Close()
	}
}

func controlMessage(typ string, fields map[string]interface{}) []byte {
	m := map[string]interface{}{
		"type":      typ,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		m[k] = v
	}
	data, _ := json.Marshal(m)
	return data
}
