package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-safety-agent/internal/broadcast"
	"github.com/mr1hm/go-safety-agent/internal/models"
	"github.com/mr1hm/go-safety-agent/internal/proximity"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

const (
	TypeEscalation = "escalation"
	TypeTracking   = "tracking"
)

// Envelope is the JSON frame pushed to UI clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client owns one connection. Only its writer goroutine touches conn for writes.
type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

func (c *client) writeLoop() {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("websocket write error", "remote", c.remote, "error", err)
			return
		}
	}

	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
}

// Hub pushes escalations and tracking updates to connected UI clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and holds the connection until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("ui client connected", "remote", c.remote)

	go c.writeLoop()

	// Clients never send; reading only detects disconnects.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}

	h.remove(c)
	slog.Info("ui client disconnected", "remote", c.remote)
}

// remove closes c's queue once; the writer then closes the connection.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify satisfies proximity.Notifier.
func (h *Hub) Notify(e proximity.Escalation) {
	h.Send(Envelope{Type: TypeEscalation, Data: e})
}

// Send queues env for every client without waiting on the network. A client
// whose queue is full misses the frame.
func (h *Hub) Send(env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		slog.Error("json marshaling error", "type", env.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("ui client too slow, dropping frame", "remote", c.remote, "type", env.Type)
		}
	}
}

// Relay forwards tracking updates from topic to clients until ctx is done or
// the subscription closes.
func (h *Hub) Relay(ctx context.Context, sub broadcast.Subscriber, topic string) error {
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("error subscribing to %s: %w", topic, err)
	}

	for msg := range messages {
		var update models.TrackingUpdate
		if err := json.Unmarshal(msg.Payload, &update); err != nil {
			slog.Warn("dropping undecodable tracking update", "topic", topic, "error", err)
			continue
		}
		h.Send(Envelope{Type: TypeTracking, Data: update})
	}
	return nil
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
