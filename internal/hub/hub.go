package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvenkat/home-automation-hub/internal/observability"
)

// textMessage matches websocket.TextMessage; declared here so the registry
// does not depend on the transport package.
const textMessage = 1

const defaultWriteTimeout = 5 * time.Second

// Conn is the subset of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Event is the envelope every realtime update is wrapped in.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	id   string
	conn Conn

	// Guards writes; websocket connections do not allow concurrent writers.
	mu sync.Mutex
}

func (c *client) write(deadline time.Duration, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(deadline))
	return c.conn.WriteMessage(textMessage, msg)
}

// Hub is the registry of connected realtime clients. Publishing fans out to
// a snapshot of the current membership; delivery is best-effort and a failing
// connection is dropped without affecting the others.
type Hub struct {
	log          *zap.Logger
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

func New(log *zap.Logger) *Hub {
	return &Hub{
		log:          log,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[string]*client),
	}
}

// Register adds a connection and returns its id.
func (h *Hub) Register(conn Conn) string {
	id := uuid.NewString()

	h.mu.Lock()
	h.clients[id] = &client{id: id, conn: conn}
	n := len(h.clients)
	h.mu.Unlock()

	observability.ConnectedClients.Set(float64(n))
	h.log.Info("realtime client connected", zap.String("client_id", id), zap.Int("clients", n))
	return id
}

// Unregister removes a connection. Safe to call twice for the same id.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = c.conn.Close()
	observability.ConnectedClients.Set(float64(n))
	h.log.Info("realtime client disconnected", zap.String("client_id", id), zap.Int("clients", n))
}

// Len returns the current number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Publish serializes {type, data} once and sends it to every registered
// connection. Connections that error during the send are removed.
func (h *Hub) Publish(eventType string, data any) {
	msg, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		h.log.Error("marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.broadcast(msg)
	observability.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// SendTo delivers one message to a single client, used for the connect-time
// greeting. The value is marshaled as-is, without the event envelope.
func (h *Hub) SendTo(id string, v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := c.write(h.writeTimeout, msg); err != nil {
		h.Unregister(id)
		return err
	}
	return nil
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(h.writeTimeout, msg); err != nil {
			h.log.Warn("dropping realtime client", zap.String("client_id", c.id), zap.Error(err))
			h.Unregister(c.id)
		}
	}
}
