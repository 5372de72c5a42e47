// Package stream fans domain events out to WebSocket clients so read paths
// can refresh without polling.
package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ashureev/gasless-relay/internal/events"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// StreamedEvents are the names forwarded to clients.
var StreamedEvents = []domain.EventName{
	domain.SubjectCreated,
	domain.SubjectAdded,
	domain.SubjectPublished,
	domain.SubjectScheduled,
}

type client struct {
	id   string
	send chan domain.DomainEvent
}

// Hub manages active WebSocket clients and feeds them bus events.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	recent        *history
	bus           *events.Bus
	subs          map[domain.EventName]events.Subscription
	originPattern []string
	logger        *slog.Logger
}

// NewHub creates a hub subscribed to StreamedEvents on bus. originPatterns
// is passed to websocket.AcceptOptions.
func NewHub(bus *events.Bus, originPatterns []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:       make(map[string]*client),
		recent:        newHistory(defaultHistory),
		bus:           bus,
		subs:          make(map[domain.EventName]events.Subscription),
		originPattern: originPatterns,
		logger:        logger,
	}
	for _, name := range StreamedEvents {
		h.subs[name] = bus.On(name, h.broadcast)
	}
	return h
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds c and returns the events it missed. Holding the write lock
// keeps the replay and live delivery from overlapping.
func (h *Hub) register(c *client) []domain.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.logger.Info("Event stream client registered", "client_id", c.id, "clients", len(h.clients))
	return h.recent.snapshot()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.logger.Info("Event stream client unregistered", "client_id", c.id, "clients", len(h.clients))
	}
}

// broadcast queues event for every client. A client whose buffer is full
// misses the event rather than stalling the emitter.
func (h *Hub) broadcast(_ context.Context, event domain.DomainEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.recent.add(event)
	for _, c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.logger.Warn("Event stream client lagging, event dropped", "client_id", c.id, "event", event.Name)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPattern,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	c := &client{id: uuid.NewString(), send: make(chan domain.DomainEvent, clientBuffer)}
	replay := h.register(c)
	defer h.unregister(c)

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	for _, event := range replay {
		if err := h.write(ctx, ws, event); err != nil {
			h.logger.Debug("WebSocket replay error", "client_id", c.id, "error", err)
			return
		}
	}

	for {
		select {
		case event := <-c.send:
			if err := h.write(ctx, ws, event); err != nil {
				h.logger.Debug("WebSocket write error", "client_id", c.id, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, ws *websocket.Conn, event domain.DomainEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, event)
}

// Close unsubscribes the hub from the bus.
func (h *Hub) Close() {
	for name, sub := range h.subs {
		h.bus.Off(name, sub)
	}
}
