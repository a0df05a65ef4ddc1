package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"go-pcg-core/internal/event"
	"go-pcg-core/internal/model"
)

// Hub fans job events out to connected clients. A client only receives
// events for jobs it owns, unless it holds the admin role.
type Hub struct {
	// Registered clients, owned by the Run goroutine.
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	bus       event.Bus
	logger    *slog.Logger
	connected atomic.Int64
	done      chan struct{}
}

func NewHub(bus event.Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		bus:        bus,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Connected reports how many clients are registered.
func (h *Hub) Connected() int {
	return int(h.connected.Load())
}

// Run routes bus events to clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			h.connected.Add(1)
		case client := <-h.unregister:
			h.drop(client)
		case e, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(e)
		}
	}
}

func (h *Hub) broadcast(e event.Event) {
	job, ok := e.Payload.(model.Job)
	if !ok {
		return
	}

	message, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err, "type", e.Type)
		return
	}

	for client := range h.clients {
		if !client.canSee(job) {
			continue
		}
		select {
		case client.send <- message:
		default:
			h.logger.Warn("dropping slow websocket client", "identity_id", client.identity.ID)
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.connected.Add(-1)
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		h.drop(client)
	}
}
