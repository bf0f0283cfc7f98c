package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/manpreetbhatti/codearena/internal/metrics"
	"github.com/manpreetbhatti/codearena/internal/protocol"
)

// Hub owns the set of live connections and delivers outbound frames to
// either every client or an explicit set of handles. It holds no room or
// score state; callers resolve audiences before publishing.
type Hub struct {
	// Registered clients by handle
	clients map[string]*Client

	// Outbound frames awaiting fan-out
	deliver chan *Delivery

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done    chan struct{}
	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Delivery is one encoded frame and its audience. A nil Targets slice means
// every connected client.
type Delivery struct {
	Frame   []byte
	Targets []string
	Exclude string
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		deliver:    make(chan *Delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run serialises registration and fan-out until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for handle, client := range h.clients {
				close(client.send)
				delete(h.clients, handle)
			}
			h.mu.Unlock()
			h.metrics.SetConnectedClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.handle] = client
			n := len(h.clients)
			h.mu.Unlock()

			h.metrics.SetConnectedClients(n)
			h.logger.Debug("client connected", "handle", client.handle, "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.handle]; ok && current == client {
				delete(h.clients, client.handle)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()

			h.metrics.SetConnectedClients(n)
			h.logger.Debug("client disconnected", "handle", client.handle, "clients", n)

		case d := <-h.deliver:
			h.fanOut(d)
		}
	}
}

func (h *Hub) fanOut(d *Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()

	send := func(client *Client) {
		if client.handle == d.Exclude {
			return
		}
		select {
		case client.send <- d.Frame:
		default:
			// slow consumer; its write pump closes the connection
			close(client.send)
			delete(h.clients, client.handle)
			h.metrics.IncDroppedMessages()
			h.logger.Warn("dropping slow client", "handle", client.handle)
		}
	}

	if d.Targets == nil {
		for _, client := range h.clients {
			send(client)
		}
	} else {
		for _, handle := range d.Targets {
			if client, ok := h.clients[handle]; ok {
				send(client)
			}
		}
	}
	h.metrics.SetConnectedClients(len(h.clients))
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) enqueue(d *Delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	}
}

func (h *Hub) encode(event protocol.Event, payload any) ([]byte, bool) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode outbound event", "event", event, "error", err)
		return nil, false
	}
	return frame, true
}

// ToAll publishes event to every connected client.
func (h *Hub) ToAll(event protocol.Event, payload any) {
	if frame, ok := h.encode(event, payload); ok {
		h.enqueue(&Delivery{Frame: frame})
	}
}

// ToHandles publishes event to the given handles, skipping exclude.
func (h *Hub) ToHandles(handles []string, exclude string, event protocol.Event, payload any) {
	if len(handles) == 0 {
		return
	}
	if frame, ok := h.encode(event, payload); ok {
		targets := make([]string, len(handles))
		copy(targets, handles)
		h.enqueue(&Delivery{Frame: frame, Targets: targets, Exclude: exclude})
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
