package websocket

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultMaxClients is the maximum number of concurrent WebSocket clients
	DefaultMaxClients = 1000

	// DefaultBroadcastBuffer is the capacity of the broadcast queue
	DefaultBroadcastBuffer = 256
)

// ErrHubStopped is returned by Broadcast after Stop.
var ErrHubStopped = errors.New("websocket hub stopped")

// ErrBroadcastFull is returned by Broadcast when the queue is full.
var ErrBroadcastFull = errors.New("websocket broadcast queue full")

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool
	mu      sync.RWMutex

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Broadcast events to clients
	broadcast chan *Event

	// done signals the Run goroutine to exit
	done     chan struct{}
	stopOnce sync.Once

	// maxClients limits concurrent connections to prevent unbounded growth
	maxClients int

	logger *zap.Logger
}

// NewHub creates a new Hub. maxClients <= 0 selects DefaultMaxClients.
func NewHub(maxClients int, logger *zap.Logger) *Hub {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, DefaultBroadcastBuffer),
		done:       make(chan struct{}),
		maxClients: maxClients,
		logger:     logger.Named("ws-hub"),
	}
}

// Run runs the hub event loop. It exits when Stop() is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxClients {
				h.mu.Unlock()
				h.logger.Warn("max clients reached, rejecting connection",
					zap.Int("max_clients", h.maxClients))
				close(client.send)
				continue
			}
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("client registered",
				zap.Int("total_clients", h.ClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("client unregistered",
				zap.Int("total_clients", h.ClientCount()))

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// broadcastEvent sends an event to every client subscribed to its topic
func (h *Hub) broadcastEvent(event *Event) {
	eventData, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	messageBytes, err := json.Marshal(Message{Type: "event", Payload: eventData})
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sentCount := 0
	for client := range h.clients {
		if !client.IsSubscribed(event.Topic) {
			continue
		}
		select {
		case client.send <- messageBytes:
			sentCount++
		default:
			// Client buffer full, close the connection
			h.logger.Warn("client buffer full, closing connection")
			close(client.send)
			delete(h.clients, client)
		}
	}

	h.logger.Debug("event broadcasted",
		zap.String("topic", event.Topic),
		zap.String("key", event.Key),
		zap.Int("recipients", sentCount))
}

// Broadcast queues an event. It never blocks: a full queue is reported so
// the caller can retry the batch.
func (h *Hub) Broadcast(event *Event) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- event:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop stops the hub and closes all client connections.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()

		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}

		h.logger.Info("hub stopped")
	})
}
