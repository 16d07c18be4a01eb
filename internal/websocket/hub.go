// Package websocket pushes run progress frames to browser or CLI clients
// connected to the monitoring server's /events endpoint.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

const (
	// frames buffered between the broadcaster and the hub loop
	broadcastBuffer = 256
	// frames replayed to a client that connects mid-batch
	defaultReplay = 64
)

// Hub maintains the set of active clients and fans progress frames out to
// them. It implements operations.Sink.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	recent  [][]byte
	replay  int
	running bool
	quit    chan struct{}
	done    chan struct{}

	logger *slog.Logger

	sent    int64
	dropped int64
}

// NewHub creates a hub; call Start before publishing
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replay:     defaultReplay,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
	}
}

// Start runs the hub loop in its own goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()
	go h.run()
}

// Stop ends the hub loop and disconnects every client
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()
	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.mu.RLock()
			backlog := append([][]byte(nil), h.recent...)
			h.mu.RUnlock()
			for _, msg := range backlog {
				select {
				case client.send <- msg:
				default:
				}
			}
			h.logger.Info("Client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", len(h.clients)),
				slog.Int("replayed", len(backlog)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("Client unregistered",
					slog.String("client_id", client.id),
					slog.Int("total_clients", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
					h.sent++
				default:
					// a client that cannot keep up is dropped
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, disconnecting",
						slog.String("client_id", client.id))
				}
			}
		}
	}
}

// Publish implements operations.Sink. It never blocks the caller: when the
// hub is stopped or its buffer is full the frame is dropped.
func (h *Hub) Publish(frame events.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Error marshaling frame",
			slog.String("type", string(frame.Type)),
			slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.recent = append(h.recent, data)
	if len(h.recent) > h.replay {
		h.recent = h.recent[len(h.recent)-h.replay:]
	}
	running := h.running
	h.mu.Unlock()
	if !running {
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		ctx := infrastructure.WithTraceID(context.Background(), frame.TraceID)
		h.logger.DebugContext(ctx, "Broadcast buffer full, frame dropped",
			slog.String("type", string(frame.Type)),
			slog.Int64("sequence", frame.Sequence))
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Recent returns the frames a newly connected client would receive
func (h *Hub) Recent() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([][]byte(nil), h.recent...)
}

// Dropped returns how many frames were dropped because the hub was saturated
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
