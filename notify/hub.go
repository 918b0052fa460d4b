package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const broadcastBuffer = 64

// Hub fans notification events out to connected websocket clients.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[string]*client

	done chan struct{}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log.With().Str("component", "notify").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any local origin may subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		clients:    make(map[string]*client),
		done:       make(chan struct{}),
	}
}

// Run services registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			h.log.Debug().Str("client", c.id).Msg("client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug().Str("client", c.id).Msg("client disconnected")

		case payload := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- payload:
				default:
					delete(h.clients, id)
					close(c.send)
					h.log.Warn().Str("client", id).Msg("dropping slow client")
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish queues event for every connected client. A full queue drops the event.
func (h *Hub) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(event.Type)).Msg("marshal event")
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
		h.log.Warn().Str("type", string(event.Type)).Msg("event queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection to events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:   "ws_" + uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 32),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
