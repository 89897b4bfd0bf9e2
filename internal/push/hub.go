// Package push carries "thumbnail ready" notifications from the gallery server
// to rendering clients over a websocket.
package push

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Path is the websocket endpoint served by the gallery server
const Path = "/ws/thumbnails"

// EventThumbnailReady announces that an item's thumbnail changed state
const EventThumbnailReady = "thumbnail_ready"

// Event is one push notification, keyed by the item's path
type Event struct {
	Type    string    `json:"type"`
	Path    string    `json:"path"`
	MediaID string    `json:"media_id"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// Hub fans events out to connected websocket clients. Only the hub's run
// loop writes to client connections.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub and starts its run loop
func NewHub() *Hub {
	hub := &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}

	go hub.run()

	return hub
}

// run handles registrations and broadcasts
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debugf("Push client connected from %s", client.RemoteAddr())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()
			for _, client := range clients {
				h.sendToClient(client, ev)
			}

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// sendToClient sends an event to a single client
func (h *Hub) sendToClient(client *websocket.Conn, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("Failed to marshal push event: %v", err)
		return
	}

	client.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		// the client's read loop unregisters it
		log.Debugf("Failed to send to push client: %v", err)
		return
	}
	h.sent.Add(1)
}

// RegisterClient registers a new websocket client
func (h *Hub) RegisterClient(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// UnregisterClient unregisters a websocket client and closes it
func (h *Hub) UnregisterClient(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues an event for all clients. It never blocks; events are
// dropped when the hub is saturated or closed.
func (h *Hub) Publish(ev Event) bool {
	if ev.Type == "" {
		ev.Type = EventThumbnailReady
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.broadcast <- ev:
		return true
	default:
		h.dropped.Add(1)
		log.Warnf("Push queue full, dropping event for %s", ev.Path)
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sent returns how many messages were written to clients
func (h *Hub) Sent() uint64 {
	return h.sent.Load()
}

// Dropped returns how many events were discarded on a full queue
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects all clients and stops the hub
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
