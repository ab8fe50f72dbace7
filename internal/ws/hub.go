// Package ws fans task lifecycle events out to browser clients. Events
// arrive over Redis pub/sub so the worker process can feed UIs attached to
// the API process.
package ws

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Hub tracks connected clients and broadcasts event payloads to all of them.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Add registers a client and holds the connection open until it closes.
func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] client connected, total=%d", n)

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			n := len(h.clients)
			h.mu.Unlock()
			conn.Close()
			log.Printf("[WS] client disconnected, total=%d", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast writes a payload to every connected client. Write failures drop
// silently; the read loop notices the dead connection and removes it.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("[WS] write failed: %v", err)
		}
	}
}

// Run forwards events from the subscription to connected clients until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast([]byte(msg.Payload))
		}
	}
}

// Count reports connected clients, for the health endpoint.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
