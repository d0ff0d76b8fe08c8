package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
)

// Event is the wire shape pushed to websocket clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Hub broadcasts engine events to connected websocket clients. It
// implements sync.EventSink; broadcasts never block the sync pass, a slow
// client is dropped instead.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// Serve upgrades the connection and streams events until the client closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan Event, 64)

	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	logger.Log.Debug("Websocket client connected", zap.String("remote", r.RemoteAddr))

	// Writer: one goroutine per client owns the connection.
	go func() {
		defer conn.Close()
		for event := range send {
			if err := conn.WriteJSON(event); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	// Reader: discard inbound frames, detect close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
}

func (h *Hub) broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, send := range h.clients {
		select {
		case send <- event:
		default:
			// Client cannot keep up; disconnect it.
			delete(h.clients, conn)
			close(send)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		delete(h.clients, conn)
		close(send)
	}
}

// sync.EventSink implementation.

func (h *Hub) SyncStarted(mode string) {
	h.broadcast(Event{Type: "sync_started", Data: map[string]string{"mode": mode}})
}

func (h *Hub) SyncProgress(current, total int, currentItem string) {
	h.broadcast(Event{Type: "sync_progress", Data: map[string]interface{}{
		"current":      current,
		"total":        total,
		"current_item": currentItem,
	}})
}

func (h *Hub) SyncCompleted(success bool, itemsProcessed int) {
	h.broadcast(Event{Type: "sync_completed", Data: map[string]interface{}{
		"success":         success,
		"items_processed": itemsProcessed,
	}})
}

func (h *Hub) ConflictDetected(conflict store.Conflict, requestID string) {
	h.broadcast(Event{Type: "conflict_detected", Data: map[string]interface{}{
		"conflict":   conflict,
		"request_id": requestID,
	}})
}

func (h *Hub) SyncError(err error, context string) {
	h.broadcast(Event{Type: "sync_error", Data: map[string]string{
		"error":   err.Error(),
		"context": context,
	}})
}

func (h *Hub) StatusChanged(online bool, pendingCount int) {
	h.broadcast(Event{Type: "status_changed", Data: map[string]interface{}{
		"online":  online,
		"pending": pendingCount,
	}})
}
