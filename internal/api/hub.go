// WebSocket hub for real-time state broadcasting.

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deltadesk/position-engine/internal/metrics"
	"github.com/deltadesk/position-engine/internal/model"
)

// Event types carried in Message.Type.
const (
	EventOrderUpdated     = "order_updated"
	EventPositionUpdated  = "position_updated"
	EventSnapshotRecorded = "snapshot_recorded"
)

// Message is a JSON event sent to WebSocket clients. Exactly one payload
// field is set, matching Type.
type Message struct {
	Type     string                  `json:"type"`
	Order    *model.Order            `json:"order,omitempty"`
	Position *model.Position         `json:"position,omitempty"`
	Snapshot *model.PositionSnapshot `json:"snapshot,omitempty"`
}

// Hub manages WebSocket connections and broadcasts state changes to all
// connected clients. It satisfies the reconciliation scheduler's event
// sink, so venue-driven updates stream out without polling.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking reconciliation.
	}
}

// OrderUpdated broadcasts an order state change.
func (h *Hub) OrderUpdated(o model.Order) {
	h.Broadcast(Message{Type: EventOrderUpdated, Order: &o})
}

// PositionUpdated broadcasts a position state change.
func (h *Hub) PositionUpdated(p model.Position) {
	h.Broadcast(Message{Type: EventPositionUpdated, Position: &p})
}

// SnapshotRecorded broadcasts a freshly captured valuation snapshot.
func (h *Hub) SnapshotRecorded(s model.PositionSnapshot) {
	h.Broadcast(Message{Type: EventSnapshotRecorded, Snapshot: &s})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
