package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// StatePayload reports a synchronizer transition.
type StatePayload struct {
	State string  `json:"state"`
	Score float64 `json:"score"`
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	log     logrus.FieldLogger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log logrus.FieldLogger) *WSHub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHub{
		clients: make(map[*websocket.Conn]bool),
		log:     log.WithField("component", "wshub"),
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	h.log.WithField("clients", len(h.clients)).Info("WebSocket client connected")
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[conn] {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	h.log.WithField("clients", len(h.clients)).Info("WebSocket client disconnected")
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("WebSocket marshal error")
		return
	}

	// Writes hold the exclusive lock; a connection allows one writer.
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.WithError(err).Warn("WebSocket write error")
			go h.RemoveClient(conn)
		}
	}
}

// BroadcastMessage sends a decoded message to all clients.
func (h *WSHub) BroadcastMessage(msg protocol.Message) {
	h.Broadcast(WSMessage{Type: "message", Payload: MessageView{Message: msg, Text: msg.Text()}})
}

// BroadcastState sends a synchronizer transition to all clients.
func (h *WSHub) BroadcastState(state protocol.SyncState, score float64) {
	h.Broadcast(WSMessage{
		Type:    "state",
		Payload: StatePayload{State: state.String(), Score: score},
	})
}

// BroadcastStatus sends a status update to all clients.
func (h *WSHub) BroadcastStatus(status, message string) {
	h.Broadcast(WSMessage{
		Type: "status",
		Payload: map[string]string{
			"status":  status,
			"message": message,
		},
	})
}

// BroadcastLog sends a log message to all clients.
func (h *WSHub) BroadcastLog(level, message string) {
	h.Broadcast(WSMessage{
		Type: "log",
		Payload: map[string]string{
			"level":   level,
			"message": message,
		},
	})
}
