package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gridflow-core/internal/coordinator"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSnapshot = "snapshot"
	WSTypePing     = "ping"
	WSTypePong     = "pong"

	// wsSendBufferSize is the per-client outbound buffer. A slow
	// consumer that falls this far behind is dropped rather than
	// allowed to stall the hub.
	wsSendBufferSize = 64

	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// WSMessage is one frame sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub fans published snapshots out to connected WebSocket clients.
type Hub struct {
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

// wsClient is one connected WebSocket consumer.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// upgrader configures the WebSocket upgrade. The API serves a trusted
// LAN; origin checking is not enforced.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// NewHub creates a WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Broadcast sends a snapshot frame to every connected client.
func (h *Hub) Broadcast(snapshot coordinator.Snapshot) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeSnapshot,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   snapshot,
	})
	if err != nil {
		h.logger.Error("marshalling snapshot frame", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds a client to the hub.
func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that removes the
// client from the map closes the send channel, preventing double-close
// panics during shutdown.
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		client.conn.Close()
	}
}

// handleWebSocket upgrades the connection and pumps snapshot frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	s.hub.register(client)

	// Seed the new client with the current state of every device.
	for _, sn := range s.fleet.SerialNumbers() {
		if c, err := s.fleet.Get(sn); err == nil {
			if data, err := json.Marshal(WSMessage{
				Type:      WSTypeSnapshot,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Payload:   c.Snapshot(),
			}); err == nil {
				client.trySend(data)
			}
		}
	}

	go client.writePump()
	go client.readPump()
}

// readPump consumes client frames. Only ping is meaningful; anything
// else is discarded. Exits on read error and tears the client down.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg WSMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == WSTypePing {
			if reply, err := json.Marshal(WSMessage{Type: WSTypePong}); err == nil {
				c.trySend(reply)
			}
		}
	}
}

// writePump writes queued frames to the connection.
func (c *wsClient) writePump() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	// Channel closed: hub is dropping this client.
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// trySend queues a frame without blocking; a full buffer drops the
// frame.
func (c *wsClient) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}
