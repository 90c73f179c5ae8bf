package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/capture"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 16 // buffered channel size — clients are dropped when full
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage is the envelope every hub push and client command uses.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hub fans capture and connection updates out to WebSocket clients.
// It implements capture.Notifier, so the manager pushes through it
// without knowing about WebSockets.
type Hub struct {
	manager *capture.Manager

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(manager *capture.Manager) *Hub {
	return &Hub{
		manager: manager,
		clients: make(map[*wsClient]struct{}),
	}
}

// StatusChanged implements capture.Notifier.
func (h *Hub) StatusChanged(statuses map[string]models.BandStatus) {
	h.broadcast("status_update", statuses)
}

// ConnectionChanged implements capture.Notifier.
func (h *Hub) ConnectionChanged(connected bool, interfaces map[string]string, detection models.DetectionStatus) {
	h.broadcast("connection_update", map[string]interface{}{
		"connected":        connected,
		"interfaces":       interfaces,
		"detection_status": detection,
	})
}

func (h *Hub) broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("Failed to marshal push payload")
		return
	}
	msg := WSMessage{Type: msgType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.send(msg) {
			// A client that cannot keep up gets disconnected rather
			// than stalling every other subscriber.
			delete(h.clients, c)
			c.closeOnce()
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount reports connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// wsClient wraps one WebSocket connection.
type wsClient struct {
	conn   *websocket.Conn
	hub    *Hub
	sendCh chan WSMessage
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) send(msg WSMessage) bool {
	select {
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) closeOnce() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.closeOnce()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.handleCommand(msg)
	}
}

// handleCommand serves client-initiated refresh requests.
func (c *wsClient) handleCommand(msg WSMessage) {
	switch msg.Type {
	case "request_status":
		c.pushStatus()
	case "request_connection":
		info := c.hub.manager.TestConnection()
		data, _ := json.Marshal(map[string]interface{}{
			"connected":        info.Connected,
			"interfaces":       mustInterfaces(c.hub.manager),
			"detection_status": c.hub.manager.Detection(),
		})
		c.send(WSMessage{Type: "connection_update", Data: data})
	}
}

func (c *wsClient) pushStatus() {
	data, err := json.Marshal(c.hub.manager.StatusAll())
	if err != nil {
		return
	}
	c.send(WSMessage{Type: "status_update", Data: data})
}

func mustInterfaces(m *capture.Manager) map[string]string {
	mapping, _ := m.InterfaceMapping()
	return mapping
}

// HandleWebSocket upgrades the connection and registers the client.
// New clients immediately receive the current capture status.
func (s *RESTServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{
		conn:   conn,
		hub:    s.hub,
		sendCh: make(chan WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	s.hub.register(c)

	go c.writeLoop()
	c.pushStatus()
	go c.readLoop()

	log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")
}
