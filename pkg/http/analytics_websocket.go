package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"convometrics-server/pkg/analytics"
)

// AnalyticsWebSocketHandler handles WebSocket connections for real-time
// snapshot streaming
type AnalyticsWebSocketHandler struct {
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
	clients      map[*AnalyticsClient]bool
	clientsMu    sync.RWMutex
	register     chan *AnalyticsClient
	unregister   chan *AnalyticsClient
	broadcast    chan *AnalyticsMessage
	pingInterval time.Duration // Configurable ping interval for testing
}

// AnalyticsClient represents a connected WebSocket client
type AnalyticsClient struct {
	conn           *websocket.Conn
	send           chan []byte
	handler        *AnalyticsWebSocketHandler
	conversationID string // Optional: filter by specific conversation
	sessionID      string
	mu             sync.RWMutex
}

// AnalyticsMessage represents a message to broadcast
type AnalyticsMessage struct {
	Type           string                     `json:"type"`
	ConversationID string                     `json:"conversation_id"`
	Timestamp      time.Time                  `json:"timestamp"`
	Data           *analytics.MetricsSnapshot `json:"data,omitempty"`
	Event          interface{}                `json:"event,omitempty"`
}

// NewAnalyticsWebSocketHandler creates a new analytics WebSocket handler
func NewAnalyticsWebSocketHandler(logger *logrus.Logger) *AnalyticsWebSocketHandler {
	return &AnalyticsWebSocketHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return isSameOrigin(r)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:      make(map[*AnalyticsClient]bool),
		register:     make(chan *AnalyticsClient),
		unregister:   make(chan *AnalyticsClient),
		broadcast:    make(chan *AnalyticsMessage, 256),
		pingInterval: 54 * time.Second, // Default ping interval
	}
}

// Start begins the WebSocket handler's event loop
func (h *AnalyticsWebSocketHandler) Start() {
	go h.run()
}

// run manages client connections and message broadcasting
func (h *AnalyticsWebSocketHandler) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			client.mu.RLock()
			conversationID := client.conversationID
			client.mu.RUnlock()
			h.logger.WithFields(logrus.Fields{
				"session_id":      client.sessionID,
				"conversation_id": conversationID,
			}).Debug("Analytics WebSocket client registered")

		case client := <-h.unregister:
			h.cleanupClients([]*AnalyticsClient{client})

		case message := <-h.broadcast:
			stale := h.broadcastMessage(message)
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}

		case <-ticker.C:
			stale := h.sendPingToAll()
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}
		}
	}
}

// broadcastMessage sends a message to all appropriate clients
func (h *AnalyticsWebSocketHandler) broadcastMessage(message *AnalyticsMessage) []*AnalyticsClient {
	if message == nil {
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal analytics message")
		return nil
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	var stale []*AnalyticsClient
	for client := range h.clients {
		client.mu.RLock()
		conversationID := client.conversationID
		client.mu.RUnlock()

		// Filter by conversation ID if client has specified one
		if conversationID != "" && conversationID != message.ConversationID {
			continue
		}

		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}

	return stale
}

// sendPingToAll sends a ping message to all connected clients
func (h *AnalyticsWebSocketHandler) sendPingToAll() []*AnalyticsClient {
	ping := &AnalyticsMessage{
		Type:      "ping",
		Timestamp: time.Now(),
	}

	data, _ := json.Marshal(ping)

	h.clientsMu.RLock()
	clients := make([]*AnalyticsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	var stale []*AnalyticsClient
	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}

	return stale
}

// cleanupClients removes clients and closes their channels
func (h *AnalyticsWebSocketHandler) cleanupClients(clients []*AnalyticsClient) {
	if len(clients) == 0 {
		return
	}

	h.clientsMu.Lock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.logger.WithField("session_id", client.sessionID).Debug("Analytics WebSocket client unregistered")
		}
	}
	h.clientsMu.Unlock()
}

// ServeHTTP handles WebSocket upgrade requests
func (h *AnalyticsWebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	responseHeaders := http.Header{}
	if protocol := getWebSocketToken(r); protocol != "" {
		responseHeaders.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	// Extract conversation ID filter from query params
	conversationID := r.URL.Query().Get("conversation_id")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	client := &AnalyticsClient{
		conn:           conn,
		send:           make(chan []byte, 256),
		handler:        h,
		conversationID: conversationID,
		sessionID:      sessionID,
	}

	h.register <- client

	// Send welcome message
	welcome := &AnalyticsMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Event: map[string]interface{}{
			"session_id": sessionID,
			"version":    "1.0",
			"features":   []string{"sentiment", "engagement", "coherence", "trend"},
		},
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastSnapshot sends an analytics snapshot to all connected clients
func (h *AnalyticsWebSocketHandler) BroadcastSnapshot(snapshot *analytics.MetricsSnapshot) {
	if snapshot == nil {
		return
	}

	message := &AnalyticsMessage{
		Type:           "snapshot_update",
		ConversationID: snapshot.ConversationID,
		Timestamp:      time.Now(),
		Data:           snapshot,
	}

	select {
	case h.broadcast <- message:
	default:
		// Broadcast channel full, log and drop
		h.logger.Warn("Analytics broadcast channel full, dropping message")
	}
}

// BroadcastEvent sends a custom event to all connected clients
func (h *AnalyticsWebSocketHandler) BroadcastEvent(conversationID string, eventType string, event interface{}) {
	message := &AnalyticsMessage{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Event:          event,
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Analytics broadcast channel full, dropping event")
	}
}

// GetConnectedClients returns the number of connected clients
func (h *AnalyticsWebSocketHandler) GetConnectedClients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Client methods

// readPump handles incoming messages from the client
func (c *AnalyticsClient) readPump() {
	defer func() {
		c.handler.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.logger.WithError(err).Debug("WebSocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump handles sending messages to the client
func (c *AnalyticsClient) writePump() {
	ticker := time.NewTicker(c.handler.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming client messages
func (c *AnalyticsClient) handleMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.handler.logger.WithError(err).Debug("Failed to parse client message")
		return
	}

	msgType, _ := msg["type"].(string)

	switch msgType {
	case "subscribe":
		if conversationID, ok := msg["conversation_id"].(string); ok {
			c.mu.Lock()
			c.conversationID = conversationID
			c.mu.Unlock()
			c.handler.logger.WithFields(logrus.Fields{
				"session_id":      c.sessionID,
				"conversation_id": conversationID,
			}).Debug("Client subscribed to conversation")
		}

	case "unsubscribe":
		c.mu.Lock()
		c.conversationID = ""
		c.mu.Unlock()
		c.handler.logger.WithField("session_id", c.sessionID).Debug("Client unsubscribed from conversation")

	case "ping":
		pong := map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now(),
		}
		if data, err := json.Marshal(pong); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}

	default:
		c.handler.logger.WithField("type", msgType).Debug("Unknown message type from client")
	}
}

// isSameOrigin allows upgrades with no Origin header or one matching
// the request host.
func isSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return strings.EqualFold(u.Host, r.Host)
}

// getWebSocketToken echoes the first requested subprotocol so clients
// passing bearer tokens through Sec-WebSocket-Protocol can complete
// the handshake.
func getWebSocketToken(r *http.Request) string {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	if protocols == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(protocols, ",")[0])
}
