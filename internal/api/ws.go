package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
)

const (
	maxConnsPerAgent = 10
	writeWait        = 5 * time.Second
	sendBuffer       = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one dashboard socket. Only its write loop writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the live dashboard sockets of each agent and pushes every new
// NotificationRecord to them.
type Hub struct {
	connections map[string]map[*wsClient]bool // agentID -> set of clients
	mutex       sync.Mutex
	logger      *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[*wsClient]bool),
		logger:      logger,
	}
}

type wsEvent struct {
	Event string                    `json:"event"`
	Data  models.NotificationRecord `json:"data"`
}

// Publish sends rec to every socket of the agent.
func (h *Hub) Publish(agentID string, rec models.NotificationRecord) {
	msg, err := json.Marshal(wsEvent{Event: "notification", Data: rec})
	if err != nil {
		h.logger.Errorf("Failed to encode websocket event: %v", err)
		return
	}
	h.SendToAgent(agentID, msg)
}

// AddConnection registers conn and returns its client. It returns nil when
// the agent already has the maximum number of sockets.
func (h *Hub) AddConnection(agentID string, conn *websocket.Conn) *wsClient {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.connections[agentID]; !exists {
		h.connections[agentID] = make(map[*wsClient]bool)
	}
	if len(h.connections[agentID]) >= maxConnsPerAgent {
		h.logger.Warnf("Max connections reached for agent %s", agentID)
		return nil
	}
	client := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.connections[agentID][client] = true
	h.logger.Infof("Added WebSocket connection for agent %s (total: %d)", agentID, len(h.connections[agentID]))
	return client
}

// RemoveConnection unregisters client and closes its queue, which ends its
// write loop.
func (h *Hub) RemoveConnection(agentID string, client *wsClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.remove(agentID, client)
}

// remove must be called with the mutex held.
func (h *Hub) remove(agentID string, client *wsClient) {
	conns, exists := h.connections[agentID]
	if !exists || !conns[client] {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(h.connections, agentID)
	}
	h.logger.Infof("Removed WebSocket connection for agent %s (remaining: %d)", agentID, len(conns))
}

// SendToAgent queues message on every socket of the agent without waiting
// for the network. A socket whose queue is full is dropped.
func (h *Hub) SendToAgent(agentID string, message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.connections[agentID] {
		select {
		case client.send <- message:
		default:
			h.logger.Warnf("WebSocket queue full for agent %s, dropping connection", agentID)
			h.remove(agentID, client)
		}
	}
}

// Count returns the number of open sockets of the agent.
func (h *Hub) Count(agentID string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections[agentID])
}

// writeLoop drains the client's queue onto the socket until the queue is
// closed or a write fails.
func (h *Hub) writeLoop(agentID string, client *wsClient) {
	defer client.conn.Close()
	for message := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Errorf("Failed to send WebSocket message to agent %s: %v", agentID, err)
			h.RemoveConnection(agentID, client)
			return
		}
	}
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// Serve upgrades a dashboard connection. Browsers cannot set headers on a
// websocket handshake, so the session token comes in the query string.
func (h *Hub) Serve(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID, err := ParseSessionToken(c.Query("token"), secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Errorf("WebSocket upgrade failed: %v", err)
			return
		}
		client := h.AddConnection(agentID, conn)
		if client == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
		go h.writeLoop(agentID, client)
		defer h.RemoveConnection(agentID, client)

		// Dashboards only listen; reading detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
