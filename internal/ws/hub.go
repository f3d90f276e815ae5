// internal/ws/hub.go
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is pushed to connected clients on security-relevant changes.
type Event struct {
	Type      string `json:"type"` // session:revoked
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client is one authenticated websocket connection.
type Client struct {
	PrincipalID int64
	SessionID   string

	conn *websocket.Conn
	mu   sync.Mutex // guards concurrent writes to conn
}

func NewClient(principalID int64, sessionID string, conn *websocket.Conn) *Client {
	return &Client{PrincipalID: principalID, SessionID: sessionID, conn: conn}
}

func (c *Client) send(evt *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(evt)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Close()
}

// Hub fans security events out to a principal's connected clients.
// Revoking a session from one device force-logs-out the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]bool
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]bool),
		logger:  logger,
	}
}

// Register adds an authenticated client connection.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.PrincipalID] == nil {
		h.clients[client.PrincipalID] = make(map[*Client]bool)
	}
	h.clients[client.PrincipalID][client] = true
}

// Unregister removes a client connection.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[client.PrincipalID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.PrincipalID)
		}
	}
}

// ForceLogout notifies a principal's connections that a session was
// revoked and closes the connections belonging to it. An empty
// sessionID targets every session of that principal.
func (h *Hub) ForceLogout(principalID int64, sessionID, reason string) {
	evt := &Event{
		Type:      "session:revoked",
		SessionID: sessionID,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	}

	h.mu.Lock()
	var targets []*Client
	for client := range h.clients[principalID] {
		if sessionID == "" || client.SessionID == sessionID {
			targets = append(targets, client)
			delete(h.clients[principalID], client)
		}
	}
	if len(h.clients[principalID]) == 0 {
		delete(h.clients, principalID)
	}
	h.mu.Unlock()

	for _, client := range targets {
		if err := client.send(evt); err != nil {
			h.logger.Debug("failed to push force-logout event", zap.Error(err))
		}
		client.close()
	}
}

// Connected reports how many connections a principal currently has.
func (h *Hub) Connected(principalID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[principalID])
}
