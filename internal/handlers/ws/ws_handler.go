// internal/handlers/ws/ws_handler.go
package ws

import (
	"net/http"
	"strings"

	"kvitto-service/internal/pkg/response"
	authUsecase "kvitto-service/internal/service/auth"
	hub "kvitto-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS layer; the socket itself is
		// gated by token authentication below.
		return true
	},
}

type WebSocketHandler struct {
	hub         *hub.Hub
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewWebSocketHandler(h *hub.Hub, svc *authUsecase.AuthService, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         h,
		authService: svc,
		logger:      logger,
	}
}

// HandleConnection authenticates and upgrades a client connection.
// Connected clients receive forced-logout events for their principal.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	token := h.extractToken(c)
	if token == "" {
		response.Unauthorized(c, "missing credentials")
		return
	}

	ident, err := h.authService.Authorize(c.Request.Context(), token)
	if err != nil {
		h.logger.Info("websocket authentication failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		response.Unauthorized(c, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		return
	}

	client := hub.NewClient(ident.Principal.ID, ident.SessionID, conn)
	h.hub.Register(client)

	h.logger.Info("websocket client connected",
		zap.Int64("principal_id", ident.Principal.ID),
		zap.String("session_id", ident.SessionID),
	)

	go h.readLoop(client, conn)
}

// readLoop drains inbound frames until the peer disconnects; the
// socket is server-push only.
func (h *WebSocketHandler) readLoop(client *hub.Client, conn *websocket.Conn) {
	defer h.hub.Unregister(client)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// extractToken reads the token from the query parameter (the common
// WebSocket convention) or the Authorization header.
func (h *WebSocketHandler) extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}
