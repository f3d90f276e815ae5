// internal/app/router.go
package app

import (
	authHandler "kvitto-service/internal/handlers/auth"
	wsHandler "kvitto-service/internal/handlers/ws"
	"kvitto-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	AuthHandler    *authHandler.AuthHandler
	WSHandler      *wsHandler.WebSocketHandler
	AuthMiddleware *middleware.AuthMiddleware
	CSRFMiddleware *middleware.CSRFMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/login", h.AuthHandler.Login)
		authPublic.POST("/refresh", h.AuthHandler.Refresh)
	}

	// ==================== Authenticated Auth Routes ====================
	authProtected := api.Group("/auth")
	authProtected.Use(h.AuthMiddleware.Auth(), h.CSRFMiddleware.Validate())
	{
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.POST("/logout-all", h.AuthHandler.LogoutAll)
		authProtected.PUT("/change-password", h.AuthHandler.ChangePassword)
		authProtected.GET("/me", h.AuthHandler.Me)
		authProtected.GET("/csrf", h.AuthHandler.CSRFToken)
		authProtected.GET("/sessions", h.AuthHandler.Sessions)
		authProtected.DELETE("/sessions/:session_id", h.AuthHandler.RevokeSession)
	}

	// ==================== Administration ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.GET("/principals", h.AuthHandler.ListByRoles)
		admin.POST("/principals/:id/deactivate", h.AuthHandler.Deactivate)
	}

	logger.Info("router configured")
}
