// internal/middleware/csrf_middleware.go
package middleware

import (
	"net/http"

	"kvitto-service/internal/pkg/response"
	authService "kvitto-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	csrfHeader    = "X-CSRF-Token"
	sessionCookie = "kvitto_session"
)

type CSRFMiddleware struct {
	authService *authService.AuthService
	logger      *zap.Logger
}

func NewCSRFMiddleware(svc *authService.AuthService, logger *zap.Logger) *CSRFMiddleware {
	return &CSRFMiddleware{
		authService: svc,
		logger:      logger,
	}
}

// Validate enforces CSRF on state-changing cookie-authenticated
// requests. Requests carrying a bearer Authorization header are
// exempt: header credentials cannot be attached by a cross-site form.
func (m *CSRFMiddleware) Validate() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		if extractBearer(c) != "" {
			c.Next()
			return
		}

		sessionID, err := c.Cookie(sessionCookie)
		if err != nil || sessionID == "" {
			response.Forbidden(c, "csrf token required")
			return
		}

		token := c.GetHeader(csrfHeader)
		if token == "" {
			response.Forbidden(c, "csrf token required")
			return
		}

		ok, err := m.authService.ValidateCSRF(c.Request.Context(), sessionID, token)
		if err != nil {
			m.logger.Error("csrf validation dependency fault", zap.Error(err))
			response.Forbidden(c, "csrf token invalid")
			return
		}
		if !ok {
			m.logger.Info("csrf token rejected", zap.String("path", c.Request.URL.Path))
			response.Forbidden(c, "csrf token invalid")
			return
		}

		c.Next()
	}
}
