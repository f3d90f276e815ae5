// internal/middleware/auth_middleware.go
package middleware

import (
	"errors"
	"strings"

	"kvitto-service/internal/domain/auth"
	xerrors "kvitto-service/internal/pkg/errors"
	"kvitto-service/internal/pkg/response"
	authService "kvitto-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

type AuthMiddleware struct {
	authService *authService.AuthService
	logger      *zap.Logger
}

func NewAuthMiddleware(svc *authService.AuthService, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: svc,
		logger:      logger,
	}
}

// Auth is the authorization gate run on every protected request:
// extract bearer token, consult the blacklist, verify claims, check
// session revocation, resolve the principal. Each failure terminates
// the request with 401; no handler logic runs after a rejection.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearer(c)
		if raw == "" {
			response.Unauthorized(c, "missing credentials")
			return
		}

		ident, err := m.authService.Authorize(c.Request.Context(), raw)
		if err != nil {
			m.reject(c, err)
			return
		}

		c.Set(identityKey, ident)
		c.Next()
	}
}

// reject maps service sentinels to the uniform 401 responses. All
// cryptographic/claim failures share one message; dependency faults
// are logged as infrastructure trouble but still rejected (fail
// closed, never fail open).
func (m *AuthMiddleware) reject(c *gin.Context, err error) {
	switch {
	case errors.Is(err, xerrors.ErrTokenRevoked):
		// Expected security event after logout, not an anomaly.
		m.logger.Info("revoked token presented", zap.String("path", c.Request.URL.Path))
		response.Unauthorized(c, "revoked")
	case errors.Is(err, xerrors.ErrPrincipalNotFound):
		response.Unauthorized(c, "principal not found")
	case errors.Is(err, xerrors.ErrAccountInactive):
		response.Unauthorized(c, "principal not found")
	case errors.Is(err, xerrors.ErrDependency):
		m.logger.Error("authorization dependency fault",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		response.Unauthorized(c, "invalid or expired token")
	default:
		response.Unauthorized(c, "invalid or expired token")
	}
}

// RequireRole admits only principals holding one of the given roles.
// MUST be used after Auth(); a role mismatch is 403, not 401 — the
// caller is known, just not permitted.
func (m *AuthMiddleware) RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := GetIdentity(c)
		if !ok {
			response.Unauthorized(c, "missing credentials")
			return
		}

		for _, role := range roles {
			if ident.Principal.Role == role {
				c.Next()
				return
			}
		}

		m.logger.Info("role gate rejected request",
			zap.Int64("principal_id", ident.Principal.ID),
			zap.String("role", string(ident.Principal.Role)),
			zap.String("path", c.Request.URL.Path),
		)
		response.Forbidden(c, "insufficient role")
	}
}

// AdminOnly gates a route to system administrators.
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(auth.RoleSystemAdmin),
	}
}

// CompanyAdminOnly gates a route to company or system administrators.
func (m *AuthMiddleware) CompanyAdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(auth.RoleCompanyAdmin, auth.RoleSystemAdmin),
	}
}

// extractBearer returns the token from a well-formed Authorization
// header, or "" when the header is absent or malformed.
func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
