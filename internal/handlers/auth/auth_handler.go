// internal/handlers/auth/auth_handler.go
package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"kvitto-service/internal/domain/auth"
	"kvitto-service/internal/middleware"
	xerrors "kvitto-service/internal/pkg/errors"
	"kvitto-service/internal/pkg/response"
	authUsecase "kvitto-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// ========== Login ==========

// Login handles credential login (public endpoint)
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request")
		return
	}

	// Set IP and User-Agent
	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	loginResp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		h.logger.Info("login failed",
			zap.String("email", req.Email),
			zap.String("ip", req.IPAddress),
			zap.Error(err),
		)
		h.respondError(c, err, "login failed")
		return
	}

	response.Success(c, http.StatusOK, "login successful", loginResp)
}

// ========== Refresh ==========

// Refresh exchanges a refresh token for a rotated pair (public endpoint)
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request")
		return
	}

	loginResp, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err, "refresh failed")
		return
	}

	response.Success(c, http.StatusOK, "token refreshed", loginResp)
}

// ========== Session lifecycle ==========

// Logout terminates the caller's session
func (h *AuthHandler) Logout(c *gin.Context) {
	ident := middleware.MustGetIdentity(c)

	if err := h.authService.Logout(c.Request.Context(), ident); err != nil {
		h.respondError(c, err, "logout failed")
		return
	}

	response.Success(c, http.StatusOK, "logged out", nil)
}

// LogoutAll terminates every session of the caller
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	ident := middleware.MustGetIdentity(c)

	if err := h.authService.LogoutAll(c.Request.Context(), ident.Principal.ID); err != nil {
		h.respondError(c, err, "logout failed")
		return
	}

	response.Success(c, http.StatusOK, "all sessions logged out", nil)
}

// Sessions lists the caller's active sessions
func (h *AuthHandler) Sessions(c *gin.Context) {
	ident := middleware.MustGetIdentity(c)

	infos, err := h.authService.Sessions(c.Request.Context(), ident.Principal.ID, ident.SessionID)
	if err != nil {
		h.respondError(c, err, "failed to list sessions")
		return
	}

	response.Success(c, http.StatusOK, "active sessions", infos)
}

// RevokeSession terminates one of the caller's sessions by id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	ident := middleware.MustGetIdentity(c)

	sessionID := c.Param("session_id")
	if sessionID == "" {
		response.ValidationError(c, "session id required")
		return
	}

	if err := h.authService.RevokeSession(c.Request.Context(), ident.Principal.ID, sessionID); err != nil {
		h.respondError(c, err, "failed to revoke session")
		return
	}

	response.Success(c, http.StatusOK, "session revoked", nil)
}

// ========== Profile ==========

// Me returns the authenticated principal
func (h *AuthHandler) Me(c *gin.Context) {
	ident := middleware.MustGetIdentity(c)

	user := auth.UserInfo{
		ID:        ident.Principal.ID,
		Email:     ident.Principal.Email,
		FirstName: ident.Principal.FirstName,
		LastName:  ident.Principal.LastName,
		Role:      ident.Principal.Role,
	}
	if ident.Principal.CompanyID.Valid {
		user.CompanyID = ident.Principal.CompanyID.Int64
	}

	response.Success(c, http.StatusOK, "profile", gin.H{
		"user":       user,
		"session_id": ident.SessionID,
		"device_id":  ident.DeviceID,
	})
}

// ChangePassword updates the caller's password and revokes all sessions
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	ident := middleware.MustGetIdentity(c)

	var req auth.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request")
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), ident.Principal.ID, &req); err != nil {
		h.respondError(c, err, "failed to change password")
		return
	}

	response.Success(c, http.StatusOK, "password changed; all sessions logged out", nil)
}

// ========== CSRF ==========

// CSRFToken issues a one-time CSRF token bound to the caller's session.
// The session cookie is refreshed so cookie-mode clients can pair it
// with the token on their next state-changing request.
func (h *AuthHandler) CSRFToken(c *gin.Context) {
	ident := middleware.MustGetIdentity(c)

	tok, err := h.authService.IssueCSRF(c.Request.Context(), ident.SessionID)
	if err != nil {
		h.respondError(c, err, "failed to issue csrf token")
		return
	}

	c.SetCookie("kvitto_session", ident.SessionID, 0, "/", "", true, true)
	response.Success(c, http.StatusOK, "csrf token issued", gin.H{"csrf_token": tok})
}

// ========== Administration ==========

// ListByRoles returns principals holding the requested roles (admin only)
func (h *AuthHandler) ListByRoles(c *gin.Context) {
	rolesParam := c.Query("roles")
	if rolesParam == "" {
		response.ValidationError(c, "roles query parameter required")
		return
	}

	var roles []auth.Role
	for _, r := range strings.Split(rolesParam, ",") {
		roles = append(roles, auth.Role(strings.TrimSpace(r)))
	}

	principals, err := h.authService.ListByRoles(c.Request.Context(), roles)
	if err != nil {
		h.respondError(c, err, "failed to list principals")
		return
	}

	users := make([]auth.UserInfo, 0, len(principals))
	for _, p := range principals {
		u := auth.UserInfo{
			ID:        p.ID,
			Email:     p.Email,
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Role:      p.Role,
		}
		if p.CompanyID.Valid {
			u.CompanyID = p.CompanyID.Int64
		}
		users = append(users, u)
	}

	response.Success(c, http.StatusOK, "principals", users)
}

// Deactivate marks a principal inactive and revokes all its sessions (admin only)
func (h *AuthHandler) Deactivate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid principal id")
		return
	}

	if err := h.authService.Deactivate(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "failed to deactivate principal")
		return
	}

	response.Success(c, http.StatusOK, "principal deactivated", nil)
}

// respondError maps service sentinels onto HTTP statuses. The fallback
// message keeps internals out of the response body.
func (h *AuthHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, xerrors.ErrInvalidCredentials),
		errors.Is(err, xerrors.ErrAccountInactive):
		response.Unauthorized(c, "invalid credentials")
	case errors.Is(err, xerrors.ErrInvalidToken),
		errors.Is(err, xerrors.ErrTokenRevoked),
		errors.Is(err, xerrors.ErrPrincipalNotFound):
		response.Unauthorized(c, "invalid or expired token")
	case errors.Is(err, xerrors.ErrForbidden):
		response.Forbidden(c, "forbidden")
	case errors.Is(err, xerrors.ErrInvalidInput):
		response.ValidationError(c, "invalid input")
	case errors.Is(err, xerrors.ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, xerrors.ErrDependency):
		h.logger.Error("dependency fault", zap.String("path", c.Request.URL.Path), zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, "service unavailable")
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Error(c, http.StatusInternalServerError, fallback)
	}
}
