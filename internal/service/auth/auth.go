// internal/service/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"kvitto-service/internal/domain/auth"
	xerrors "kvitto-service/internal/pkg/errors"
	"kvitto-service/internal/pkg/kv"
	"kvitto-service/internal/pkg/session"
	"kvitto-service/internal/pkg/token"
	"kvitto-service/internal/ws"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// depTimeout bounds every store round trip and principal lookup on the
// authorization path. A timeout is a rejection, never a bypass.
const depTimeout = 2 * time.Second

// PrincipalStore is the collaborator lookup the auth core consumes.
// Implemented by postgres.PrincipalRepository; faked in tests.
type PrincipalStore interface {
	FindByEmail(ctx context.Context, email string) (*auth.Principal, error)
	FindByID(ctx context.Context, id int64) (*auth.Principal, error)
	ListByRoles(ctx context.Context, roles []auth.Role) ([]*auth.Principal, error)
	UpdateLastLogin(ctx context.Context, id int64) error
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

type AuthService struct {
	principals PrincipalStore
	issuer     *token.Issuer
	verifier   *token.Verifier
	registry   *session.Registry
	blacklist  *session.Blacklist
	csrf       *session.CSRF
	hub        *ws.Hub
	logger     *zap.Logger
}

func NewAuthService(
	principals PrincipalStore,
	issuer *token.Issuer,
	verifier *token.Verifier,
	registry *session.Registry,
	blacklist *session.Blacklist,
	csrf *session.CSRF,
	hub *ws.Hub,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		principals: principals,
		issuer:     issuer,
		verifier:   verifier,
		registry:   registry,
		blacklist:  blacklist,
		csrf:       csrf,
		hub:        hub,
		logger:     logger,
	}
}

// ========== Login ==========

// Login authenticates email/password credentials and mints a token
// pair for a fresh session.
func (s *AuthService) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	principal, err := s.principals.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	if !principal.Active() {
		return nil, xerrors.ErrAccountInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.Password)); err != nil {
		return nil, xerrors.ErrInvalidCredentials
	}

	if err := s.principals.UpdateLastLogin(ctx, principal.ID); err != nil {
		s.logger.Error("failed to update last login", zap.Int64("principal_id", principal.ID), zap.Error(err))
	}

	device := req.Device
	device.IPAddress = req.IPAddress
	device.UserAgent = req.UserAgent
	return s.startSession(ctx, principal, device)
}

func (s *AuthService) startSession(ctx context.Context, principal *auth.Principal, device auth.DeviceInfo) (*auth.LoginResponse, error) {
	pair, err := s.issuer.IssuePair(principal, device)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token pair: %w", err)
	}

	now := time.Now()
	rec := &session.Record{
		SessionID:        pair.SessionID,
		PrincipalID:      principal.ID,
		DeviceID:         pair.DeviceID,
		DeviceName:       device.Name,
		IPAddress:        device.IPAddress,
		UserAgent:        device.UserAgent,
		CreatedAt:        now,
		LastSeenAt:       now,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
	if err := s.registry.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	s.logger.Info("session started",
		zap.Int64("principal_id", principal.ID),
		zap.String("session_id", pair.SessionID),
		zap.String("device_id", pair.DeviceID),
	)

	return s.loginResponse(principal, pair), nil
}

func (s *AuthService) loginResponse(principal *auth.Principal, pair *token.Pair) *auth.LoginResponse {
	user := auth.UserInfo{
		ID:        principal.ID,
		Email:     principal.Email,
		FirstName: principal.FirstName,
		LastName:  principal.LastName,
		Role:      principal.Role,
	}
	if principal.CompanyID.Valid {
		user.CompanyID = principal.CompanyID.Int64
	}

	return &auth.LoginResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(time.Until(pair.AccessExpiresAt).Seconds()),
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             user,
	}
}

// ========== Refresh rotation ==========

// Refresh exchanges a valid refresh token for a new pair bound to the
// same session and device. The presented refresh token's jti is
// blacklisted so it cannot be replayed; the prior access token remains
// valid until its own expiry (short by construction).
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (*auth.LoginResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, depTimeout)
	defer cancel()

	revoked, err := s.blacklist.IsRevoked(ctx, session.TokenRef(rawRefresh))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if revoked {
		return nil, xerrors.ErrTokenRevoked
	}

	claims, err := s.verifier.Verify(rawRefresh, token.TypeRefresh)
	if err != nil {
		s.logger.Warn("refresh token rejected", zap.String("token_ref", shortRef(rawRefresh)), zap.Error(err))
		return nil, xerrors.ErrInvalidToken
	}

	revoked, err = s.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if revoked {
		return nil, xerrors.ErrTokenRevoked
	}

	sessionRevoked, err := s.registry.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if sessionRevoked {
		return nil, xerrors.ErrTokenRevoked
	}

	principal, err := s.lookupSubject(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuer.RotatePair(principal, claims.SessionID, claims.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate token pair: %w", err)
	}

	// Rotation invalidates its predecessor: both the raw form and the
	// jti are blacklisted for the refresh token's remaining lifetime.
	remaining := time.Until(claims.ExpiresAt.Time)
	if err := s.blacklist.Revoke(ctx, session.TokenRef(rawRefresh), remaining); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if err := s.blacklist.Revoke(ctx, claims.ID, remaining); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	// Extend the session record alongside the new refresh expiry.
	rec, err := s.registry.Get(ctx, principal.ID, claims.SessionID)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
		}
		rec = &session.Record{
			SessionID:   claims.SessionID,
			PrincipalID: principal.ID,
			DeviceID:    claims.DeviceID,
			CreatedAt:   time.Now(),
		}
	}
	rec.LastSeenAt = time.Now()
	rec.RefreshExpiresAt = pair.RefreshExpiresAt
	if err := s.registry.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	s.logger.Info("session refreshed",
		zap.Int64("principal_id", principal.ID),
		zap.String("session_id", claims.SessionID),
	)

	return s.loginResponse(principal, pair), nil
}

// ========== Authorization gate core ==========

// Authorize is the per-request decision: blacklist, signature/claims,
// session revocation, principal lookup, in that order. Store errors
// and lookup timeouts reject the request (fail closed) and surface as
// ErrDependency so the caller can log them as infrastructure faults
// rather than security events.
func (s *AuthService) Authorize(ctx context.Context, rawToken string) (*auth.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, depTimeout)
	defer cancel()

	ref := session.TokenRef(rawToken)
	revoked, err := s.blacklist.IsRevoked(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if revoked {
		return nil, xerrors.ErrTokenRevoked
	}

	claims, err := s.verifier.Verify(rawToken, token.TypeAccess)
	if err != nil {
		// Internal log records the cause; the caller sees only the
		// uniform rejection.
		s.logger.Warn("access token rejected", zap.String("token_ref", shortRef(rawToken)), zap.Error(err))
		return nil, xerrors.ErrInvalidToken
	}

	sessionRevoked, err := s.registry.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if sessionRevoked {
		return nil, xerrors.ErrTokenRevoked
	}

	principal, err := s.lookupSubject(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	// Best effort; last-seen drift is acceptable.
	go func() {
		touchCtx, touchCancel := context.WithTimeout(context.Background(), depTimeout)
		defer touchCancel()
		if err := s.registry.Touch(touchCtx, principal.ID, claims.SessionID); err != nil {
			s.logger.Debug("failed to touch session", zap.Error(err))
		}
	}()

	return &auth.Identity{
		Principal: principal,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
		JTI:       claims.ID,
		TokenRef:  ref,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *AuthService) lookupSubject(ctx context.Context, subject string) (*auth.Principal, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return nil, xerrors.ErrInvalidToken
	}

	principal, err := s.principals.FindByID(ctx, id)
	if errors.Is(err, xerrors.ErrNotFound) {
		// Tokens must not outlive a deleted account.
		return nil, xerrors.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if !principal.Active() {
		return nil, xerrors.ErrAccountInactive
	}
	return principal, nil
}

// ========== Logout / revocation ==========

// Logout terminates the caller's session and blacklists the presented
// access token for its remaining lifetime.
func (s *AuthService) Logout(ctx context.Context, ident *auth.Identity) error {
	if err := s.registry.Revoke(ctx, ident.Principal.ID, ident.SessionID); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	remaining := time.Until(ident.ExpiresAt)
	if err := s.blacklist.Revoke(ctx, ident.TokenRef, remaining); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	if err := s.blacklist.Revoke(ctx, ident.JTI, remaining); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	s.hub.ForceLogout(ident.Principal.ID, ident.SessionID, "logged out")
	s.logger.Info("session terminated",
		zap.Int64("principal_id", ident.Principal.ID),
		zap.String("session_id", ident.SessionID),
	)
	return nil
}

// LogoutAll terminates every session of a principal.
func (s *AuthService) LogoutAll(ctx context.Context, principalID int64) error {
	if err := s.registry.RevokeAll(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	s.hub.ForceLogout(principalID, "", "all sessions logged out")
	return nil
}

// Sessions lists a principal's active sessions; the entry matching
// currentSessionID is flagged as the caller's own.
func (s *AuthService) Sessions(ctx context.Context, principalID int64, currentSessionID string) ([]auth.SessionInfo, error) {
	records, err := s.registry.List(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	infos := make([]auth.SessionInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, auth.SessionInfo{
			SessionID:  rec.SessionID,
			DeviceID:   rec.DeviceID,
			DeviceName: rec.DeviceName,
			IPAddress:  rec.IPAddress,
			UserAgent:  rec.UserAgent,
			CreatedAt:  rec.CreatedAt,
			LastSeenAt: rec.LastSeenAt,
			Current:    rec.SessionID == currentSessionID,
		})
	}
	return infos, nil
}

// RevokeSession terminates one of the principal's sessions by id.
func (s *AuthService) RevokeSession(ctx context.Context, principalID int64, sessionID string) error {
	if err := s.registry.Revoke(ctx, principalID, sessionID); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	s.hub.ForceLogout(principalID, sessionID, "session revoked")
	return nil
}

// ========== Password change ==========

// ChangePassword verifies the current password, stores a new hash and
// revokes every session, forcing re-authentication everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, principalID int64, req *auth.ChangePasswordRequest) error {
	principal, err := s.principals.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return xerrors.ErrPrincipalNotFound
		}
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return xerrors.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.principals.UpdatePasswordHash(ctx, principalID, string(hash)); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}

	return s.LogoutAll(ctx, principalID)
}

// ========== CSRF ==========

// IssueCSRF mints a one-time CSRF token bound to the session.
func (s *AuthService) IssueCSRF(ctx context.Context, sessionID string) (string, error) {
	tok, err := s.csrf.Issue(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	return tok, nil
}

// ValidateCSRF consumes a presented CSRF token; store errors fail closed.
func (s *AuthService) ValidateCSRF(ctx context.Context, sessionID, presented string) (bool, error) {
	ok, err := s.csrf.Validate(ctx, sessionID, presented)
	if err != nil {
		return false, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	return ok, nil
}

// ========== Administration ==========

// ListByRoles returns principals carrying the given roles.
func (s *AuthService) ListByRoles(ctx context.Context, roles []auth.Role) ([]*auth.Principal, error) {
	for _, role := range roles {
		if !role.Valid() {
			return nil, xerrors.ErrInvalidInput
		}
	}
	principals, err := s.principals.ListByRoles(ctx, roles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	return principals, nil
}

// Deactivate marks a principal inactive and revokes all sessions.
func (s *AuthService) Deactivate(ctx context.Context, principalID int64) error {
	if err := s.principals.UpdateStatus(ctx, principalID, "inactive"); err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return xerrors.ErrPrincipalNotFound
		}
		return fmt.Errorf("%w: %v", xerrors.ErrDependency, err)
	}
	return s.LogoutAll(ctx, principalID)
}

// shortRef returns a truncated token digest safe for logs.
func shortRef(rawToken string) string {
	return session.TokenRef(rawToken)[:12]
}
