// internal/service/auth/auth_test.go
package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kvitto-service/internal/domain/auth"
	xerrors "kvitto-service/internal/pkg/errors"
	"kvitto-service/internal/pkg/kv"
	"kvitto-service/internal/pkg/session"
	"kvitto-service/internal/pkg/token"
	"kvitto-service/internal/ws"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// fakePrincipalStore keeps principals in memory so the service can be
// exercised without postgres.
type fakePrincipalStore struct {
	mu   sync.Mutex
	byID map[int64]*auth.Principal
}

func newFakePrincipalStore() *fakePrincipalStore {
	return &fakePrincipalStore{byID: make(map[int64]*auth.Principal)}
}

func (f *fakePrincipalStore) add(p *auth.Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
}

func (f *fakePrincipalStore) FindByEmail(_ context.Context, email string) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakePrincipalStore) FindByID(_ context.Context, id int64) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePrincipalStore) ListByRoles(_ context.Context, roles []auth.Role) ([]*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auth.Principal
	for _, p := range f.byID {
		for _, role := range roles {
			if p.Role == role {
				cp := *p
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (f *fakePrincipalStore) UpdateLastLogin(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byID[id]; ok {
		now := time.Now()
		p.LastLogin = sql.NullTime{Time: now, Valid: true}
	}
	return nil
}

func (f *fakePrincipalStore) UpdateStatus(_ context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	p.Status = status
	return nil
}

func (f *fakePrincipalStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	return string(hash)
}

func newTestService(t *testing.T) (*AuthService, *fakePrincipalStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	keys, err := token.NewSharedSecretKeys([]byte("0123456789abcdef0123456789abcdef"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSharedSecretKeys: %v", err)
	}
	issuer := token.NewIssuer(keys, "kvitto-api", "kvitto-access", "kvitto-refresh", 15*time.Minute, 14*24*time.Hour)
	verifier := token.NewVerifier(keys, "kvitto-api", "kvitto-access", "kvitto-refresh")

	principals := newFakePrincipalStore()
	svc := NewAuthService(
		principals,
		issuer,
		verifier,
		session.NewRegistry(store, 14*24*time.Hour),
		session.NewBlacklist(store),
		session.NewCSRF(store, time.Hour),
		ws.NewHub(zap.NewNop()),
		zap.NewNop(),
	)
	return svc, principals
}

func seedPrincipal(t *testing.T, principals *fakePrincipalStore, id int64, email string, role auth.Role, password string) {
	t.Helper()
	principals.add(&auth.Principal{
		ID:           id,
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		PasswordHash: mustHash(t, password),
		Status:       "active",
	})
}

func login(t *testing.T, svc *AuthService, email, password string) *auth.LoginResponse {
	t.Helper()
	resp, err := svc.Login(context.Background(), &auth.LoginRequest{
		Email:    email,
		Password: password,
		Device:   auth.DeviceInfo{Name: "laptop"},
	})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return resp
}

func TestLoginAndAuthorize(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")

	resp := login(t, svc, "anna@example.com", "hunter22")
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected both tokens in a login response")
	}
	if resp.TokenType != "Bearer" {
		t.Fatalf("token type = %q, want Bearer", resp.TokenType)
	}
	if resp.User.ID != 1 {
		t.Fatalf("user id = %d, want 1", resp.User.ID)
	}

	ident, err := svc.Authorize(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if ident.Principal.ID != 1 {
		t.Fatalf("authorized principal = %d, want 1", ident.Principal.ID)
	}
	if ident.SessionID == "" || ident.JTI == "" {
		t.Fatal("identity missing session id or jti")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")

	_, err := svc.Login(context.Background(), &auth.LoginRequest{Email: "anna@example.com", Password: "wrong"})
	if !errors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}

	// Unknown account produces the same error as a wrong password.
	_, err = svc.Login(context.Background(), &auth.LoginRequest{Email: "nobody@example.com", Password: "hunter22"})
	if !errors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	if err := principals.UpdateStatus(context.Background(), 1, "inactive"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	_, err := svc.Login(context.Background(), &auth.LoginRequest{Email: "anna@example.com", Password: "hunter22"})
	if !errors.Is(err, xerrors.ErrAccountInactive) {
		t.Fatalf("got %v, want ErrAccountInactive", err)
	}
}

func TestRefreshRotatesAndRevokesPredecessor(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	resp := login(t, svc, "anna@example.com", "hunter22")

	rotated, err := svc.Refresh(context.Background(), resp.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == resp.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	// The consumed refresh token must not be replayable.
	if _, err := svc.Refresh(context.Background(), resp.RefreshToken); !errors.Is(err, xerrors.ErrTokenRevoked) {
		t.Fatalf("replayed refresh: got %v, want ErrTokenRevoked", err)
	}

	// The prior access token stays valid until its own expiry.
	if _, err := svc.Authorize(context.Background(), resp.AccessToken); err != nil {
		t.Fatalf("prior access token rejected after rotation: %v", err)
	}

	// The rotated pair works end to end.
	if _, err := svc.Authorize(context.Background(), rotated.AccessToken); err != nil {
		t.Fatalf("Authorize rotated access: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), rotated.RefreshToken); err != nil {
		t.Fatalf("Refresh rotated token: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	resp := login(t, svc, "anna@example.com", "hunter22")

	if _, err := svc.Refresh(context.Background(), resp.AccessToken); !errors.Is(err, xerrors.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestLogoutRevokesTokenAndSession(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	resp := login(t, svc, "anna@example.com", "hunter22")

	ident, err := svc.Authorize(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err := svc.Logout(context.Background(), ident); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	// The unexpired access token is rejected immediately after logout.
	if _, err := svc.Authorize(context.Background(), resp.AccessToken); !errors.Is(err, xerrors.ErrTokenRevoked) {
		t.Fatalf("access after logout: got %v, want ErrTokenRevoked", err)
	}

	// The session's refresh token cannot resurrect it.
	if _, err := svc.Refresh(context.Background(), resp.RefreshToken); !errors.Is(err, xerrors.ErrTokenRevoked) {
		t.Fatalf("refresh after logout: got %v, want ErrTokenRevoked", err)
	}
}

func TestRevokeSessionTargetsOneDevice(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	laptop := login(t, svc, "anna@example.com", "hunter22")
	phone := login(t, svc, "anna@example.com", "hunter22")

	laptopIdent, err := svc.Authorize(context.Background(), laptop.AccessToken)
	if err != nil {
		t.Fatalf("Authorize laptop: %v", err)
	}
	if err := svc.RevokeSession(context.Background(), 1, laptopIdent.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	if _, err := svc.Authorize(context.Background(), laptop.AccessToken); !errors.Is(err, xerrors.ErrTokenRevoked) {
		t.Fatalf("revoked session access: got %v, want ErrTokenRevoked", err)
	}
	if _, err := svc.Authorize(context.Background(), phone.AccessToken); err != nil {
		t.Fatalf("untouched session rejected: %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	seedPrincipal(t, principals, 2, "bertil@example.com", auth.RoleIndividual, "hunter22")
	a1 := login(t, svc, "anna@example.com", "hunter22")
	a2 := login(t, svc, "anna@example.com", "hunter22")
	other := login(t, svc, "bertil@example.com", "hunter22")

	if err := svc.LogoutAll(context.Background(), 1); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}

	for i, tok := range []string{a1.AccessToken, a2.AccessToken} {
		if _, err := svc.Authorize(context.Background(), tok); !errors.Is(err, xerrors.ErrTokenRevoked) {
			t.Fatalf("session %d: got %v, want ErrTokenRevoked", i, err)
		}
	}
	// Another principal's sessions are untouched.
	if _, err := svc.Authorize(context.Background(), other.AccessToken); err != nil {
		t.Fatalf("other principal rejected: %v", err)
	}
}

func TestSessionsMarksCurrent(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	first := login(t, svc, "anna@example.com", "hunter22")
	login(t, svc, "anna@example.com", "hunter22")

	ident, err := svc.Authorize(context.Background(), first.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	infos, err := svc.Sessions(context.Background(), 1, ident.SessionID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d sessions, want 2", len(infos))
	}
	current := 0
	for _, info := range infos {
		if info.Current {
			current++
			if info.SessionID != ident.SessionID {
				t.Fatalf("current flag on %s, want %s", info.SessionID, ident.SessionID)
			}
		}
	}
	if current != 1 {
		t.Fatalf("got %d current sessions, want exactly 1", current)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	resp := login(t, svc, "anna@example.com", "hunter22")

	err := svc.ChangePassword(context.Background(), 1, &auth.ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "brand-new-secret",
	})
	if !errors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("wrong current password: got %v, want ErrInvalidCredentials", err)
	}

	err = svc.ChangePassword(context.Background(), 1, &auth.ChangePasswordRequest{
		CurrentPassword: "hunter22",
		NewPassword:     "brand-new-secret",
	})
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := svc.Authorize(context.Background(), resp.AccessToken); !errors.Is(err, xerrors.ErrTokenRevoked) {
		t.Fatalf("old session after password change: got %v, want ErrTokenRevoked", err)
	}
	login(t, svc, "anna@example.com", "brand-new-secret")
}

func TestDeactivateLocksOutPrincipal(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	resp := login(t, svc, "anna@example.com", "hunter22")

	if err := svc.Deactivate(context.Background(), 1); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	if _, err := svc.Authorize(context.Background(), resp.AccessToken); !errors.Is(err, xerrors.ErrTokenRevoked) {
		t.Fatalf("access after deactivation: got %v, want ErrTokenRevoked", err)
	}
	if _, err := svc.Login(context.Background(), &auth.LoginRequest{Email: "anna@example.com", Password: "hunter22"}); !errors.Is(err, xerrors.ErrAccountInactive) {
		t.Fatalf("login after deactivation: got %v, want ErrAccountInactive", err)
	}
}

func TestDeletedPrincipalTokenRejected(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	resp := login(t, svc, "anna@example.com", "hunter22")

	principals.mu.Lock()
	delete(principals.byID, 1)
	principals.mu.Unlock()

	if _, err := svc.Authorize(context.Background(), resp.AccessToken); !errors.Is(err, xerrors.ErrPrincipalNotFound) {
		t.Fatalf("got %v, want ErrPrincipalNotFound", err)
	}
}

func TestCSRFSingleUse(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	resp := login(t, svc, "anna@example.com", "hunter22")
	ident, err := svc.Authorize(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	tok, err := svc.IssueCSRF(context.Background(), ident.SessionID)
	if err != nil {
		t.Fatalf("IssueCSRF: %v", err)
	}

	ok, err := svc.ValidateCSRF(context.Background(), ident.SessionID, tok)
	if err != nil || !ok {
		t.Fatalf("first validation: ok=%v err=%v", ok, err)
	}
	ok, err = svc.ValidateCSRF(context.Background(), ident.SessionID, tok)
	if err != nil {
		t.Fatalf("second validation: %v", err)
	}
	if ok {
		t.Fatal("csrf token accepted twice")
	}
}

func TestListByRolesValidatesInput(t *testing.T) {
	svc, principals := newTestService(t)
	seedPrincipal(t, principals, 1, "anna@example.com", auth.RoleIndividual, "hunter22")
	seedPrincipal(t, principals, 2, "admin@example.com", auth.RoleSystemAdmin, "hunter22")

	if _, err := svc.ListByRoles(context.Background(), []auth.Role{"superuser"}); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}

	admins, err := svc.ListByRoles(context.Background(), []auth.Role{auth.RoleSystemAdmin})
	if err != nil {
		t.Fatalf("ListByRoles: %v", err)
	}
	if len(admins) != 1 || admins[0].ID != 2 {
		t.Fatalf("got %+v, want the single system admin", admins)
	}
}
