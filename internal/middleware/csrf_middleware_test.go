// internal/middleware/csrf_middleware_test.go
package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type csrfFixture struct {
	*gateFixture
	router *gin.Engine
}

func newCSRFFixture(t *testing.T) *csrfFixture {
	t.Helper()
	base := newGateFixture(t)

	m := NewCSRFMiddleware(base.svc, zap.NewNop())
	router := gin.New()
	router.Use(m.Validate())
	router.POST("/mutate", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/read", func(c *gin.Context) { c.Status(http.StatusOK) })

	return &csrfFixture{gateFixture: base, router: router}
}

func (f *csrfFixture) post(bearer, sessionID, csrfToken string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
	}
	if csrfToken != "" {
		req.Header.Set(csrfHeader, csrfToken)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCSRFExemptsBearerRequests(t *testing.T) {
	f := newCSRFFixture(t)
	resp := f.login(t, "manager@example.com")

	if w := f.post(resp.AccessToken, "", ""); w.Code != http.StatusOK {
		t.Fatalf("bearer request: status = %d, want 200", w.Code)
	}
}

func TestCSRFExemptsSafeMethods(t *testing.T) {
	f := newCSRFFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET: status = %d, want 200", w.Code)
	}
}

func TestCSRFTokenIsSingleUse(t *testing.T) {
	f := newCSRFFixture(t)
	resp := f.login(t, "manager@example.com")
	ident, err := f.svc.Authorize(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	tok, err := f.svc.IssueCSRF(context.Background(), ident.SessionID)
	if err != nil {
		t.Fatalf("IssueCSRF: %v", err)
	}

	if w := f.post("", ident.SessionID, tok); w.Code != http.StatusOK {
		t.Fatalf("first use: status = %d, want 200", w.Code)
	}
	if w := f.post("", ident.SessionID, tok); w.Code != http.StatusForbidden {
		t.Fatalf("replay: status = %d, want 403", w.Code)
	}
}

func TestCSRFRejectsMissingPieces(t *testing.T) {
	f := newCSRFFixture(t)
	resp := f.login(t, "manager@example.com")
	ident, err := f.svc.Authorize(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if w := f.post("", "", "some-token"); w.Code != http.StatusForbidden {
		t.Fatalf("no cookie: status = %d, want 403", w.Code)
	}
	if w := f.post("", ident.SessionID, ""); w.Code != http.StatusForbidden {
		t.Fatalf("no header: status = %d, want 403", w.Code)
	}
	if w := f.post("", ident.SessionID, "forged"); w.Code != http.StatusForbidden {
		t.Fatalf("forged token: status = %d, want 403", w.Code)
	}
}
