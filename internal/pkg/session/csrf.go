// internal/pkg/session/csrf.go
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"kvitto-service/internal/pkg/kv"
)

// CSRF issues and validates session-bound one-time tokens for
// cookie-authenticated state-changing requests. Bearer-token requests
// don't need this: browsers never replay Authorization headers across
// sites. Entries share the registry's TTL store and expire natively.
type CSRF struct {
	store kv.Store
	ttl   time.Duration
}

func NewCSRF(store kv.Store, ttl time.Duration) *CSRF {
	return &CSRF{store: store, ttl: ttl}
}

// Issue mints a random token bound to sessionID, replacing any prior
// one. The token is returned for embedding in a response header.
func (c *CSRF) Issue(ctx context.Context, sessionID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	tok := base64.URLEncoding.EncodeToString(buf)

	if err := c.store.Set(ctx, c.key(sessionID), []byte(tok), c.ttl); err != nil {
		return "", fmt.Errorf("failed to store csrf token: %w", err)
	}
	return tok, nil
}

// Validate checks presence, expiry and exact match, consuming the
// entry on success (single-use). Absent or expired entries fail
// closed; a store error is reported so callers can fail closed too.
func (c *CSRF) Validate(ctx context.Context, sessionID, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}

	stored, err := c.store.Get(ctx, c.key(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load csrf token: %w", err)
	}

	if subtle.ConstantTimeCompare(stored, []byte(presented)) != 1 {
		return false, nil
	}

	// Consume on success: a replayed token must not validate twice.
	if err := c.store.Del(ctx, c.key(sessionID)); err != nil {
		return false, fmt.Errorf("failed to consume csrf token: %w", err)
	}
	return true, nil
}

func (c *CSRF) key(sessionID string) string {
	return "csrf:" + sessionID
}
