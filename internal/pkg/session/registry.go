// internal/pkg/session/registry.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"kvitto-service/internal/pkg/kv"
)

// Registry tracks active sessions per principal and answers the
// per-request "is this session revoked" check in O(1). Revocation sets
// a flag keyed by session id rather than enumerating issued tokens, so
// it is effective against still-unexpired access tokens; the bound is
// that revocation covers all requests that begin after Revoke returns.
type Registry struct {
	store      kv.Store
	refreshTTL time.Duration
}

func NewRegistry(store kv.Store, refreshTTL time.Duration) *Registry {
	return &Registry{store: store, refreshTTL: refreshTTL}
}

// Save writes the session record, expiring alongside its refresh token.
func (r *Registry) Save(ctx context.Context, rec *Record) error {
	ttl := time.Until(rec.RefreshExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", rec.SessionID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.store.Set(ctx, r.sessionKey(rec.PrincipalID, rec.SessionID), data, ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get returns the record for one session, or kv.ErrNotFound.
func (r *Registry) Get(ctx context.Context, principalID int64, sessionID string) (*Record, error) {
	data, err := r.store.Get(ctx, r.sessionKey(principalID, sessionID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

// Touch updates the last-seen timestamp, preserving the original expiry.
func (r *Registry) Touch(ctx context.Context, principalID int64, sessionID string) error {
	rec, err := r.Get(ctx, principalID, sessionID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil // session gone; nothing to touch
	}
	if err != nil {
		return err
	}
	rec.LastSeenAt = time.Now()
	return r.Save(ctx, rec)
}

// List returns all active sessions for a principal, newest first.
func (r *Registry) List(ctx context.Context, principalID int64) ([]*Record, error) {
	keys, err := r.store.Keys(ctx, fmt.Sprintf("session:%d:", principalID))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*Record
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			continue // expired between scan and get
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		sessions = append(sessions, &rec)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Revoke terminates one session: the record is removed and a revoked
// flag is set, outliving every token minted for the session.
func (r *Registry) Revoke(ctx context.Context, principalID int64, sessionID string) error {
	ttl := r.refreshTTL
	if rec, err := r.Get(ctx, principalID, sessionID); err == nil {
		if remaining := time.Until(rec.RefreshExpiresAt); remaining > 0 {
			ttl = remaining
		}
	}

	if err := r.store.Set(ctx, r.revokedKey(sessionID), []byte("1"), ttl); err != nil {
		return fmt.Errorf("failed to flag session revoked: %w", err)
	}
	if err := r.store.Del(ctx, r.sessionKey(principalID, sessionID)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RevokeAll terminates every active session for a principal.
func (r *Registry) RevokeAll(ctx context.Context, principalID int64) error {
	keys, err := r.store.Keys(ctx, fmt.Sprintf("session:%d:", principalID))
	if err != nil {
		return fmt.Errorf("failed to enumerate sessions: %w", err)
	}

	for _, key := range keys {
		sessionID := key[strings.LastIndex(key, ":")+1:]
		if err := r.Revoke(ctx, principalID, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// IsRevoked reports whether a session has been terminated. Consulted
// by the authorization gate on every request.
func (r *Registry) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	return r.store.Exists(ctx, r.revokedKey(sessionID))
}

func (r *Registry) sessionKey(principalID int64, sessionID string) string {
	return fmt.Sprintf("session:%d:%s", principalID, sessionID)
}

func (r *Registry) revokedKey(sessionID string) string {
	return "session:revoked:" + sessionID
}
