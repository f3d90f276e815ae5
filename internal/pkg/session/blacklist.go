// internal/pkg/session/blacklist.go
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"kvitto-service/internal/pkg/kv"
)

// Blacklist is the TTL-bounded set of invalidated credentials. Entries
// expire together with the token they block, so the set never needs
// manual pruning. Keys are either token jtis or hashed raw tokens
// (TokenRef); both forms share the namespace.
type Blacklist struct {
	store kv.Store
}

func NewBlacklist(store kv.Store) *Blacklist {
	return &Blacklist{store: store}
}

// TokenRef derives the blacklist key for a raw token. Raw tokens are
// never stored or logged; only this digest is.
func TokenRef(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Revoke adds a token reference for ttl. Revoking an already-revoked
// reference is a no-op, not an error.
func (b *Blacklist) Revoke(ctx context.Context, ref string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // token already expired on its own
	}
	if err := b.store.Set(ctx, b.key(ref), []byte("1"), ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token reference has been revoked.
func (b *Blacklist) IsRevoked(ctx context.Context, ref string) (bool, error) {
	revoked, err := b.store.Exists(ctx, b.key(ref))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return revoked, nil
}

func (b *Blacklist) key(ref string) string {
	return "blacklist:" + ref
}
