// Package kv abstracts the TTL key-value store shared by the token
// blacklist, the session registry and the CSRF coordinator. Production
// runs on Redis; MemStore exists for local development only.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a TTL-bounded key-value store safe for concurrent use.
type Store interface {
	// Set stores value under key, expiring after ttl. A ttl <= 0 is an error:
	// every entry in this store must be garbage-collectible.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Keys returns all keys matching prefix. Used for per-principal
	// session enumeration; not on the per-request hot path.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
