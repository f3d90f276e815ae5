// internal/pkg/kv/memory.go
package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-process Store for local development and tests.
// It is NOT suitable for multi-instance deployments: revocations made
// on one instance would not be visible on another.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemStore() *MemStore {
	s := &MemStore{entries: make(map[string]memEntry)}
	return s
}

func (s *MemStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("kv: non-positive ttl for key %q", key)
	}
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	s.entries[key] = memEntry{value: v, expiresAt: time.Now().Add(ttl)}
	s.sweepLocked()
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, ErrNotFound
	}
	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, nil
}

func (s *MemStore) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// sweepLocked drops expired entries opportunistically on writes. The
// store lacks native expiry, so this keeps it from growing unbounded.
func (s *MemStore) sweepLocked() {
	now := time.Now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
