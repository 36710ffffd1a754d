// Package kv is the shared key-value store behind rate-limit counters and
// OAuth login state. All operations are single-key and atomic so several
// service instances can share one store.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the shared key-value store.
type Store interface {
	// SetWithTTL stores value under key, replacing any previous value.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetDel atomically returns and removes the value under key.
	GetDel(ctx context.Context, key string) ([]byte, error)
	// IncrWindow increments the counter under key. The first increment
	// starts a window of the given length, after which the key expires.
	// It returns the new count and the time left in the window.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}
