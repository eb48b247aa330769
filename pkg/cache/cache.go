// Package cache defines the opaque TTL key/value port backing
// user-context snapshots and WS message buffering. spec.md treats
// Redis purely as an opaque cache: callers only get/set/delete bytes
// under a TTL, never anything Redis-specific.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key doesn't exist or has
// expired. Callers treat a miss as "stale read acceptable, recompute".
var ErrMiss = errors.New("cache: key not found")

// Store is the opaque TTL K/V port.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
