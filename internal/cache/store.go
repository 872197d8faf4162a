package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a cache miss. Both stores return it so the tiered
// layer can distinguish an absent key from an operational failure; only the
// latter feeds the circuit breaker.
var ErrNotFound = errors.New("cache entry not found")

// Store is one cache tier. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
