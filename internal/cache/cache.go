package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/cdss-prevention-engine/internal/domain"
)

const (
	defaultOpTimeout        = 2 * time.Second
	defaultResultTTL        = 15 * time.Minute
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

var errExpired = errors.New("cache entry expired")

// ErrorRecorder receives a count for every absorbed distributed-cache
// failure. Satisfied by the metrics collector.
type ErrorRecorder interface {
	RecordCacheError()
}

// envelope wraps every stored payload with its own expiry so staleness is
// checked here even when the underlying store was expected to evict.
type envelope struct {
	Payload   json.RawMessage `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Cache routes between the distributed store and the local fallback. All
// distributed-store calls go through a circuit breaker: after enough
// consecutive failures the breaker opens and operations skip straight to
// the local tier for the cool-down period, then a single half-open probe
// decides whether to close again. Without this, a degraded Redis would add
// its connection timeout to every evaluation on the hot path.
//
// Cache errors are absorbed, never returned: evaluation correctness must
// not depend on cache availability, only latency does.
type Cache struct {
	logger    *logrus.Logger
	remote    Store // nil when no distributed tier is configured
	local     *LocalStore
	breaker   *gobreaker.CircuitBreaker
	recorder  ErrorRecorder
	opTimeout time.Duration
	resultTTL time.Duration
}

// New assembles the tiered cache. remote may be nil for local-only
// operation; recorder may be nil when no metrics sink exists.
func New(remote Store, local *LocalStore, config domain.CacheConfig, recorder ErrorRecorder, logger *logrus.Logger) *Cache {
	opTimeout := config.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	resultTTL := config.ResultTTL
	if resultTTL <= 0 {
		resultTTL = defaultResultTTL
	}
	failureThreshold := config.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	cooldown := config.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "distributed-cache",
		MaxRequests: 1, // exactly one half-open probe
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		IsSuccessful: func(err error) bool {
			// A miss is an answer, not a failure.
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Cache circuit breaker state changed")
		},
	})

	return &Cache{
		logger:    logger,
		remote:    remote,
		local:     local,
		breaker:   breaker,
		recorder:  recorder,
		opTimeout: opTimeout,
		resultTTL: resultTTL,
	}
}

// NewFromConfig builds the cache from configuration: a Redis tier when
// RedisAddr is set, and always the local LRU fallback.
func NewFromConfig(config domain.CacheConfig, recorder ErrorRecorder, logger *logrus.Logger) (*Cache, error) {
	local, err := NewLocalStore(config.LocalMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}

	var remote Store
	if config.RedisAddr != "" {
		remote = NewRedisStore(config, logger)
	}
	return New(remote, local, config, recorder, logger), nil
}

// Get returns the cached payload for the key, or found=false on any kind
// of miss. Distributed-tier hits warm the local tier so a Redis outage
// immediately afterwards still serves this key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.remote != nil {
		data, err := c.throughBreaker(ctx, func(opCtx context.Context) ([]byte, error) {
			return c.remote.Get(opCtx, key)
		})
		switch {
		case err == nil:
			payload, remaining, decodeErr := decodeEnvelope(data)
			if decodeErr != nil {
				c.evictRemote(ctx, key, decodeErr)
			} else {
				_ = c.local.Set(ctx, key, data, remaining)
				return payload, true
			}
		case errors.Is(err, ErrNotFound):
			// Definitive miss; the local tier may still hold an entry
			// written while the breaker was open.
		default:
			c.noteRemoteFailure("get", key, err)
		}
	}

	data, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	payload, _, decodeErr := decodeEnvelope(data)
	if decodeErr != nil {
		_ = c.local.Delete(ctx, key)
		return nil, false
	}
	return payload, true
}

// Set stores the payload in both tiers. The distributed write is
// best-effort; the local write always happens, so recently-evaluated keys
// survive a distributed outage.
func (c *Cache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.resultTTL
	}
	now := time.Now().UTC()
	data, err := json.Marshal(envelope{
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to encode cache entry")
		return
	}

	if c.remote != nil {
		_, err := c.throughBreaker(ctx, func(opCtx context.Context) ([]byte, error) {
			return nil, c.remote.Set(opCtx, key, data, ttl)
		})
		if err != nil {
			c.noteRemoteFailure("set", key, err)
		}
	}
	_ = c.local.Set(ctx, key, data, ttl)
}

// BreakerState reports the circuit breaker state for health endpoints:
// closed, half-open, open, or disabled when no distributed tier exists.
func (c *Cache) BreakerState() string {
	if c.remote == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// RemoteConfigured reports whether a distributed tier exists.
func (c *Cache) RemoteConfigured() bool {
	return c.remote != nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// PingRemote checks distributed-tier liveness for health reporting. The
// probe bypasses the breaker deliberately: health checks should observe the
// real dependency, not the degraded-mode routing.
func (c *Cache) PingRemote(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	p, ok := c.remote.(pinger)
	if !ok {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return p.Ping(opCtx)
}

// Close releases both tiers.
func (c *Cache) Close() error {
	_ = c.local.Close()
	if c.remote != nil {
		return c.remote.Close()
	}
	return nil
}

// throughBreaker runs one distributed-store operation under the breaker
// with the per-operation timeout applied.
func (c *Cache) throughBreaker(ctx context.Context, op func(context.Context) ([]byte, error)) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		return op(opCtx)
	})
	if err != nil {
		return nil, err
	}
	data, _ := out.([]byte)
	return data, nil
}

// evictRemote removes a corrupt or expired entry, best-effort.
func (c *Cache) evictRemote(ctx context.Context, key string, reason error) {
	c.logger.WithError(reason).WithField("key", key).Debug("Evicting stale cache entry")
	_, err := c.throughBreaker(ctx, func(opCtx context.Context) ([]byte, error) {
		return nil, c.remote.Delete(opCtx, key)
	})
	if err != nil {
		c.noteRemoteFailure("delete", key, err)
	}
}

// noteRemoteFailure logs an absorbed distributed-cache failure. Breaker
// fast-fails are routing, not new failures, and stay out of the error
// count.
func (c *Cache) noteRemoteFailure(op, key string, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.WithFields(logrus.Fields{"op": op, "key": key}).
			Debug("Distributed cache bypassed while breaker is open")
		return
	}
	if c.recorder != nil {
		c.recorder.RecordCacheError()
	}
	c.logger.WithError(err).WithFields(logrus.Fields{"op": op, "key": key}).
		Debug("Distributed cache operation failed, continuing with local tier")
}

// decodeEnvelope validates an entry and returns its payload and remaining
// lifetime. Expiry is enforced here regardless of store-level TTLs.
func decodeEnvelope(data []byte) ([]byte, time.Duration, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("corrupt cache entry: %w", err)
	}
	if env.ExpiresAt.IsZero() {
		return env.Payload, 0, nil
	}
	remaining := time.Until(env.ExpiresAt)
	if remaining <= 0 {
		return nil, 0, errExpired
	}
	return env.Payload, remaining, nil
}
