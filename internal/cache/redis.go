package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/domain"
)

// RedisStore is the distributed cache tier.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis. An unreachable server is logged but not
// fatal: the circuit breaker discovers the outage on first use and the
// tiered layer degrades to local-only, so startup must not depend on Redis
// being up.
func NewRedisStore(config domain.CacheConfig, logger *logrus.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).WithField("addr", config.RedisAddr).
			Warn("Redis unreachable at startup, continuing with local cache only")
	} else {
		logger.WithField("addr", config.RedisAddr).Info("Connected to Redis")
	}

	return &RedisStore{client: client}
}

// Get retrieves a raw entry. Returns ErrNotFound on a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &domain.CacheError{Op: "get", Err: err}
	}
	return val, nil
}

// Set stores a raw entry with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &domain.CacheError{Op: "set", Err: err}
	}
	return nil
}

// Delete removes an entry. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return &domain.CacheError{Op: "del", Err: err}
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection, for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
