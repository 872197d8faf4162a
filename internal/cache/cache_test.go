package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss-prevention-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

// stubStore is a controllable distributed-tier double.
type stubStore struct {
	mu      sync.Mutex
	fail    bool
	gets    int
	sets    int
	deletes int
	data    map[string][]byte
}

func newStubStore() *stubStore {
	return &stubStore{data: make(map[string][]byte)}
}

func (s *stubStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *stubStore) getCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *stubStore) deleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

func (s *stubStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.fail {
		return nil, errors.New("connection refused")
	}
	val, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

func (s *stubStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.fail {
		return errors.New("connection refused")
	}
	s.data[key] = value
	return nil
}

func (s *stubStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.fail {
		return errors.New("connection refused")
	}
	delete(s.data, key)
	return nil
}

func (s *stubStore) Close() error { return nil }

type countingRecorder struct {
	mu sync.Mutex
	n  int
}

func (r *countingRecorder) RecordCacheError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func newTestCache(t *testing.T, remote Store, config domain.CacheConfig) (*Cache, *countingRecorder) {
	t.Helper()
	local, err := NewLocalStore(config.LocalMaxEntries)
	require.NoError(t, err)
	recorder := &countingRecorder{}
	return New(remote, local, config, recorder, testLogger()), recorder
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(10)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestLocalStoreLazyExpiry(t *testing.T) {
	store, err := NewLocalStore(10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, store.Len(), "expired entry is removed on read")
}

func TestLocalStoreLRUEviction(t *testing.T) {
	store, err := NewLocalStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, store.Set(ctx, "c", []byte("3"), 0))

	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound, "oldest entry evicted at capacity")
	_, err = store.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestLocalStoreReturnsCopies(t *testing.T) {
	store, err := NewLocalStore(10)
	require.NoError(t, err)
	ctx := context.Background()

	original := []byte("payload")
	require.NoError(t, store.Set(ctx, "k", original, 0))
	original[0] = 'X'

	first, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), first)

	first[0] = 'Y'
	second, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), second)
}

func TestCacheLocalOnly(t *testing.T) {
	c, _ := newTestCache(t, nil, domain.CacheConfig{ResultTTL: time.Minute})
	ctx := context.Background()

	assert.Equal(t, "disabled", c.BreakerState())
	assert.False(t, c.RemoteConfigured())

	_, found := c.Get(ctx, "k")
	assert.False(t, found)

	c.Set(ctx, "k", []byte(`{"v":1}`), 0)
	payload, found := c.Get(ctx, "k")
	require.True(t, found)
	assert.JSONEq(t, `{"v":1}`, string(payload))
}

func TestCacheWriteThrough(t *testing.T) {
	remote := newStubStore()
	c, _ := newTestCache(t, remote, domain.CacheConfig{ResultTTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`{"v":1}`), time.Minute)

	remote.mu.Lock()
	_, inRemote := remote.data["k"]
	remote.mu.Unlock()
	assert.True(t, inRemote, "write must reach the distributed tier")

	inLocal, err := c.local.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotEmpty(t, inLocal, "write-through must also update the local tier")
}

func TestCacheRemoteHitWarmsLocal(t *testing.T) {
	remote := newStubStore()
	seed, _ := newTestCache(t, remote, domain.CacheConfig{ResultTTL: time.Minute})
	ctx := context.Background()
	seed.Set(ctx, "k", []byte(`{"v":1}`), time.Minute)

	// Fresh cache instance sharing the remote: its local tier starts cold.
	c, _ := newTestCache(t, remote, domain.CacheConfig{ResultTTL: time.Minute})
	payload, found := c.Get(ctx, "k")
	require.True(t, found)
	assert.JSONEq(t, `{"v":1}`, string(payload))
	assert.Equal(t, 1, c.local.Len(), "remote hit warms the local tier")
}

func TestCacheRemoteMissFallsBackToLocal(t *testing.T) {
	remote := newStubStore()
	c, _ := newTestCache(t, remote, domain.CacheConfig{ResultTTL: time.Minute})
	ctx := context.Background()

	// Write while the remote is down: only the local tier keeps the entry.
	remote.setFail(true)
	c.Set(ctx, "k", []byte(`{"v":1}`), time.Minute)
	remote.setFail(false)

	payload, found := c.Get(ctx, "k")
	require.True(t, found, "local tier must serve entries the remote never saw")
	assert.JSONEq(t, `{"v":1}`, string(payload))
}

func TestCacheBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	remote := newStubStore()
	config := domain.CacheConfig{
		ResultTTL:        time.Hour,
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	}
	c, recorder := newTestCache(t, remote, config)
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`{"v":1}`), time.Hour)
	require.Equal(t, "closed", c.BreakerState())

	remote.setFail(true)
	for i := 0; i < 3; i++ {
		payload, found := c.Get(ctx, "k")
		require.True(t, found, "local tier keeps serving during remote failures")
		assert.JSONEq(t, `{"v":1}`, string(payload))
	}

	assert.Equal(t, "open", c.BreakerState(), "three consecutive failures open the breaker")
	assert.Equal(t, 3, recorder.count())
	callsWhenOpened := remote.getCalls()

	// With the breaker open the remote must not be touched at all.
	for i := 0; i < 5; i++ {
		_, found := c.Get(ctx, "k")
		require.True(t, found)
	}
	assert.Equal(t, callsWhenOpened, remote.getCalls(), "open breaker skips the distributed tier")
	assert.Equal(t, 3, recorder.count(), "fast-fails are not new cache errors")
}

func TestCacheBreakerHalfOpenProbeRecovers(t *testing.T) {
	remote := newStubStore()
	config := domain.CacheConfig{
		ResultTTL:        time.Hour,
		FailureThreshold: 3,
		Cooldown:         60 * time.Millisecond,
	}
	c, _ := newTestCache(t, remote, config)
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`{"v":1}`), time.Hour)

	remote.setFail(true)
	for i := 0; i < 3; i++ {
		c.Get(ctx, "k")
	}
	require.Equal(t, "open", c.BreakerState())

	remote.setFail(false)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "half-open", c.BreakerState())

	callsBefore := remote.getCalls()
	payload, found := c.Get(ctx, "k")
	require.True(t, found)
	assert.JSONEq(t, `{"v":1}`, string(payload))
	assert.Equal(t, callsBefore+1, remote.getCalls(), "half-open admits exactly one probe")
	assert.Equal(t, "closed", c.BreakerState(), "successful probe closes the breaker")
}

func TestCacheBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	remote := newStubStore()
	config := domain.CacheConfig{
		ResultTTL:        time.Hour,
		FailureThreshold: 3,
		Cooldown:         60 * time.Millisecond,
	}
	c, _ := newTestCache(t, remote, config)
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`{"v":1}`), time.Hour)

	remote.setFail(true)
	for i := 0; i < 3; i++ {
		c.Get(ctx, "k")
	}
	require.Equal(t, "open", c.BreakerState())

	time.Sleep(100 * time.Millisecond)
	_, found := c.Get(ctx, "k")
	require.True(t, found, "failed probe still falls back to local")
	assert.Equal(t, "open", c.BreakerState(), "failed probe restarts the cool-down")
}

func TestCacheExpiredEntryNeverServed(t *testing.T) {
	c, _ := newTestCache(t, nil, domain.CacheConfig{})
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`{"v":1}`), 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	_, found := c.Get(ctx, "k")
	assert.False(t, found)
}

func TestCacheExpiredRemoteEntryEvicted(t *testing.T) {
	remote := newStubStore()
	c, _ := newTestCache(t, remote, domain.CacheConfig{ResultTTL: time.Minute})
	ctx := context.Background()

	// Entry whose envelope expired even though the store still returns it.
	stale, err := json.Marshal(envelope{
		Payload:   json.RawMessage(`{"v":1}`),
		CachedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	remote.mu.Lock()
	remote.data["k"] = stale
	remote.mu.Unlock()

	_, found := c.Get(ctx, "k")
	assert.False(t, found, "expiry is enforced even when the store failed to evict")
	assert.Equal(t, 1, remote.deleteCalls(), "stale entry is cleaned up")
}

func TestCacheCorruptRemoteEntryEvicted(t *testing.T) {
	remote := newStubStore()
	c, _ := newTestCache(t, remote, domain.CacheConfig{ResultTTL: time.Minute})
	ctx := context.Background()

	remote.mu.Lock()
	remote.data["k"] = []byte("not json at all")
	remote.mu.Unlock()

	_, found := c.Get(ctx, "k")
	assert.False(t, found)
	assert.Equal(t, 1, remote.deleteCalls())
}

func TestNewFromConfigLocalOnly(t *testing.T) {
	c, err := NewFromConfig(domain.CacheConfig{}, nil, testLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.RemoteConfigured())
	assert.Equal(t, "disabled", c.BreakerState())
	assert.NoError(t, c.PingRemote(context.Background()))
}
