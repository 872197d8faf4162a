package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLocalMaxEntries = 10000

type localEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// LocalStore is the in-process fallback tier: a bounded LRU that keeps
// recently-seen keys servable through a distributed-cache outage. Expiry is
// lazy, checked on read, since the LRU itself only evicts by recency.
type LocalStore struct {
	entries *lru.Cache[string, localEntry]
}

// NewLocalStore creates the fallback store. maxEntries <= 0 selects the
// default bound of 10000.
func NewLocalStore(maxEntries int) (*LocalStore, error) {
	if maxEntries <= 0 {
		maxEntries = defaultLocalMaxEntries
	}
	entries, err := lru.New[string, localEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &LocalStore{entries: entries}, nil
}

// Get retrieves an entry, removing and missing on anything past its TTL.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.entries.Remove(key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a copy of the value. ttl <= 0 means no expiry.
func (s *LocalStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := localEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries.Add(key, entry)
	return nil
}

// Delete removes an entry.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

// Close purges the store.
func (s *LocalStore) Close() error {
	s.entries.Purge()
	return nil
}

// Len returns the number of resident entries, including any not yet lazily
// expired.
func (s *LocalStore) Len() int {
	return s.entries.Len()
}
