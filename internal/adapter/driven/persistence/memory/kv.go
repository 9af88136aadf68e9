package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/port"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// KeyValueStore is an in-process stand-in for the external key-value store,
// used when no Redis URL is configured.
type KeyValueStore struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

var _ port.KeyValueStore = (*KeyValueStore)(nil)

func NewKeyValueStore() *KeyValueStore {
	return &KeyValueStore{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (s *KeyValueStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key)
	if !ok {
		return "", port.ErrMiss
	}
	return e.value, nil
}

func (s *KeyValueStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *KeyValueStore) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := s.lookupLocked(k); ok {
			n++
		}
		delete(s.data, k)
	}
	return n, nil
}

func (s *KeyValueStore) Take(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key)
	if !ok {
		return "", port.ErrMiss
	}
	delete(s.data, key)
	return e.value, nil
}

func (s *KeyValueStore) Ping(ctx context.Context) error { return nil }

func (s *KeyValueStore) Close() error { return nil }

func (s *KeyValueStore) lookupLocked(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, true
}
