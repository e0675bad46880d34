package cache

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Expired keys are dropped lazily.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expires.IsZero() && !now.Before(it.expires)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

// lookup returns a live item. Callers hold mu.
func (s *MemoryStore) lookup(key string) (memoryItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if it.expired(s.now()) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), it.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = memoryItem{value: append([]byte(nil), value...), expires: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, k := range keys {
		if _, ok := s.lookup(k); ok {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Exists(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, k := range keys {
		if _, ok := s.lookup(k); ok {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.items, key)
		return true, nil
	}
	it.expires = s.expiry(ttl)
	s.items[key] = it
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	switch {
	case !ok:
		return TTLMissing, nil
	case it.expires.IsZero():
		return TTLNoExpiry, nil
	default:
		return it.expires.Sub(s.now()), nil
	}
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	var cur int64
	if ok {
		v, err := strconv.ParseInt(string(it.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
		cur = v
	}
	cur += n
	it.value = []byte(strconv.FormatInt(cur, 10))
	s.items[key] = it
	return cur, nil
}

// Keys matches keys with glob patterns (*, ?, [..]).
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.items {
		if _, ok := s.lookup(k); !ok {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Mode() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }
