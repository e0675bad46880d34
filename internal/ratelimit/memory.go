package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps a sliding log of hit timestamps per key and window.
// A denied request is not recorded.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type memoryEntry struct {
	hits     map[string][]time.Time
	lastSeen time.Time
}

type MemoryOption func(*MemoryStore)

// WithIdleTTL sets how long a key may stay unused before Cleanup drops it.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval. Zero disables the janitor.
func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func withMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memoryEntry),
		idleTTL:      2 * time.Hour,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Take(_ context.Context, key string, windows []Window, now time.Time) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &memoryEntry{hits: make(map[string][]time.Time)}
		s.entries[key] = ent
	}
	ent.lastSeen = now

	results := make([]Result, len(windows))
	allowed := true
	for i, w := range windows {
		hits := prune(ent.hits[w.Name], now.Add(-w.Size))
		ent.hits[w.Name] = hits

		res := Result{Window: w, Count: len(hits), Allowed: len(hits) < w.Limit}
		if len(hits) > 0 {
			res.Reset = hits[0].Add(w.Size)
		} else {
			res.Reset = now.Add(w.Size)
		}
		if !res.Allowed {
			allowed = false
		}
		results[i] = res
	}

	for i, w := range windows {
		if allowed {
			ent.hits[w.Name] = append(ent.hits[w.Name], now)
			results[i].Count++
		}
		results[i].Remaining = remaining(w.Limit, results[i].Count)
	}
	return results, nil
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup removes keys that have not been seen for the idle TTL.
func (s *MemoryStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func (s *MemoryStore) Close() error { return nil }
