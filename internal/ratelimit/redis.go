package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps fixed-window counters in Redis. Every hit is counted,
// including denied ones.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "app"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) bucketKey(w Window, key string, bucket int64) string {
	return fmt.Sprintf("%s:rl:%s:%s:%d", s.prefix, w.Name, key, bucket)
}

func (s *RedisStore) Take(ctx context.Context, key string, windows []Window, now time.Time) ([]Result, error) {
	pipe := s.rdb.Pipeline()
	counts := make([]*redis.IntCmd, len(windows))
	resets := make([]time.Time, len(windows))
	for i, w := range windows {
		size := int64(w.Size / time.Second)
		if size <= 0 {
			size = 1
		}
		bucket := now.Unix() / size
		k := s.bucketKey(w, key, bucket)
		counts[i] = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, w.Size+time.Second)
		resets[i] = time.Unix((bucket+1)*size, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to record rate limit hit: %w", err)
	}

	results := make([]Result, len(windows))
	for i, w := range windows {
		n := int(counts[i].Val())
		results[i] = Result{
			Window:    w,
			Count:     n,
			Remaining: remaining(w.Limit, n),
			Reset:     resets[i],
			Allowed:   n <= w.Limit,
		}
	}
	return results, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }
