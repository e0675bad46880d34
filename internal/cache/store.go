// Package cache provides a key/value cache with JSON helpers, counters and
// sessions on top of Redis or an in-process map.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

// TTL sentinels, matching Redis semantics.
const (
	TTLNoExpiry time.Duration = -1
	TTLMissing  time.Duration = -2
)

// Store is the raw byte-level cache. Keys are unprefixed; stores apply
// their own namespace. A ttl <= 0 stores the value without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Mode() string
	Close() error
}
