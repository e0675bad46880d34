package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/service-template/internal/config"
)

// NewRedisClient builds a standalone or cluster client from configuration.
func NewRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	if strings.EqualFold(cfg.Mode, "cluster") {
		if len(cfg.ClusterNodes) == 0 {
			return nil, errors.New("redis cluster mode requires REDIS_CLUSTER_NODES")
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterNodes,
			Password:    cfg.Password,
			DialTimeout: cfg.DialTimeout,
			PoolSize:    cfg.PoolSize,
		}), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		PoolSize:    cfg.PoolSize,
	}), nil
}

// RedisStore stores keys as "<prefix>:<key>".
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	mode   string
	owned  bool
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithOwnership makes Close close the client.
func WithOwnership() RedisOption {
	return func(s *RedisStore) { s.owned = true }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, mode: "standalone"}
	if _, ok := rdb.(*redis.ClusterClient); ok {
		s.mode = "cluster"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = s.key(k)
	}
	return out
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return b, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Delete pipelines one DEL per key; keys may live in different cluster slots.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range s.keys(keys) {
		cmds[i] = pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis DEL: %w", err)
	}
	var n int64
	for _, c := range cmds {
		n += c.Val()
	}
	return n, nil
}

func (s *RedisStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range s.keys(keys) {
		cmds[i] = pipe.Exists(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis EXISTS: %w", err)
	}
	var n int64
	for _, c := range cmds {
		n += c.Val()
	}
	return n, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.Expire(ctx, s.key(key), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXPIRE %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis TTL %s: %w", key, err)
	}
	return d, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, s.key(key), n).Result()
	if err != nil {
		return 0, fmt.Errorf("redis INCRBY %s: %w", key, err)
	}
	return v, nil
}

// Keys scans for pattern and returns unprefixed keys. In cluster mode every
// master is scanned.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	match := s.key(pattern)
	var out []string
	scan := func(ctx context.Context, c *redis.Client) error {
		iter := c.Scan(ctx, 0, match, 100).Iterator()
		for iter.Next(ctx) {
			out = append(out, s.strip(iter.Val()))
		}
		return iter.Err()
	}

	var err error
	switch c := s.rdb.(type) {
	case *redis.ClusterClient:
		// ForEachMaster runs the callbacks concurrently.
		var mu sync.Mutex
		err = c.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			mu.Lock()
			defer mu.Unlock()
			return scan(ctx, node)
		})
	case *redis.Client:
		err = scan(ctx, c)
	default:
		out, err = s.rdb.Keys(ctx, match).Result()
		for i := range out {
			out[i] = s.strip(out[i])
		}
	}
	if err != nil {
		return nil, fmt.Errorf("redis SCAN %s: %w", pattern, err)
	}
	return out, nil
}

func (s *RedisStore) strip(k string) string {
	if s.prefix == "" {
		return k
	}
	return strings.TrimPrefix(k, s.prefix+":")
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Mode() string { return s.mode }

func (s *RedisStore) Close() error {
	if s.owned {
		return s.rdb.Close()
	}
	return nil
}
