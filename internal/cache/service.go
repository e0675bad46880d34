package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is used by CreateSession when ttl is zero.
const DefaultSessionTTL = time.Hour

// Service stores JSON values in a Store.
type Service struct {
	store      Store
	defaultTTL time.Duration
	logger     *slog.Logger
}

func NewService(store Store, defaultTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, defaultTTL: defaultTTL, logger: logger}
}

func (s *Service) Store() Store { return s.store }

// ttl maps 0 to the default TTL and negative values to no expiry.
func (s *Service) ttl(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return s.defaultTTL
	case ttl < 0:
		return 0
	}
	return ttl
}

// Set JSON-encodes value under key.
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, b, s.ttl(ttl)); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "cache set failed", slog.String("key", key), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Get decodes the value at key into dst. It reports false on a miss.
func (s *Service) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "cache get failed", slog.String("key", key), slog.String("error", err.Error()))
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("failed to decode cache value for %s: %w", key, err)
	}
	return true, nil
}

func (s *Service) Delete(ctx context.Context, keys ...string) (int64, error) {
	return s.store.Delete(ctx, keys...)
}

func (s *Service) Exists(ctx context.Context, keys ...string) (int64, error) {
	return s.store.Exists(ctx, keys...)
}

// Clear deletes every key matching pattern ("*" for all).
func (s *Service) Clear(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		pattern = "*"
	}
	keys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.store.Delete(ctx, keys...)
}

// Increment adds amount to the counter at key. A positive ttl (re)sets its
// expiry.
func (s *Service) Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	v, err := s.store.IncrBy(ctx, key, amount)
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		if _, err := s.store.Expire(ctx, key, ttl); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (s *Service) Decrement(ctx context.Context, key string, amount int64) (int64, error) {
	return s.store.IncrBy(ctx, key, -amount)
}

// Counter returns the counter at key, or 0 when it does not exist.
func (s *Service) Counter(ctx context.Context, key string) (int64, error) {
	var n int64
	if _, err := s.Get(ctx, key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func sessionKey(id string) string { return "session:" + id }

func (s *Service) CreateSession(ctx context.Context, id string, data map[string]any, ttl time.Duration) error {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return s.Set(ctx, sessionKey(id), data, ttl)
}

// NewSession stores data under a fresh random session id and returns the id.
func (s *Service) NewSession(ctx context.Context, data map[string]any, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	if err := s.CreateSession(ctx, id, data, ttl); err != nil {
		return "", err
	}
	return id, nil
}

// GetSession returns nil without error when the session does not exist.
func (s *Service) GetSession(ctx context.Context, id string) (map[string]any, error) {
	var data map[string]any
	ok, err := s.Get(ctx, sessionKey(id), &data)
	if err != nil || !ok {
		return nil, err
	}
	return data, nil
}

// UpdateSession replaces session data. A zero ttl applies the default TTL.
func (s *Service) UpdateSession(ctx context.Context, id string, data map[string]any, ttl time.Duration) error {
	return s.Set(ctx, sessionKey(id), data, ttl)
}

func (s *Service) DeleteSession(ctx context.Context, id string) (bool, error) {
	n, err := s.store.Delete(ctx, sessionKey(id))
	return n > 0, err
}

func (s *Service) ExtendSession(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return s.store.Expire(ctx, sessionKey(id), ttl)
}

// Health reports store reachability.
func (s *Service) Health(ctx context.Context) map[string]any {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "cache health check failed", slog.String("error", err.Error()))
		return map[string]any{"status": "unhealthy", "mode": s.store.Mode(), "error": err.Error()}
	}
	return map[string]any{"status": "healthy", "mode": s.store.Mode()}
}

func (s *Service) Close() error { return s.store.Close() }
