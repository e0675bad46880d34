package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// Decision is the outcome of Limiter.Allow.
type Decision struct {
	Allowed  bool
	Minute   Result
	Hour     Result
	Exceeded string // name of the first exceeded window, empty when allowed
}

// ExceededResult returns the Result of the exceeded window, or Minute when allowed.
func (d Decision) ExceededResult() Result {
	if d.Exceeded == WindowHour {
		return d.Hour
	}
	return d.Minute
}

// Limiter applies per-minute and per-hour limits to client keys.
type Limiter struct {
	store   Store
	windows []Window
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(store Store, perMinute, perHour int, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		windows: []Window{
			{Name: WindowMinute, Size: time.Minute, Limit: perMinute},
			{Name: WindowHour, Size: time.Hour, Limit: perHour},
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a hit for key. A store failure allows the request.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	now := l.now()
	results, err := l.store.Take(ctx, key, l.windows, now)
	if err != nil || len(results) != len(l.windows) {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "rate limit store unavailable, allowing request",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return Decision{
			Allowed: true,
			Minute:  Result{Window: l.windows[0], Remaining: l.windows[0].Limit, Reset: now.Add(time.Minute), Allowed: true},
			Hour:    Result{Window: l.windows[1], Remaining: l.windows[1].Limit, Reset: now.Add(time.Hour), Allowed: true},
		}
	}

	d := Decision{Allowed: true, Minute: results[0], Hour: results[1]}
	for _, r := range results {
		if !r.Allowed {
			d.Allowed = false
			d.Exceeded = r.Window.Name
			break
		}
	}
	return d
}

func (l *Limiter) PerMinute() int { return l.windows[0].Limit }
func (l *Limiter) PerHour() int   { return l.windows[1].Limit }
