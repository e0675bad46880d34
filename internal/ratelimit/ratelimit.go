// Package ratelimit counts requests per client over fixed time windows.
//
// Counters live behind the Store interface. MemoryStore keeps a sliding log
// per key inside one process; RedisStore keeps fixed-window counters that are
// shared by every instance pointing at the same Redis.
package ratelimit

import (
	"context"
	"time"
)

// Window is one limit applied to a key.
type Window struct {
	Name  string // minute, hour
	Size  time.Duration
	Limit int
}

// Result describes the state of one window after a hit.
type Result struct {
	Window    Window
	Count     int
	Remaining int
	Reset     time.Time
	Allowed   bool
}

// Store records hits against several windows at once.
//
// Take returns one Result per window, in the order given. A request is
// allowed only if every window allows it.
type Store interface {
	Take(ctx context.Context, key string, windows []Window, now time.Time) ([]Result, error)
	Close() error
}

func remaining(limit, count int) int {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}
