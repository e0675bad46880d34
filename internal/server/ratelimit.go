package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/service-template/internal/ratelimit"
)

// rateLimitContextKey is the context key for rate limit info
type rateLimitContextKey struct{}

// RateLimitInfo is the client's quota after the current request.
type RateLimitInfo struct {
	LimitMinute     int
	RemainingMinute int
	LimitHour       int
	RemainingHour   int
}

// SetRateLimits stores rate limit info in context for the middleware to write as headers.
func SetRateLimits(ctx context.Context, rl *RateLimitInfo) context.Context {
	return context.WithValue(ctx, rateLimitContextKey{}, rl)
}

// GetRateLimits retrieves rate limit info from context.
// Returns nil if no rate limits are set.
func GetRateLimits(ctx context.Context) *RateLimitInfo {
	if rl, ok := ctx.Value(rateLimitContextKey{}).(*RateLimitInfo); ok {
		return rl
	}
	return nil
}

// RateLimitMiddleware limits each client address per minute and per hour.
// Rejected requests get a 429 with the exceeded window's limit and reset
// time. Allowed responses carry the remaining quota for both windows.
func RateLimitMiddleware(limiter *ratelimit.Limiter, skipPaths []string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			d := limiter.Allow(ctx, ClientIP(r))
			if !d.Allowed {
				res := d.ExceededResult()
				retry := int(time.Until(res.Reset).Round(time.Second) / time.Second)
				if retry < 1 {
					retry = 1
				}
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(res.Window.Limit))
				h.Set("X-RateLimit-Remaining", "0")
				h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
				h.Set("X-RateLimit-Remaining-"+windowLabel(res.Window.Name), "0")
				h.Set("Retry-After", strconv.Itoa(retry))
				AddLogField(ctx, "rate_limited", res.Window.Name)
				WriteDetail(w, http.StatusTooManyRequests,
					fmt.Sprintf("Rate limit exceeded. Too many requests per %s.", res.Window.Name))
				return
			}

			info := &RateLimitInfo{
				LimitMinute:     d.Minute.Window.Limit,
				RemainingMinute: d.Minute.Remaining,
				LimitHour:       d.Hour.Window.Limit,
				RemainingHour:   d.Hour.Remaining,
			}
			rw := newResponseWriter(w)
			rw.onHeader(func(w http.ResponseWriter, _ int) {
				writeRateLimitHeaders(w.Header(), info)
			})
			next.ServeHTTP(rw, r.WithContext(SetRateLimits(ctx, info)))
			if !rw.wroteHeader {
				rw.WriteHeader(http.StatusOK)
			}
		})
	}
}

func writeRateLimitHeaders(h http.Header, rl *RateLimitInfo) {
	h.Set("X-RateLimit-Limit-Minute", strconv.Itoa(rl.LimitMinute))
	h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(rl.RemainingMinute))
	h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(rl.LimitHour))
	h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(rl.RemainingHour))
}

func windowLabel(name string) string {
	if name == ratelimit.WindowHour {
		return "Hour"
	}
	return "Minute"
}
