package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/tjfontaine/service-template/internal/logging"
	"github.com/tjfontaine/service-template/internal/reqctx"
)

// LoggingMiddleware logs HTTP requests with structured logging.
// Request details are written to the request context so every record logged
// while handling the request carries them, including fields added later via
// AddLogField. Panics are logged with a stack and re-raised.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if _, ok := logger.Handler().(*logging.ContextHandler); !ok {
		logger = slog.New(logging.NewContextHandler(logger.Handler()))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, rc := reqctx.Ensure(r.Context())
			r = r.WithContext(ctx)

			query := make(map[string]string, len(r.URL.Query()))
			for k, v := range r.URL.Query() {
				query[k] = v[0]
			}
			rc.Update(map[string]any{
				reqctx.KeyMethod:   r.Method,
				reqctx.KeyPath:     r.URL.Path,
				reqctx.KeyClientIP: ClientIP(r),
				"url":              r.URL.String(),
				"query_params":     query,
				"user_agent":       r.UserAgent(),
				"content_type":     r.Header.Get("Content-Type"),
				"content_length":   r.Header.Get("Content-Length"),
				"start_time":       start.Format(time.RFC3339Nano),
			})

			logger.InfoContext(ctx, fmt.Sprintf("Request started: %s %s", r.Method, r.URL.Path))

			rw := newResponseWriter(w)
			defer func() {
				elapsed := float64(time.Since(start).Microseconds()) / 1000
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					rc.Update(map[string]any{
						"exception_occurred": true,
						"exception_type":     fmt.Sprintf("%T", rec),
						"exception_msg":      fmt.Sprint(rec),
						"process_time_ms":    elapsed,
						"end_time":           time.Now().Format(time.RFC3339Nano),
					})
					logger.LogAttrs(ctx, slog.LevelError,
						fmt.Sprintf("Request processing exception: %s %s - %v (%.2fms)", r.Method, r.URL.Path, rec, elapsed),
						slog.String("traceback", string(debug.Stack())),
					)
					panic(loggedPanic{value: rec})
				}

				rc.Update(map[string]any{
					"status_code":     rw.status,
					"process_time_ms": elapsed,
					"end_time":        time.Now().Format(time.RFC3339Nano),
				})
				level := slog.LevelInfo
				if rw.status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(ctx, level, fmt.Sprintf("Request completed: %s %s - %d (%.2fms)", r.Method, r.URL.Path, rw.status, elapsed))
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
