package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// RecoverMiddleware turns a panic into a JSON 500. It must be the outermost
// unit so that panics re-raised by the logging unit end here.
func RecoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if _, logged := rec.(loggedPanic); !logged {
					logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("panic", fmt.Sprint(rec)),
						slog.String("stack", string(debug.Stack())),
					)
				}
				if !rw.wroteHeader {
					WriteDetail(rw, http.StatusInternalServerError, "Internal Server Error")
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// loggedPanic marks a panic value that the logging unit already recorded.
type loggedPanic struct {
	value any
}

func (p loggedPanic) String() string { return fmt.Sprint(p.value) }
