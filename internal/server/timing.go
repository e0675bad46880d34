package server

import (
	"net/http"
	"time"
)

// ProcessTimeHeader reports handler time in milliseconds, e.g. "12.34ms".
const ProcessTimeHeader = "X-Process-Time"

// ProcessTimeMiddleware measures the wrapped chain up to the moment the
// response header is sent.
func ProcessTimeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)
		rw.onHeader(func(w http.ResponseWriter, _ int) {
			w.Header().Set(ProcessTimeHeader, formatMillis(float64(time.Since(start).Microseconds())/1000))
		})
		next.ServeHTTP(rw, r)
		if !rw.wroteHeader {
			rw.WriteHeader(http.StatusOK)
		}
	})
}
