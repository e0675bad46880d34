package server

import (
	"encoding/json"
	"net/http"
)

// responseWriter records the status and size of a response and runs hooks
// right before the header is written.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
	flushed     bool
	beforeWrite []func(w http.ResponseWriter, status int)
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

// onHeader registers fn to run once, just before the header is sent.
func (rw *responseWriter) onHeader(fn func(w http.ResponseWriter, status int)) {
	rw.beforeWrite = append(rw.beforeWrite, fn)
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.status = code
	for _, fn := range rw.beforeWrite {
		fn(rw.ResponseWriter, code)
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// Flush forwards Flush to the underlying ResponseWriter if it supports
// http.Flusher, preserving streaming support (e.g., for SSE).
func (rw *responseWriter) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	rw.flushed = true
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDetail writes the {"detail": ...} error body.
func WriteDetail(w http.ResponseWriter, status int, detail any) {
	WriteJSON(w, status, map[string]any{"detail": detail})
}
