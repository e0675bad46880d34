package server

import (
	"bytes"
	"compress/gzip"
	"mime"
	"net/http"
	"strings"
	"sync"
)

// DefaultGZipMinimumSize is the smallest body that gets compressed.
const DefaultGZipMinimumSize = 1000

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// GZipMiddleware compresses responses of at least minSize bytes for clients
// that accept gzip. Smaller bodies, already-encoded responses and event
// streams are passed through unchanged.
func GZipMiddleware(minSize int) func(http.Handler) http.Handler {
	if minSize <= 0 {
		minSize = DefaultGZipMinimumSize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !acceptsGZip(r) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Accept-Encoding")
			gw := &gzipResponseWriter{ResponseWriter: w, minSize: minSize, status: http.StatusOK}
			defer gw.Close()
			next.ServeHTTP(gw, r)
		})
	}
}

func acceptsGZip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return strings.ReplaceAll(params, " ", "") != "q=0"
		}
	}
	return false
}

// gzipResponseWriter buffers the body until minSize is reached, then decides
// whether to compress.
type gzipResponseWriter struct {
	http.ResponseWriter
	minSize     int
	status      int
	headerSet   bool
	decided     bool
	passthrough bool
	buf         bytes.Buffer
	gz          *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if w.headerSet {
		return
	}
	w.headerSet = true
	w.status = code
	h := w.Header()
	if code < http.StatusOK || code == http.StatusNoContent || code == http.StatusNotModified ||
		h.Get("Content-Encoding") != "" || isEventStream(h) {
		w.start(false)
	}
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.headerSet {
		w.WriteHeader(http.StatusOK)
	}
	if w.decided {
		if w.passthrough {
			return w.ResponseWriter.Write(b)
		}
		return w.gz.Write(b)
	}
	w.buf.Write(b)
	if w.buf.Len() >= w.minSize {
		if err := w.start(true); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// start commits the header and flushes anything buffered.
func (w *gzipResponseWriter) start(compress bool) error {
	w.decided = true
	w.passthrough = !compress
	if compress {
		h := w.Header()
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		w.gz = gzipWriters.Get().(*gzip.Writer)
		w.gz.Reset(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(w.status)
	if w.buf.Len() == 0 {
		return nil
	}
	var err error
	if compress {
		_, err = w.gz.Write(w.buf.Bytes())
	} else {
		_, err = w.ResponseWriter.Write(w.buf.Bytes())
	}
	w.buf.Reset()
	return err
}

// Flush forces a decision. Streaming before minSize is reached disables
// compression.
func (w *gzipResponseWriter) Flush() {
	if !w.headerSet {
		w.WriteHeader(http.StatusOK)
	}
	if !w.decided {
		w.start(false)
	}
	if w.gz != nil {
		w.gz.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *gzipResponseWriter) Close() {
	if !w.headerSet && w.buf.Len() == 0 {
		// Nothing was written; let the outer writers produce the default 200.
		return
	}
	if !w.decided {
		w.start(false)
	}
	if w.gz != nil {
		w.gz.Close()
		gzipWriters.Put(w.gz)
		w.gz = nil
	}
}

func (w *gzipResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func isEventStream(h http.Header) bool {
	ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
	return ct == "text/event-stream"
}
