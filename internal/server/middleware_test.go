package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/service-template/internal/ratelimit"
	"github.com/tjfontaine/service-template/internal/reqctx"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checkHeader(t *testing.T, rec *httptest.ResponseRecorder, key, want string) {
	t.Helper()
	if got := rec.Header().Get(key); got != want {
		t.Errorf("header %s = %q, want %q", key, got, want)
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body.Detail
}

// =============================================================================
// RequestIDMiddleware Tests
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestContextMiddleware(RequestIDMiddleware(handler))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	requestID := rec.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(requestID); err != nil {
		t.Errorf("X-Request-ID = %q, want a UUID", requestID)
	}
	if seen != requestID {
		t.Errorf("context request ID = %q, want %q", seen, requestID)
	}
}

func TestRequestIDMiddleware_EchoesInbound(t *testing.T) {
	var fromReqctx string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromReqctx = reqctx.RequestID(r.Context())
	})
	wrapped := RequestContextMiddleware(RequestIDMiddleware(handler))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	checkHeader(t, rec, RequestIDHeader, "abc-123")
	if fromReqctx != "abc-123" {
		t.Errorf("reqctx.RequestID() = %q, want %q", fromReqctx, "abc-123")
	}
}

func TestRequestIDMiddleware_UniqueIDs(t *testing.T) {
	wrapped := RequestIDMiddleware(http.HandlerFunc(okHandler))

	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, httptest.NewRequest("GET", "/", nil))
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))

	id1 := rec1.Header().Get(RequestIDHeader)
	id2 := rec2.Header().Get(RequestIDHeader)
	if id1 == id2 {
		t.Errorf("Expected unique request IDs, got same: %s", id1)
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

// =============================================================================
// RequestContextMiddleware Tests
// =============================================================================

func TestRequestContextMiddleware(t *testing.T) {
	var rc *reqctx.Context
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc = reqctx.FromContext(r.Context())
		if got := rc.String(reqctx.KeyClientIP); got != "192.0.2.1" {
			t.Errorf("client_ip = %q, want %q", got, "192.0.2.1")
		}
		if got := rc.String(reqctx.KeyPath); got != "/items" {
			t.Errorf("path = %q, want %q", got, "/items")
		}
		AddLogField(r.Context(), "custom", "value")
	})

	req := httptest.NewRequest("GET", "/items", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	RequestContextMiddleware(handler).ServeHTTP(httptest.NewRecorder(), req)

	if rc == nil {
		t.Fatal("handler saw no request context")
	}
	if n := rc.Len(); n != 0 {
		t.Errorf("request context has %d keys after the request, want 0", n)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:80", "2001:db8::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.remote
		if got := ClientIP(r); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

// =============================================================================
// ProcessTimeMiddleware Tests
// =============================================================================

func TestProcessTimeMiddleware(t *testing.T) {
	pattern := regexp.MustCompile(`^\d+\.\d{2}ms$`)
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"writes body", okHandler},
		{"writes nothing", func(w http.ResponseWriter, r *http.Request) {}},
		{"error status", func(w http.ResponseWriter, r *http.Request) { WriteDetail(w, http.StatusNotFound, "Not Found") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ProcessTimeMiddleware(tt.handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
			if got := rec.Header().Get(ProcessTimeHeader); !pattern.MatchString(got) {
				t.Errorf("X-Process-Time = %q, want NN.NNms", got)
			}
		})
	}
}

// =============================================================================
// SecurityHeadersMiddleware Tests
// =============================================================================

func TestSecurityHeaders_IdenticalAcrossStatuses(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			WriteDetail(w, http.StatusNotFound, "Not Found")
		case "/boom":
			panic("boom")
		case "/denied":
			WriteDetail(w, http.StatusUnauthorized, "Unauthorized")
		default:
			okHandler(w, r)
		}
	})
	wrapped := NewPipeline(
		Unit{"recover", RecoverMiddleware(discardLogger())},
		Unit{"security_headers", SecurityHeadersMiddleware(0)},
	).Then(handler)

	var first http.Header
	for _, path := range []string{"/", "/missing", "/boom", "/denied"} {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

		got := http.Header{}
		for k := range SecurityHeaders {
			got.Set(k, rec.Header().Get(k))
			if rec.Header().Get(k) == "" {
				t.Errorf("%s: missing %s", path, k)
			}
		}
		if first == nil {
			first = got
			continue
		}
		for k := range SecurityHeaders {
			if got.Get(k) != first.Get(k) {
				t.Errorf("%s: %s = %q, want %q", path, k, got.Get(k), first.Get(k))
			}
		}
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(3600)(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	checkHeader(t, rec, "Strict-Transport-Security", "max-age=3600; includeSubDomains")

	rec = httptest.NewRecorder()
	SecurityHeadersMiddleware(0)(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	checkHeader(t, rec, "Strict-Transport-Security", "")
}

// =============================================================================
// CORSMiddleware Tests
// =============================================================================

func TestCORSMiddleware(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"*"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           600,
	}
	wrapped := CORSMiddleware(cfg)(http.HandlerFunc(okHandler))

	t.Run("preflight allowed", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/user/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "X-Custom")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}
		checkHeader(t, rec, "Access-Control-Allow-Origin", "http://localhost:3000")
		checkHeader(t, rec, "Access-Control-Allow-Credentials", "true")
		checkHeader(t, rec, "Access-Control-Allow-Headers", "X-Custom")
		checkHeader(t, rec, "Access-Control-Max-Age", "600")
	})

	t.Run("preflight disallowed", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/user/", nil)
		req.Header.Set("Origin", "http://evil.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		checkHeader(t, rec, "Access-Control-Allow-Origin", "http://localhost:3000")
		checkHeader(t, rec, "Vary", "Origin")
	})

	t.Run("unknown origin passes without CORS headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		checkHeader(t, rec, "Access-Control-Allow-Origin", "")
	})
}

// =============================================================================
// LoggingMiddleware Tests
// =============================================================================

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "user_count", 3)
		w.WriteHeader(http.StatusCreated)
	})
	wrapped := RequestContextMiddleware(RequestIDMiddleware(LoggingMiddleware(logger)(handler)))

	req := httptest.NewRequest("POST", "/user/?page=2", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req.Header.Set("User-Agent", "test-agent")
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2: %s", len(lines), buf.String())
	}
	if msg := lines[0]["msg"]; msg != "Request started: POST /user/" {
		t.Errorf("first msg = %v, want %q", msg, "Request started: POST /user/")
	}
	if ua := lines[0]["user_agent"]; ua != "test-agent" {
		t.Errorf("user_agent = %v, want %q", ua, "test-agent")
	}

	done := lines[1]
	if msg, _ := done["msg"].(string); !strings.HasPrefix(msg, "Request completed: POST /user/ - 201 (") {
		t.Errorf("completion msg = %q", msg)
	}
	if done["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want %q", done["request_id"], "req-1")
	}
	if done["status_code"] != float64(201) {
		t.Errorf("status_code = %v, want 201", done["status_code"])
	}
	if done["user_count"] != float64(3) {
		t.Errorf("user_count = %v, want 3", done["user_count"])
	}
	if done["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", done["level"])
	}
}

func TestLoggingMiddleware_ServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	LoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	lines := logLines(t, &buf)
	if got := lines[len(lines)-1]["level"]; got != "ERROR" {
		t.Errorf("level = %v, want ERROR", got)
	}
}

func TestLoggingMiddleware_Panic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("database exploded")
	})
	wrapped := RecoverMiddleware(logger)(RequestContextMiddleware(LoggingMiddleware(logger)(handler)))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/user/1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if got := decodeDetail(t, rec); got != "Internal Server Error" {
		t.Errorf("detail = %q, want %q", got, "Internal Server Error")
	}

	lines := logLines(t, &buf)
	var exceptions int
	for _, l := range lines {
		msg, _ := l["msg"].(string)
		if strings.HasPrefix(msg, "Request processing exception: GET /user/1 - database exploded") {
			exceptions++
			if tb, _ := l["traceback"].(string); !strings.Contains(tb, "goroutine") {
				t.Errorf("traceback = %q, want a stack", tb)
			}
			if l["exception_occurred"] != true {
				t.Errorf("exception_occurred = %v, want true", l["exception_occurred"])
			}
		}
		if msg == "panic recovered" {
			t.Error("panic logged twice")
		}
	}
	if exceptions != 1 {
		t.Errorf("exception logged %d times, want 1", exceptions)
	}
}

// =============================================================================
// RecoverMiddleware Tests
// =============================================================================

func TestRecoverMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	})
	rec := httptest.NewRecorder()
	RecoverMiddleware(logger)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("log = %q, want a panic record", buf.String())
	}
}

func TestRecoverMiddleware_AfterHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	})
	rec := httptest.NewRecorder()
	RecoverMiddleware(discardLogger())(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

// =============================================================================
// AuditMiddleware Tests
// =============================================================================

type recordingSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *recordingSink) Record(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) all() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.entries...)
}

func newAudit(t *testing.T, sink AuditSink, maxBody int) func(http.Handler) http.Handler {
	t.Helper()
	mw, err := NewAuditMiddleware(AuditConfig{
		Methods:      []string{"POST", "PUT", "DELETE", "PATCH"},
		ExcludePaths: []string{"/health", "/docs"},
		MaxBodySize:  maxBody,
		Sinks:        []AuditSink{sink},
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewAuditMiddleware() error = %v", err)
	}
	return mw
}

func TestAuditMiddleware_RecordsRequest(t *testing.T) {
	sink := &recordingSink{}
	var handlerBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		handlerBody = string(b)
		SetRoute(r.Context(), "user", "Create user")
		SetUser(r.Context(), 7, "alice")
		WriteJSON(w, http.StatusCreated, map[string]any{"id": 1})
	})
	wrapped := RequestContextMiddleware(RequestIDMiddleware(newAudit(t, sink, 0)(handler)))

	req := httptest.NewRequest("POST", "/user/?source=web", strings.NewReader(`{"name":"Alice"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, "audit-1")
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	if handlerBody != `{"name":"Alice"}` {
		t.Errorf("handler body = %q, want the original body", handlerBody)
	}
	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	e := entries[0]
	if e.RequestID != "audit-1" || e.Method != "POST" || e.Path != "/user/" || e.Status != http.StatusCreated {
		t.Errorf("entry = %+v", e)
	}
	if e.Module != "user" || e.Summary != "Create user" {
		t.Errorf("module/summary = %q/%q, want user/Create user", e.Module, e.Summary)
	}
	if e.UserID != 7 || e.Username != "alice" {
		t.Errorf("user = %d/%q, want 7/alice", e.UserID, e.Username)
	}
	if e.RequestArgs["name"] != "Alice" || e.RequestArgs["source"] != "web" {
		t.Errorf("RequestArgs = %v", e.RequestArgs)
	}
	if string(e.ResponseBody) != `{"id":1}` {
		t.Errorf("ResponseBody = %s, want {\"id\":1}", e.ResponseBody)
	}
}

func TestAuditMiddleware_Defaults(t *testing.T) {
	sink := &recordingSink{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest("DELETE", "/product/3", nil)
	newAudit(t, sink, 0)(handler).ServeHTTP(httptest.NewRecorder(), req)

	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	e := entries[0]
	if e.UserID != 0 || e.Username != "" {
		t.Errorf("user = %d/%q, want 0/\"\"", e.UserID, e.Username)
	}
	if e.Module != "product" {
		t.Errorf("Module = %q, want product", e.Module)
	}
	if string(e.ResponseBody) != "null" {
		t.Errorf("ResponseBody = %s, want null", e.ResponseBody)
	}
}

func TestAuditMiddleware_Skips(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"method not audited", "GET", "/user/"},
		{"excluded path", "POST", "/health"},
		{"excluded case-insensitive", "POST", "/DOCS/extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			newAudit(t, sink, 0)(http.HandlerFunc(okHandler)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))
			if n := len(sink.all()); n != 0 {
				t.Errorf("got %d audit entries, want 0", n)
			}
		})
	}
}

func TestAuditMiddleware_ResponsePlaceholders(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    json.RawMessage
	}{
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				WriteJSON(w, http.StatusOK, map[string]string{"data": strings.Repeat("x", 100)})
			},
			want: auditTooLarge,
		},
		{
			name: "streaming",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				io.WriteString(w, "data: 1\n\n")
				w.(http.Flusher).Flush()
			},
			want: auditStreaming,
		},
		{
			name: "plain text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "done")
			},
			want: json.RawMessage(`"done"`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			newAudit(t, sink, 64)(tt.handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/user/", nil))
			entries := sink.all()
			if len(entries) != 1 {
				t.Fatalf("got %d audit entries, want 1", len(entries))
			}
			if string(entries[0].ResponseBody) != string(tt.want) {
				t.Errorf("ResponseBody = %s, want %s", entries[0].ResponseBody, tt.want)
			}
		})
	}
}

func TestAuditMiddleware_FormBody(t *testing.T) {
	sink := &recordingSink{}
	req := httptest.NewRequest("PUT", "/user/1", strings.NewReader("name=Bob&nick_name=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	newAudit(t, sink, 0)(http.HandlerFunc(okHandler)).ServeHTTP(httptest.NewRecorder(), req)

	args := sink.all()[0].RequestArgs
	if args["name"] != "Bob" || args["nick_name"] != "b" {
		t.Errorf("RequestArgs = %v", args)
	}
}

func TestNewAuditMiddleware_InvalidPattern(t *testing.T) {
	if _, err := NewAuditMiddleware(AuditConfig{ExcludePaths: []string{"("}}); err == nil {
		t.Error("NewAuditMiddleware() error = nil, want error for invalid pattern")
	}
}

// =============================================================================
// RateLimitMiddleware Tests
// =============================================================================

func TestRateLimitMiddleware_MinuteThreshold(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 3, 100, ratelimit.WithLogger(discardLogger()))
	wrapped := RateLimitMiddleware(limiter, []string{"/health"})(http.HandlerFunc(okHandler))

	for i, want := range []string{"2", "1", "0"} {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/user/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
		checkHeader(t, rec, "X-RateLimit-Limit-Minute", "3")
		checkHeader(t, rec, "X-RateLimit-Remaining-Minute", want)
		checkHeader(t, rec, "X-RateLimit-Limit-Hour", "100")
	}

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/user/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	checkHeader(t, rec, "X-RateLimit-Remaining-Minute", "0")
	checkHeader(t, rec, "X-RateLimit-Limit", "3")
	checkHeader(t, rec, "X-RateLimit-Remaining", "0")
	if rec.Header().Get("X-RateLimit-Reset") == "" || rec.Header().Get("Retry-After") == "" {
		t.Error("expected X-RateLimit-Reset and Retry-After on 429")
	}
	if got := decodeDetail(t, rec); got != "Rate limit exceeded. Too many requests per minute." {
		t.Errorf("detail = %q", got)
	}

	// Skipped paths are never limited.
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_HourThreshold(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 10, 2, ratelimit.WithLogger(discardLogger()))
	wrapped := RateLimitMiddleware(limiter, nil)(http.HandlerFunc(okHandler))

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	checkHeader(t, rec, "X-RateLimit-Remaining-Hour", "0")
	if got := decodeDetail(t, rec); got != "Rate limit exceeded. Too many requests per hour." {
		t.Errorf("detail = %q", got)
	}
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 1, 100, ratelimit.WithLogger(discardLogger()))
	wrapped := RateLimitMiddleware(limiter, nil)(http.HandlerFunc(okHandler))

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", addr, rec.Code, http.StatusOK)
		}
	}
}

func TestGetRateLimits(t *testing.T) {
	if rl := GetRateLimits(context.Background()); rl != nil {
		t.Errorf("GetRateLimits() = %+v, want nil", rl)
	}
	ctx := SetRateLimits(context.Background(), &RateLimitInfo{LimitMinute: 60})
	if rl := GetRateLimits(ctx); rl == nil || rl.LimitMinute != 60 {
		t.Errorf("GetRateLimits() = %+v, want LimitMinute 60", rl)
	}
}

// =============================================================================
// GZipMiddleware Tests
// =============================================================================

func TestGZipMiddleware(t *testing.T) {
	large := strings.Repeat("abcdefghij", 200)
	tests := []struct {
		name     string
		accept   string
		handler  http.HandlerFunc
		wantGZip bool
		wantBody string
	}{
		{
			name:   "large body compressed",
			accept: "gzip, deflate",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, large)
			},
			wantGZip: true,
			wantBody: large,
		},
		{
			name:   "small body passes through",
			accept: "gzip",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "tiny")
			},
			wantBody: "tiny",
		},
		{
			name:   "client without gzip",
			accept: "",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, large)
			},
			wantBody: large,
		},
		{
			name:   "event stream untouched",
			accept: "gzip",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				io.WriteString(w, large)
			},
			wantBody: large,
		},
		{
			name:   "already encoded",
			accept: "gzip",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", "br")
				io.WriteString(w, large)
			},
			wantBody: large,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Encoding", tt.accept)
			}
			rec := httptest.NewRecorder()
			GZipMiddleware(1000)(tt.handler).ServeHTTP(rec, req)

			body := rec.Body.String()
			if tt.wantGZip {
				checkHeader(t, rec, "Content-Encoding", "gzip")
				zr, err := gzip.NewReader(rec.Body)
				if err != nil {
					t.Fatalf("gzip.NewReader() error = %v", err)
				}
				b, err := io.ReadAll(zr)
				if err != nil {
					t.Fatalf("read gzip body: %v", err)
				}
				body = string(b)
			} else if rec.Header().Get("Content-Encoding") == "gzip" {
				t.Error("response unexpectedly gzip encoded")
			}
			if body != tt.wantBody {
				t.Errorf("body length = %d, want %d", len(body), len(tt.wantBody))
			}
		})
	}
}

func TestGZipMiddleware_StatusPreserved(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	GZipMiddleware(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteDetail(w, http.StatusNotFound, "User with ID 1 not found")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	checkHeader(t, rec, "Content-Encoding", "gzip")
}

// =============================================================================
// TrustedHostMiddleware Tests
// =============================================================================

func TestTrustedHostMiddleware(t *testing.T) {
	wrapped := TrustedHostMiddleware([]string{"localhost", "127.0.0.1", "*.example.com"})(http.HandlerFunc(okHandler))
	tests := []struct {
		host string
		want int
	}{
		{"localhost:8000", http.StatusOK},
		{"127.0.0.1", http.StatusOK},
		{"api.example.com", http.StatusOK},
		{"example.com", http.StatusBadRequest},
		{"evil.test", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusBadRequest {
				if got := decodeDetail(t, rec); got != "Invalid host header" {
					t.Errorf("detail = %q, want %q", got, "Invalid host header")
				}
			}
		})
	}
}

func TestTrustedHostMiddleware_Wildcard(t *testing.T) {
	wrapped := TrustedHostMiddleware([]string{"*"})(http.HandlerFunc(okHandler))
	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "anything.test"
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware(t *testing.T) {
	wrapped := AuthMiddleware(AuthConfig{
		Tokens:       []string{"valid-key-123"},
		ExcludePaths: []string{"/health", "/admin"},
	})(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"bearer token", "/user/", "Bearer valid-key-123", http.StatusOK},
		{"bare token", "/user/", "valid-key-123", http.StatusOK},
		{"missing header", "/user/", "", http.StatusUnauthorized},
		{"invalid token", "/user/", "Bearer wrong", http.StatusUnauthorized},
		{"excluded path", "/health", "", http.StatusOK},
		{"excluded prefix", "/admin/users", "", http.StatusOK},
		{"prefix lookalike", "/administrator", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if got := decodeDetail(t, rec); got != "Unauthorized" {
					t.Errorf("detail = %q, want %q", got, "Unauthorized")
				}
			}
		})
	}
}

func TestValidToken(t *testing.T) {
	if !ValidToken([]string{"a", "b"}, "b") {
		t.Error("ValidToken(b) = false, want true")
	}
	if ValidToken([]string{"a"}, "") {
		t.Error("ValidToken(\"\") = true, want false")
	}
}

// =============================================================================
// TimeoutMiddleware Tests
// =============================================================================

func TestTimeoutMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok {
			t.Error("Expected context to have deadline")
		}
		if deadline.IsZero() {
			t.Error("Expected non-zero deadline")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(30*time.Second)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestTimeoutMiddleware_ContextCancelled(t *testing.T) {
	contextCancelled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			contextCancelled = true
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})

	TimeoutMiddleware(10*time.Millisecond)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !contextCancelled {
		t.Error("Expected context to be cancelled due to timeout")
	}
}

func TestTimeoutMiddleware_SkipPaths(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("stream path should not have a deadline")
		}
	})
	TimeoutMiddleware(time.Second, "/mcp/sse")(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/mcp/sse", nil))
}

// =============================================================================
// responseWriter Tests
// =============================================================================

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	rw.Flush()

	if !rec.Flushed {
		t.Error("Expected underlying recorder to be flushed")
	}
	if !rw.flushed || rw.status != http.StatusOK {
		t.Errorf("flushed = %v status = %d, want true 200", rw.flushed, rw.status)
	}
}

func TestResponseWriter_HooksRunOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	calls := 0
	rw.onHeader(func(w http.ResponseWriter, status int) { calls++ })
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("x"))

	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}
