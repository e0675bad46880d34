package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/service-template/internal/reqctx"
)

// DefaultAuditMaxBodySize caps captured request and response bodies.
const DefaultAuditMaxBodySize = 1024 * 1024

var (
	auditTooLarge  = json.RawMessage(`{"code":0,"msg":"Response too large to log","data":null}`)
	auditStreaming = json.RawMessage(`{"message":"[Streaming Response]"}`)
)

// AuditEntry is one audited request.
type AuditEntry struct {
	RequestID    string          `json:"request_id"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	Module       string          `json:"module"`
	Summary      string          `json:"summary"`
	UserID       int64           `json:"user_id"`
	Username     string          `json:"username"`
	ClientIP     string          `json:"client_ip"`
	RequestArgs  map[string]any  `json:"request_args"`
	ResponseBody json.RawMessage `json:"response_body"`
	ResponseTime time.Duration   `json:"response_time"`
}

// AuditSink receives audit entries after the response has been sent.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// LogAuditSink writes entries to a logger.
type LogAuditSink struct {
	Logger *slog.Logger
}

func (s LogAuditSink) Record(ctx context.Context, e AuditEntry) error {
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.Int("status", e.Status),
		slog.String("module", e.Module),
		slog.String("summary", e.Summary),
		slog.Int64("user_id", e.UserID),
		slog.String("username", e.Username),
		slog.Any("request_args", e.RequestArgs),
		slog.String("response_body", string(e.ResponseBody)),
		slog.Int64("response_time_ms", e.ResponseTime.Milliseconds()),
	)
	return nil
}

type AuditConfig struct {
	Methods      []string
	ExcludePaths []string // regular expressions, matched case-insensitively anywhere in the path
	MaxBodySize  int
	Sinks        []AuditSink
	Logger       *slog.Logger
}

type auditor struct {
	methods map[string]bool
	exclude []*regexp.Regexp
	maxBody int
	sinks   []AuditSink
	logger  *slog.Logger
}

// NewAuditMiddleware records request arguments and response bodies for the
// configured methods on paths not matching any exclude pattern.
func NewAuditMiddleware(cfg AuditConfig) (func(http.Handler) http.Handler, error) {
	a := &auditor{
		methods: make(map[string]bool, len(cfg.Methods)),
		maxBody: cfg.MaxBodySize,
		sinks:   cfg.Sinks,
		logger:  cfg.Logger,
	}
	if a.maxBody <= 0 {
		a.maxBody = DefaultAuditMaxBodySize
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	for _, m := range cfg.Methods {
		a.methods[strings.ToUpper(m)] = true
	}
	for _, p := range cfg.ExcludePaths {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid audit exclude path %q: %w", p, err)
		}
		a.exclude = append(a.exclude, re)
	}
	return a.middleware, nil
}

func (a *auditor) audited(r *http.Request) bool {
	if !a.methods[r.Method] {
		return false
	}
	for _, re := range a.exclude {
		if re.MatchString(r.URL.Path) {
			return false
		}
	}
	return true
}

func (a *auditor) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.audited(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		args := a.requestArgs(r)
		rec := &auditRecorder{responseWriter: newResponseWriter(w), limit: a.maxBody}

		next.ServeHTTP(rec, r)

		ctx := r.Context()
		rc := reqctx.FromContext(ctx)
		entry := AuditEntry{
			RequestID:    GetRequestID(ctx),
			Method:       r.Method,
			Path:         r.URL.Path,
			Status:       rec.status,
			Module:       rc.String("module"),
			Summary:      rc.String("summary"),
			UserID:       reqctx.UserID(ctx),
			Username:     rc.String(reqctx.KeyUsername),
			ClientIP:     ClientIP(r),
			RequestArgs:  args,
			ResponseBody: rec.body(),
			ResponseTime: time.Since(start),
		}
		if entry.Summary == "" {
			if rctx := chi.RouteContext(ctx); rctx != nil {
				entry.Summary = rctx.RoutePattern()
			}
		}
		if entry.Module == "" {
			entry.Module = firstSegment(r.URL.Path)
		}

		for _, s := range a.sinks {
			if err := s.Record(context.WithoutCancel(ctx), entry); err != nil {
				a.logger.LogAttrs(ctx, slog.LevelWarn, "failed to record audit entry", slog.String("error", err.Error()))
			}
		}
	})
}

// requestArgs merges query parameters with a JSON or form body. The body is
// restored for the handler. Multipart bodies are skipped.
func (a *auditor) requestArgs(r *http.Request) map[string]any {
	args := map[string]any{}
	for k, v := range r.URL.Query() {
		args[k] = v[0]
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return args
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" || r.Body == nil {
		return args
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, int64(a.maxBody)+1))
	if err != nil {
		a.logger.LogAttrs(r.Context(), slog.LevelWarn, "failed to read request body", slog.String("error", err.Error()))
	}
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if len(buf) == 0 || len(buf) > a.maxBody {
		return args
	}

	var obj map[string]any
	if err := json.Unmarshal(buf, &obj); err == nil {
		for k, v := range obj {
			args[k] = v
		}
		return args
	}
	if form, err := url.ParseQuery(string(buf)); err == nil {
		for k, v := range form {
			args[k] = v[0]
		}
	}
	return args
}

type readCloser struct {
	io.Reader
	io.Closer
}

// auditRecorder tees up to limit bytes of the response.
type auditRecorder struct {
	*responseWriter
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (ar *auditRecorder) Write(b []byte) (int, error) {
	if !ar.overflow {
		if ar.buf.Len()+len(b) > ar.limit {
			ar.overflow = true
			ar.buf.Reset()
		} else {
			ar.buf.Write(b)
		}
	}
	return ar.responseWriter.Write(b)
}

func (ar *auditRecorder) body() json.RawMessage {
	h := ar.Header()
	ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
	if ct == "text/event-stream" || ar.flushed {
		return auditStreaming
	}
	if n, err := strconv.Atoi(h.Get("Content-Length")); err == nil && n > ar.limit {
		return auditTooLarge
	}
	if ar.overflow {
		return auditTooLarge
	}
	b := bytes.TrimSpace(ar.buf.Bytes())
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(b) {
		return json.RawMessage(append([]byte(nil), b...))
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func firstSegment(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
