package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tjfontaine/service-template/internal/reqctx"
)

// RequestContextMiddleware attaches a fresh request context carrying the
// client address, method and path. The context is cleared when the request
// finishes.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := reqctx.New()
		rc.Update(map[string]any{
			reqctx.KeyClientIP: ClientIP(r),
			reqctx.KeyMethod:   r.Method,
			reqctx.KeyPath:     r.URL.Path,
		})
		defer rc.Clear()
		next.ServeHTTP(w, r.WithContext(reqctx.NewContext(r.Context(), rc)))
	})
}

// ClientIP returns the host part of RemoteAddr, which chi's RealIP replaces
// with the forwarded address when proxies are trusted.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

// AddLogField attaches a key/value to the request context so the request
// log emits it. No-op if the request context middleware isn't present.
func AddLogField(ctx context.Context, key string, value any) {
	if value == nil || value == "" {
		return
	}
	if rc := reqctx.FromContext(ctx); rc != nil {
		rc.Set(key, value)
	}
}

// AddError records err on the request log. No-op if err is nil.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}

// SetRoute records the module and summary of the matched route for the
// audit log.
func SetRoute(ctx context.Context, module, summary string) {
	AddLogField(ctx, "module", module)
	AddLogField(ctx, "summary", summary)
}

// SetUser records the authenticated user.
func SetUser(ctx context.Context, id int64, username string) {
	reqctx.SetUserID(ctx, id)
	AddLogField(ctx, reqctx.KeyUsername, username)
}

func formatMillis(ms float64) string {
	return fmt.Sprintf("%.2fms", ms)
}
