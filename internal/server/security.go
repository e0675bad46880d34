package server

import (
	"net/http"
	"strconv"
)

// ContentSecurityPolicy is served on every route. It admits the API
// documentation assets and the dashboard's inline stylesheet.
const ContentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net; " +
	"style-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net https://fonts.googleapis.com; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"img-src 'self' data: https://cdn.jsdelivr.net; " +
	"worker-src 'self' blob:; " +
	"form-action 'self'"

// SecurityHeaders is the fixed header set added to every response.
var SecurityHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"X-XSS-Protection":        "1; mode=block",
	"Content-Security-Policy": ContentSecurityPolicy,
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
}

// SecurityHeadersMiddleware sets SecurityHeaders before the handler runs so
// they are present on every status, including short-circuits further in.
// hstsMaxAge > 0 adds Strict-Transport-Security.
func SecurityHeadersMiddleware(hstsMaxAge int) func(http.Handler) http.Handler {
	hsts := ""
	if hstsMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(hstsMaxAge) + "; includeSubDomains"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range SecurityHeaders {
				h.Set(k, v)
			}
			if hsts != "" {
				h.Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}
