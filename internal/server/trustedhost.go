package server

import (
	"net"
	"net/http"
	"strings"
)

// TrustedHostMiddleware rejects requests whose Host header is not allowed.
// Entries may be "*" or "*.example.com", which matches any subdomain.
func TrustedHostMiddleware(hosts []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed = append(allowed, h)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hostAllowed(allowed, requestHost(r)) {
				WriteDetail(w, http.StatusBadRequest, "Invalid host header")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func hostAllowed(allowed []string, host string) bool {
	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "*."):
			if strings.HasSuffix(host, pattern[1:]) {
				return true
			}
		case pattern == host:
			return true
		}
	}
	return false
}
