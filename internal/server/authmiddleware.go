package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig configures AuthMiddleware.
type AuthConfig struct {
	Tokens []string
	// ExcludePaths skip the check. An entry matches the path itself and
	// anything below it.
	ExcludePaths []string
}

// AuthMiddleware validates API tokens.
// The token is read from the Authorization header, with or without the
// "Bearer " prefix. Requests without a valid token get a 401.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	tokens := make([][]byte, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, []byte(t))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pathExcluded(cfg.ExcludePaths, r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token == "" || !validToken(tokens, token) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteDetail(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			AddLogField(r.Context(), "auth", "token")
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken returns the Authorization header value without its "Bearer " prefix.
func BearerToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// ValidToken reports whether token equals one of tokens in constant time.
func ValidToken(tokens []string, token string) bool {
	b := make([][]byte, len(tokens))
	for i, t := range tokens {
		b[i] = []byte(t)
	}
	return validToken(b, token)
}

func validToken(tokens [][]byte, token string) bool {
	found := 0
	for _, t := range tokens {
		found |= subtle.ConstantTimeCompare(t, []byte(token))
	}
	return found == 1
}

func pathExcluded(excludes []string, path string) bool {
	for _, p := range excludes {
		if p == path {
			return true
		}
		if p != "/" && strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
