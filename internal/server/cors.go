package server

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORSMiddleware. "*" in any list allows everything.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

var allMethods = "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT"

// CORSMiddleware answers preflight requests and reflects allowed origins on
// simple requests.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	anyOrigin := contains(cfg.AllowedOrigins, "*")
	anyHeader := contains(cfg.AllowedHeaders, "*")
	methods := allMethods
	if !contains(cfg.AllowedMethods, "*") {
		methods = strings.Join(cfg.AllowedMethods, ", ")
	}

	allowed := func(origin string) bool {
		return anyOrigin || contains(cfg.AllowedOrigins, origin)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				h.Add("Vary", "Origin")
				if !allowed(origin) {
					http.Error(w, "Disallowed CORS origin", http.StatusBadRequest)
					return
				}
				setAllowOrigin(h, origin, anyOrigin, cfg.AllowCredentials)
				h.Set("Access-Control-Allow-Methods", methods)
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					if anyHeader {
						h.Set("Access-Control-Allow-Headers", reqHeaders)
					} else {
						h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
					}
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed(origin) {
				setAllowOrigin(h, origin, anyOrigin, cfg.AllowCredentials)
				if !anyOrigin || cfg.AllowCredentials {
					h.Add("Vary", "Origin")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// setAllowOrigin reflects origin unless any origin is allowed without
// credentials, in which case "*" is sent.
func setAllowOrigin(h http.Header, origin string, anyOrigin, credentials bool) {
	if anyOrigin && !credentials {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
	}
	if credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
