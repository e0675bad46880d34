package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tjfontaine/service-template/internal/server"
)

// healthCheckTimeout bounds each deep health probe.
const healthCheckTimeout = 5 * time.Second

func (h *Handlers) root(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to FastAPI Project Template",
		"version": h.version,
		"docs":    "/docs",
		"health":  "/health",
	})
}

// health reports liveness. With ?deep=true it also checks every database,
// the cache and the configured upstream URLs, answering 503 when any fails.
func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "healthy",
		"version": h.version,
		"service": h.service,
	}
	if deep, _ := strconv.ParseBool(r.URL.Query().Get("deep")); !deep {
		server.WriteJSON(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := h.runChecks(ctx)
	body["checks"] = checks
	status := http.StatusOK
	for _, c := range checks {
		if c["status"] != "healthy" {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			break
		}
	}
	server.WriteJSON(w, status, body)
}

func (h *Handlers) runChecks(ctx context.Context) map[string]map[string]any {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = map[string]map[string]any{}
	)
	set := func(name string, result map[string]any) {
		mu.Lock()
		checks[name] = result
		mu.Unlock()
	}

	if h.databases != nil {
		for name, err := range h.databases.Ping(ctx) {
			set("database:"+name, result(err))
		}
	}
	if h.cache != nil {
		set("cache", h.cache.Health(ctx))
	}
	if h.probe != nil {
		for _, u := range h.checkURLs {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				_, err := h.probe.Get(ctx, u, nil)
				set("url:"+u, result(err))
			}(u)
		}
	}
	wg.Wait()
	return checks
}

func result(err error) map[string]any {
	if err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}
	return map[string]any{"status": "healthy"}
}
