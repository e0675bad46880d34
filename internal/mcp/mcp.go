// Package mcp serves Model Context Protocol discovery over server-sent
// events: a long-lived stream announcing the server and pinging the client,
// plus JSON listings of the registered tools, resources and prompts.
package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/service-template/internal/config"
	"github.com/tjfontaine/service-template/internal/server"
)

const (
	DefaultEndpoint        = "/mcp/sse"
	DefaultProtocolVersion = "2024-11-05"
	DefaultRetry           = 15000 // milliseconds
	DefaultPingInterval    = 30 * time.Second
)

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type Resource struct {
	URI         string  `json:"uri"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MimeType    *string `json:"mime_type"`
}

type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []map[string]any `json:"arguments"`
}

// ServerInfo is sent as the first event of every stream and by GET /info.
type ServerInfo struct {
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	ProtocolVersion string         `json:"protocol_version"`
	Capabilities    map[string]any `json:"capabilities"`
}

type Server struct {
	cfg          config.MCPConfig
	logger       *slog.Logger
	pingInterval time.Duration
	now          func() time.Time

	mu        sync.RWMutex
	tools     map[string]Tool
	resources map[string]Resource
	prompts   map[string]Prompt
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPingInterval overrides MCP_SSE_PING_INTERVAL.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

func withClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(cfg config.MCPConfig, opts ...Option) *Server {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = "/" + strings.Trim(cfg.Endpoint, "/")
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if cfg.SSERetry <= 0 {
		cfg.SSERetry = DefaultRetry
	}
	s := &Server{
		cfg:          cfg,
		logger:       slog.Default(),
		pingInterval: time.Duration(cfg.SSEPingInterval) * time.Second,
		now:          time.Now,
		tools:        map[string]Tool{},
		resources:    map[string]Resource{},
		prompts:      map[string]Prompt{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pingInterval <= 0 {
		s.pingInterval = DefaultPingInterval
	}
	return s
}

// Endpoint is the stream path; the listings live below it.
func (s *Server) Endpoint() string { return s.cfg.Endpoint }

func (s *Server) RegisterTool(t Tool) {
	s.mu.Lock()
	s.tools[t.Name] = t
	s.mu.Unlock()
	s.logger.Info("registered MCP tool", slog.String("name", t.Name))
}

func (s *Server) RegisterResource(r Resource) {
	s.mu.Lock()
	s.resources[r.URI] = r
	s.mu.Unlock()
	s.logger.Info("registered MCP resource", slog.String("uri", r.URI))
}

func (s *Server) RegisterPrompt(p Prompt) {
	s.mu.Lock()
	s.prompts[p.Name] = p
	s.mu.Unlock()
	s.logger.Info("registered MCP prompt", slog.String("name", p.Name))
}

// RegisterDefaults registers the example capabilities for every enabled kind.
func (s *Server) RegisterDefaults() {
	if s.cfg.EnableTools {
		s.RegisterTool(Tool{
			Name:        "get_user_info",
			Description: "Get information about a user by ID",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{
						"type":        "integer",
						"description": "The user ID to query",
					},
				},
				"required": []string{"user_id"},
			},
		})
	}
	if s.cfg.EnableResources {
		mime := "application/json"
		s.RegisterResource(Resource{
			URI:         "api://users/list",
			Name:        "Users List",
			Description: "List of all users in the system",
			MimeType:    &mime,
		})
	}
	if s.cfg.EnablePrompts {
		s.RegisterPrompt(Prompt{
			Name:        "summarize_user",
			Description: "Generate a summary of user information",
			Arguments: []map[string]any{
				{"name": "user_id", "description": "The user ID to summarize", "required": true},
			},
		})
	}
}

func (s *Server) Info() ServerInfo {
	caps := map[string]any{}
	if s.cfg.EnableTools {
		caps["tools"] = map[string]bool{"list": true, "call": true}
	}
	if s.cfg.EnableResources {
		caps["resources"] = map[string]bool{"list": true, "read": true}
	}
	if s.cfg.EnablePrompts {
		caps["prompts"] = map[string]bool{"list": true, "get": true}
	}
	return ServerInfo{
		Name:            s.cfg.ServerName,
		Version:         s.cfg.ServerVersion,
		ProtocolVersion: s.cfg.ProtocolVersion,
		Capabilities:    caps,
	}
}

func (s *Server) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.tools)
}

func (s *Server) Resources() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.resources)
}

func (s *Server) Prompts() []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.prompts)
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Routes returns the MCP route group mounted at the configured endpoint.
func (s *Server) Routes() server.RouteGroup {
	return server.RouteGroup{
		Prefix: s.cfg.Endpoint,
		Module: "mcp",
		Stream: true,
		Routes: []server.Route{
			{Method: http.MethodGet, Pattern: "/", Summary: "MCP SSE stream", Handler: s.stream},
			{Method: http.MethodGet, Pattern: "/info", Summary: "Get MCP server information", Handler: s.info},
			{Method: http.MethodGet, Pattern: "/tools", Summary: "List available MCP tools", Handler: s.listTools},
			{Method: http.MethodGet, Pattern: "/resources", Summary: "List available MCP resources", Handler: s.listResources},
			{Method: http.MethodGet, Pattern: "/prompts", Summary: "List available MCP prompts", Handler: s.listPrompts},
		},
	}
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, s.Info())
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"tools": s.Tools()})
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"resources": s.Resources()})
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"prompts": s.Prompts()})
}

// authorized accepts "Bearer <key>" or the bare key. Without a configured
// key any non-empty Authorization header passes.
func (s *Server) authorized(r *http.Request) bool {
	if !s.cfg.RequireAuth {
		return true
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return false
	}
	if s.cfg.APIKey == "" {
		return true
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return server.ValidToken([]string{s.cfg.APIKey}, token)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		server.WriteDetail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	ctx := r.Context()
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.logger.LogAttrs(ctx, slog.LevelInfo, "MCP SSE connection established",
		slog.String("client_ip", server.ClientIP(r)),
	)

	info, err := json.Marshal(s.Info())
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "MCP SSE error", slog.String("error", err.Error()))
		return
	}
	if err := writeEvent(w, "server_info", info, s.cfg.SSERetry); err != nil {
		return
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		ping, _ := json.Marshal(map[string]string{"timestamp": s.now().Format(time.RFC3339Nano)})
		if err := writeEvent(w, "ping", ping, 0); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelInfo, "MCP SSE client disconnected")
			return
		}
		if err := rc.Flush(); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "MCP SSE error", slog.String("error", err.Error()))
			return
		}
		select {
		case <-ctx.Done():
			s.logger.LogAttrs(ctx, slog.LevelInfo, "MCP SSE client disconnected")
			return
		case <-ticker.C:
		}
	}
}

// writeEvent writes one frame. A positive retry adds the reconnect delay.
func writeEvent(w io.Writer, event string, data []byte, retry int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", event)
	fmt.Fprintf(&b, "data: %s\n", data)
	if retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", retry)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
