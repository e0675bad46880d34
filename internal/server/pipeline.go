package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tjfontaine/service-template/internal/config"
	"github.com/tjfontaine/service-template/internal/ratelimit"
)

// Unit is one named middleware in a Pipeline.
type Unit struct {
	Name string
	Wrap func(http.Handler) http.Handler
}

// Pipeline is an ordered middleware chain. The first unit is the outermost:
// it sees the request first and the response last.
type Pipeline struct {
	units []Unit
}

func NewPipeline(units ...Unit) *Pipeline {
	return &Pipeline{units: units}
}

// Use appends a unit, making it the innermost so far.
func (p *Pipeline) Use(name string, wrap func(http.Handler) http.Handler) *Pipeline {
	p.units = append(p.units, Unit{Name: name, Wrap: wrap})
	return p
}

// Names returns unit names, outermost first.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.units))
	for i, u := range p.units {
		names[i] = u.Name
	}
	return names
}

// Then wraps h with every unit.
func (p *Pipeline) Then(h http.Handler) http.Handler {
	for i := len(p.units) - 1; i >= 0; i-- {
		h = p.units[i].Wrap(h)
	}
	return h
}

// Middlewares returns the units as a slice suitable for chi's Use.
func (p *Pipeline) Middlewares() []func(http.Handler) http.Handler {
	mws := make([]func(http.Handler) http.Handler, len(p.units))
	for i, u := range p.units {
		mws[i] = u.Wrap
	}
	return mws
}

// PipelineDeps are the collaborators some units need.
type PipelineDeps struct {
	Logger     *slog.Logger
	Limiter    *ratelimit.Limiter // required when rate limiting is enabled
	AuditSinks []AuditSink        // LogAuditSink is always included
	AuthSkip   []string           // extra auth-exempt prefixes, e.g. admin and event stream
	StreamPath []string           // paths exempt from the request timeout
}

// BuildPipeline assembles the default chain from configuration:
// Recover, RequestContext, CORS, SecurityHeaders, RequestID, ProcessTime,
// RequestLogging, AuditLog, Auth, RateLimit, Compression, TrustedHost and
// Timeout. Disabled units are left out.
func BuildPipeline(cfg config.MiddlewareConfig, deps PipelineDeps) (*Pipeline, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := NewPipeline()
	p.Use("recover", RecoverMiddleware(logger))
	if cfg.RateLimitTrustProxy {
		p.Use("real_ip", middleware.RealIP)
	}
	p.Use("request_context", RequestContextMiddleware)

	if cfg.CORSEnabled {
		p.Use("cors", CORSMiddleware(CORSConfig{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   cfg.CORSMethods,
			AllowedHeaders:   cfg.CORSHeaders,
			AllowCredentials: cfg.CORSCredentials,
			MaxAge:           cfg.CORSMaxAge,
		}))
	}
	if cfg.SecurityHeadersEnabled {
		hsts := 0
		if cfg.SecurityHSTSEnabled {
			hsts = cfg.SecurityHSTSMaxAge
		}
		p.Use("security_headers", SecurityHeadersMiddleware(hsts))
	}
	if cfg.RequestIDEnabled {
		p.Use("request_id", RequestIDMiddleware)
	}
	if cfg.ProcessTimeEnabled {
		p.Use("process_time", ProcessTimeMiddleware)
	}
	if cfg.RequestLoggingEnabled {
		p.Use("request_logging", LoggingMiddleware(logger))
	}
	if cfg.AuditLogEnabled {
		sinks := append([]AuditSink{LogAuditSink{Logger: logger}}, deps.AuditSinks...)
		audit, err := NewAuditMiddleware(AuditConfig{
			Methods:      cfg.AuditLogMethods,
			ExcludePaths: cfg.AuditLogExcludePaths,
			MaxBodySize:  cfg.AuditLogMaxBodySize,
			Sinks:        sinks,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		p.Use("audit_log", audit)
	}
	if cfg.AuthEnabled {
		p.Use("auth", AuthMiddleware(AuthConfig{
			Tokens:       cfg.AuthTokens,
			ExcludePaths: append(append([]string(nil), cfg.AuthExcludePaths...), deps.AuthSkip...),
		}))
	}
	if cfg.RateLimitEnabled {
		if deps.Limiter == nil {
			return nil, fmt.Errorf("rate limiting enabled without a limiter")
		}
		p.Use("rate_limit", RateLimitMiddleware(deps.Limiter, cfg.RateLimitSkipPaths))
	}
	if cfg.GZipEnabled {
		p.Use("gzip", GZipMiddleware(cfg.GZipMinimumSize))
	}
	if cfg.TrustedHostEnabled {
		p.Use("trusted_host", TrustedHostMiddleware(cfg.TrustedHosts))
	}
	if cfg.Timeout > 0 {
		p.Use("timeout", TimeoutMiddleware(cfg.Timeout, deps.StreamPath...))
	}
	return p, nil
}
