package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/service-template/internal/config"
)

// Route is one entry of a static route table.
type Route struct {
	Method  string
	Pattern string
	Summary string
	Handler http.HandlerFunc
}

// RouteGroup mounts routes under a common prefix. Module and each route's
// Summary are recorded on the request for the audit log. Request contexts of
// a Stream group are cancelled as soon as Shutdown begins.
type RouteGroup struct {
	Prefix      string
	Module      string
	Stream      bool
	Middlewares []func(http.Handler) http.Handler
	Routes      []Route
}

type Server struct {
	Router *chi.Mux
	Addr   string

	cfg        config.ServerConfig
	logger     *slog.Logger
	httpServer *http.Server
	handler    http.Handler

	// base is cancelled when Shutdown begins.
	base context.Context
	stop context.CancelFunc
}

type Option func(*Server)

// WithTelemetry wraps the handler with OpenTelemetry HTTP instrumentation.
func WithTelemetry(operation string) Option {
	return func(s *Server) {
		s.Router.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, operation)
		})
	}
}

// New creates a router with the pipeline's units applied in order.
func New(cfg config.ServerConfig, pipeline *Pipeline, logger *slog.Logger, opts ...Option) *Server {
	r := chi.NewRouter()
	s := &Server{
		Router: r,
		Addr:   cfg.Addr(),
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if pipeline != nil {
		r.Use(pipeline.Middlewares()...)
	}
	r.Use(middleware.CleanPath)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	s.handler = r
	s.base, s.stop = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Handler:     s.handler,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
	return s
}

// Register adds route groups to the router.
func (s *Server) Register(groups ...RouteGroup) {
	for _, g := range groups {
		g := g
		register := func(r chi.Router) {
			if g.Stream {
				r.Use(s.cancelOnShutdown)
			}
			for _, mw := range g.Middlewares {
				r.Use(mw)
			}
			for _, rt := range g.Routes {
				r.Method(rt.Method, rt.Pattern, routeHandler(g.Module, rt))
				s.logger.Debug("registered handler",
					slog.String("method", rt.Method),
					slog.String("path", joinPath(g.Prefix, rt.Pattern)))
			}
		}
		if g.Prefix == "" || g.Prefix == "/" {
			s.Router.Group(register)
		} else {
			s.Router.Route(g.Prefix, register)
		}
	}
}

// Mount attaches a sub-handler, such as the admin dashboard, under pattern.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.Router.Mount(pattern, h)
}

func (s *Server) cancelOnShutdown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(s.base, cancel)
		defer stop()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func routeHandler(module string, rt Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetRoute(r.Context(), module, rt.Summary)
		rt.Handler(w, r)
	})
}

func joinPath(prefix, pattern string) string {
	if prefix == "" || prefix == "/" {
		return pattern
	}
	if pattern == "/" {
		return prefix
	}
	return strings.TrimSuffix(prefix, "/") + pattern
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after a graceful shutdown,
// including when Shutdown ran before Serve.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends stream requests, then waits for the remaining requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.stop()
	return s.httpServer.Shutdown(ctx)
}
