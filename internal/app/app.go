// Package app wires configuration, storage, caching and the HTTP surface
// into a runnable service and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/service-template/internal/admin"
	"github.com/tjfontaine/service-template/internal/cache"
	"github.com/tjfontaine/service-template/internal/config"
	"github.com/tjfontaine/service-template/internal/handlers"
	"github.com/tjfontaine/service-template/internal/httpclient"
	"github.com/tjfontaine/service-template/internal/mcp"
	"github.com/tjfontaine/service-template/internal/ratelimit"
	"github.com/tjfontaine/service-template/internal/server"
	"github.com/tjfontaine/service-template/internal/service"
	"github.com/tjfontaine/service-template/internal/storage/migrations"
	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

const redisPingTimeout = 2 * time.Second

// App is the assembled service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	dbs       *sqldb.Registry
	cache     *cache.Service
	rateStore ratelimit.Store
	probe     *httpclient.Client
	rdb       redis.UniversalClient

	users     *service.Users
	products  *service.Products
	auditLogs *service.AuditLogs
	mcp       *mcp.Server
	admin     *admin.Server
	server    *server.Server

	// closers are resources opened by New, released by Shutdown in reverse.
	closers []io.Closer
	cancel  context.CancelFunc

	mu   sync.Mutex
	ln   net.Listener
	errc chan error
}

// New builds the service from cfg. Databases, cache, rate-limit store and
// outbound client are created from configuration unless supplied as options.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: slog.Default(), errc: make(chan error, 1)}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.init(bg); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return err
	}
	if err := a.initRedis(ctx); err != nil {
		return err
	}
	a.initCache()
	a.initRateStore(ctx)
	if a.probe == nil {
		a.probe = httpclient.New(httpclient.FromConfig("", a.cfg.HTTPClient), httpclient.WithLogger(a.logger))
	}
	if err := a.initServices(); err != nil {
		return err
	}
	return a.initServer()
}

func databaseURLs(cfg *config.Config) map[string]string {
	urls := map[string]string{}
	for _, name := range config.DefaultDatabases {
		urls[name] = cfg.DatabaseURL(name)
	}
	for name := range cfg.Databases {
		urls[name] = cfg.DatabaseURL(name)
	}
	return urls
}

func (a *App) initDatabases(ctx context.Context) error {
	if a.dbs == nil {
		reg, err := sqldb.OpenAll(ctx, databaseURLs(a.cfg), sqldb.PoolConfig{
			MaxOpenConns:    a.cfg.Database.MaxOpenConns,
			MaxIdleConns:    a.cfg.Database.MaxIdleConns,
			ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open databases: %w", err)
		}
		a.dbs = reg
		a.closers = append(a.closers, reg)
	}
	if a.cfg.Database.AutoMigrate {
		if err := migrations.UpAll(a.dbs, a.logger); err != nil {
			return fmt.Errorf("failed to migrate databases: %w", err)
		}
	}
	return nil
}

// initRedis connects when Redis is enabled and something still needs it. An
// unreachable server is logged and the in-memory stores are used instead.
func (a *App) initRedis(ctx context.Context) error {
	wantRateStore := a.rateStore == nil && a.cfg.Middleware.RateLimitEnabled &&
		strings.EqualFold(a.cfg.Middleware.RateLimitBackend, "redis")
	if !a.cfg.Redis.Enabled || (a.cache != nil && !wantRateStore) {
		return nil
	}

	rdb, err := cache.NewRedisClient(a.cfg.Redis)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("redis unavailable, using in-memory stores",
			slog.String("addr", a.cfg.Redis.Addr()),
			slog.String("error", err.Error()))
		rdb.Close()
		return nil
	}
	a.rdb = rdb
	a.closers = append(a.closers, rdb)
	a.logger.Info("redis connected", slog.String("mode", a.cfg.Redis.Mode))
	return nil
}

func (a *App) initCache() {
	if a.cache != nil {
		return
	}
	var store cache.Store = cache.NewMemoryStore()
	if a.rdb != nil {
		store = cache.NewRedisStore(a.rdb, cache.WithPrefix(a.cfg.Redis.KeyPrefix))
	}
	a.cache = cache.NewService(store, a.cfg.Redis.DefaultTTL, a.logger)
}

func (a *App) initRateStore(ctx context.Context) {
	if a.rateStore != nil || !a.cfg.Middleware.RateLimitEnabled {
		return
	}
	if a.rdb != nil && strings.EqualFold(a.cfg.Middleware.RateLimitBackend, "redis") {
		a.rateStore = ratelimit.NewRedisStore(a.rdb, ratelimit.WithKeyPrefix(a.cfg.Redis.KeyPrefix))
		return
	}
	mem := ratelimit.NewMemoryStore()
	mem.StartJanitor(ctx)
	a.rateStore = mem
}

func (a *App) initServices() error {
	db, err := a.dbs.Default()
	if err != nil {
		return err
	}
	a.users = service.NewUsers(db, a.cache, a.cfg.Redis.DefaultTTL, a.logger)
	a.products = service.NewProducts(db, a.logger)

	if analytics, err := a.dbs.Get("analytics"); err == nil {
		a.auditLogs = service.NewAuditLogs(analytics, a.logger)
	} else if a.cfg.Middleware.AuditLogStore {
		return fmt.Errorf("audit log storage requires the analytics database: %w", err)
	}
	return nil
}

func (a *App) initServer() error {
	mw := a.cfg.Middleware
	deps := server.PipelineDeps{Logger: a.logger}

	if a.cfg.MCP.Enabled {
		a.mcp = mcp.New(a.cfg.MCP, mcp.WithLogger(a.logger))
		a.mcp.RegisterDefaults()
		deps.AuthSkip = append(deps.AuthSkip, a.mcp.Endpoint())
		deps.StreamPath = append(deps.StreamPath, a.mcp.Endpoint())
		a.logger.Info("MCP SSE server initialized",
			slog.String("endpoint", a.mcp.Endpoint()),
			slog.String("server_name", a.cfg.MCP.ServerName),
			slog.Bool("auth", a.cfg.MCP.RequireAuth),
			slog.Bool("tools", a.cfg.MCP.EnableTools),
			slog.Bool("resources", a.cfg.MCP.EnableResources),
			slog.Bool("prompts", a.cfg.MCP.EnablePrompts))
	} else {
		a.logger.Info("MCP SSE server is disabled")
	}

	if a.cfg.Admin.Enabled {
		adm, err := admin.New(a.cfg.Admin, admin.DefaultViews(a.users, a.products, a.auditLogs), admin.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.admin = adm
		deps.AuthSkip = append(deps.AuthSkip, adm.Path())
		mw.AuditLogExcludePaths = append(append([]string(nil), mw.AuditLogExcludePaths...), adm.LoginPath())
	}

	if mw.AuditLogStore {
		deps.AuditSinks = append(deps.AuditSinks, a.auditLogs)
	}
	if mw.RateLimitEnabled {
		deps.Limiter = ratelimit.NewLimiter(a.rateStore, mw.RateLimitPerMinute, mw.RateLimitPerHour,
			ratelimit.WithLogger(a.logger))
	}

	pipeline, err := server.BuildPipeline(mw, deps)
	if err != nil {
		return fmt.Errorf("failed to build middleware pipeline: %w", err)
	}
	a.logger.Debug("middleware pipeline", slog.Any("units", pipeline.Names()))

	var opts []server.Option
	if a.cfg.Telemetry.Enabled {
		opts = append(opts, server.WithTelemetry(a.cfg.Telemetry.ServiceName))
	}
	a.server = server.New(a.cfg.Server, pipeline, a.logger, opts...)

	h := handlers.New(handlers.Deps{
		Name:      a.cfg.App.Name,
		Version:   a.cfg.App.Version,
		Users:     a.users,
		Products:  a.products,
		Databases: a.dbs,
		Cache:     a.cache,
		Probe:     a.probe,
		CheckURLs: a.cfg.Health.CheckURLs,
		Logger:    a.logger,
	})
	a.server.Register(h.Routes()...)
	if a.mcp != nil {
		a.server.Register(a.mcp.Routes())
	}
	if a.admin != nil {
		a.server.Mount(a.admin.Path(), a.admin)
	}
	return nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Start listens on the configured address and serves in the background.
// Serve failures are reported on Err.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln != nil {
		return errors.New("app already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Addr(), err)
	}
	a.ln = ln

	go func() {
		if err := a.server.Serve(ln); err != nil {
			a.errc <- err
		}
	}()

	a.logger.Info("application started",
		slog.String("name", a.cfg.App.Name),
		slog.String("version", a.cfg.App.Version),
		slog.String("env", a.cfg.App.Env),
		slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Err receives a Serve failure.
func (a *App) Err() <-chan error {
	return a.errc
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// expires, then releases everything New opened.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down application")
	err := a.server.Shutdown(ctx)
	if err != nil {
		a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	// Serve may not have taken the listener yet.
	a.mu.Lock()
	if a.ln != nil {
		if cerr := a.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			a.logger.Error("failed to close listener", slog.String("error", cerr.Error()))
		}
	}
	a.mu.Unlock()
	a.release()
	a.logger.Info("application shutdown complete")
	return err
}

func (a *App) release() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close resource", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
