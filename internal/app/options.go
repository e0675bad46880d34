package app

import (
	"errors"
	"log/slog"

	"github.com/tjfontaine/service-template/internal/cache"
	"github.com/tjfontaine/service-template/internal/httpclient"
	"github.com/tjfontaine/service-template/internal/ratelimit"
	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

// Option configures an App. Collaborators supplied through options are
// owned by the caller and are not closed by Shutdown.
type Option func(*App) error

func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		a.logger = logger
		return nil
	}
}

// WithDatabases uses reg instead of opening the configured databases.
func WithDatabases(reg *sqldb.Registry) Option {
	return func(a *App) error {
		if reg == nil {
			return errors.New("database registry is nil")
		}
		a.dbs = reg
		return nil
	}
}

// WithCache uses c instead of building one from the Redis configuration.
func WithCache(c *cache.Service) Option {
	return func(a *App) error {
		a.cache = c
		return nil
	}
}

// WithRateLimitStore overrides MIDDLEWARE_RATE_LIMIT_BACKEND.
func WithRateLimitStore(s ratelimit.Store) Option {
	return func(a *App) error {
		a.rateStore = s
		return nil
	}
}

// WithHTTPClient sets the outbound client used by the deep health check.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(a *App) error {
		a.probe = c
		return nil
	}
}
