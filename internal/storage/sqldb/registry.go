package sqldb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultName is the logical name of the primary database.
const DefaultName = "default"

// ErrUnknownDatabase is returned by Get for names that were never opened.
var ErrUnknownDatabase = errors.New("unknown database")

// Registry holds every configured database by logical name.
type Registry struct {
	mu  sync.RWMutex
	dbs map[string]*DB
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{dbs: make(map[string]*DB)}
}

// OpenAll opens each name → URL entry. Already opened databases are closed
// when any of them fails.
func OpenAll(ctx context.Context, urls map[string]string, pool PoolConfig, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, name := range sortedKeys(urls) {
		db, err := Open(ctx, Config{Name: name, URL: urls[name], Pool: pool})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Add(db)
		logger.Info("database opened",
			slog.String("database", name),
			slog.String("dialect", db.Dialect.Name()))
	}
	return r, nil
}

// Add registers db under db.Name, replacing any previous entry.
func (r *Registry) Add(db *DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbs[db.Name] = db
}

func (r *Registry) Get(name string) (*DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.dbs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
	}
	return db, nil
}

// Default returns the database named "default".
func (r *Registry) Default() (*DB, error) {
	return r.Get(DefaultName)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.dbs)
}

// Ping checks every database and returns the error (or nil) per name.
func (r *Registry) Ping(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.dbs))
	for name, db := range r.dbs {
		out[name] = db.PingContext(ctx)
	}
	return out
}

// Close closes every database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(r.dbs, name)
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
