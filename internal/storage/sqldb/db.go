// Package sqldb opens the application's named SQL databases.
package sqldb

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/service-template/internal/storage/dialect"
)

// DB is an open database with its dialect and logical name.
type DB struct {
	*sqlx.DB
	Name    string
	Dialect dialect.Dialect
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Config holds database connection configuration
type Config struct {
	Name string // Logical name, e.g. "default"
	URL  string // sqlite:///path, postgres://..., mysql://...
	Pool PoolConfig
}

// Open connects to the database described by cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	d, dsn, err := dialect.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("database %s: %w", cfg.Name, err)
	}

	db, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	applyPool(db, d, cfg.Pool)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	return &DB{DB: db, Name: cfg.Name, Dialect: d}, nil
}

func applyPool(db *sqlx.DB, d dialect.Dialect, pool PoolConfig) {
	// SQLite serializes writers; one connection also keeps in-memory databases alive.
	if d.Name() == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
}

// Rebind converts ? placeholders to the database's format.
func (db *DB) Rebind(query string) string {
	return db.Dialect.Rebind(query)
}
