// Package migrations applies the embedded schema migrations with golang-migrate.
//
// Migrations live under sql/<dialect>/<database>/ so each logical database
// (default, analytics) carries its own version history.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

//go:embed sql
var files embed.FS

// ErrNoMigrations is returned when a database has no embedded migrations.
var ErrNoMigrations = errors.New("no migrations for database")

// Migrator runs migrations against one database.
type Migrator struct {
	m      *migrate.Migrate
	src    source.Driver
	name   string
	logger *slog.Logger
}

// Dir returns the embedded directory holding migrations for db.
func Dir(db *sqldb.DB) string {
	return path.Join("sql", db.Dialect.Name(), db.Name)
}

// Has reports whether migrations exist for db.
func Has(db *sqldb.DB) bool {
	entries, err := fs.ReadDir(files, Dir(db))
	return err == nil && len(entries) > 0
}

// New prepares a migrator bound to db. The caller keeps ownership of db.
func New(db *sqldb.DB, logger *slog.Logger) (*Migrator, error) {
	if !Has(db) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNoMigrations, db.Name, db.Dialect.Name())
	}

	src, err := iofs.New(files, Dir(db))
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	driver, err := databaseDriver(db)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.Dialect.MigrateDriver(), driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	m.Log = &migrateLogger{logger: logger.With(slog.String("database", db.Name))}

	return &Migrator{m: m, src: src, name: db.Name, logger: logger}, nil
}

func databaseDriver(db *sqldb.DB) (database.Driver, error) {
	switch db.Dialect.Name() {
	case "sqlite":
		return migratesqlite.WithInstance(db.DB.DB, &migratesqlite.Config{})
	case "postgres":
		return postgres.WithInstance(db.DB.DB, &postgres.Config{})
	case "mysql":
		return migratemysql.WithInstance(db.DB.DB, &migratemysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", db.Dialect.Name())
	}
}

// Up applies every pending migration. No pending migrations is not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up %s: %w", mg.name, err)
	}
	return nil
}

// Down rolls back the given number of migrations.
func (mg *Migrator) Down(steps int) error {
	if steps < 1 {
		return fmt.Errorf("invalid steps: %d", steps)
	}
	return mg.Steps(-steps)
}

// Steps applies n migrations forward (n > 0) or backward (n < 0).
func (mg *Migrator) Steps(n int) error {
	if err := mg.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate steps %s: %w", mg.name, err)
	}
	return nil
}

// Version returns the applied version. A database without any applied
// migration reports version 0.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force sets the version without running migrations, clearing the dirty flag.
func (mg *Migrator) Force(version int) error {
	return mg.m.Force(version)
}

// Close releases the migration source. The database stays open.
func (mg *Migrator) Close() error {
	return mg.src.Close()
}

// UpAll migrates every database in the registry that has migrations.
func UpAll(reg *sqldb.Registry, logger *slog.Logger) error {
	for _, name := range reg.Names() {
		db, err := reg.Get(name)
		if err != nil {
			return err
		}
		if !Has(db) {
			logger.Debug("no migrations for database", slog.String("database", name))
			continue
		}
		mg, err := New(db, logger)
		if err != nil {
			return err
		}
		if err := mg.Up(); err != nil {
			mg.Close()
			return err
		}
		v, _, _ := mg.Version()
		mg.Close()
		logger.Info("database migrated", slog.String("database", name), slog.Uint64("version", uint64(v)))
	}
	return nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool { return false }
