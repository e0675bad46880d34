// Package dialect provides database dialect abstractions for multi-database support.
package dialect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name (e.g., "sqlite", "postgres", "mysql")
	Name() string

	// DriverName returns the database/sql driver name to use
	DriverName() string

	// MigrateDriver returns the golang-migrate database driver name
	MigrateDriver() string

	// Rebind converts ? placeholders to the dialect's format.
	// For example, PostgreSQL uses $1, $2, etc.
	Rebind(query string) string

	// SupportsReturning returns true if the dialect supports RETURNING clause
	SupportsReturning() bool

	// PragmaStatements returns dialect-specific initialization statements (e.g., PRAGMA for SQLite)
	PragmaStatements() []string

	// CurrentTimestamp returns the SQL expression for current timestamp
	CurrentTimestamp() string

	// IsUniqueViolation reports whether err is a unique/primary key conflict
	IsUniqueViolation(err error) bool
}

// DialectType represents supported database types
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
	MySQL    DialectType = "mysql"
)

// New creates a new Dialect based on the dialect type
func New(dialectType DialectType) (Dialect, error) {
	switch dialectType {
	case SQLite:
		return &sqliteDialect{}, nil
	case Postgres:
		return &postgresDialect{}, nil
	case MySQL:
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialectType)
	}
}

// FromDriverName returns the dialect for a given driver name
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "postgresql":
		return &postgresDialect{}, nil
	case "mysql":
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

// ParseURL splits a database URL into its dialect and a driver DSN.
//
//	sqlite:///./data/app.db           -> sqlite, ./data/app.db
//	sqlite:///:memory:                -> sqlite, :memory:
//	postgres://u:p@host:5432/db       -> postgres, unchanged URL
//	mysql://u:p@host:3306/db?x=y      -> mysql, u:p@tcp(host:3306)/db?x=y&parseTime=true
func ParseURL(raw string) (Dialect, string, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, "", fmt.Errorf("invalid database url %q: missing scheme", raw)
	}
	// sqlite+aiosqlite, postgresql+psycopg style suffixes carry no meaning here
	scheme, _, _ = strings.Cut(strings.ToLower(scheme), "+")

	d, err := FromDriverName(scheme)
	if err != nil {
		return nil, "", err
	}

	switch d.Name() {
	case "sqlite":
		// sqlite:///relative.db and sqlite:////abs/path.db
		dsn := strings.TrimPrefix(rest, "/")
		if dsn == "" {
			return nil, "", fmt.Errorf("invalid sqlite url %q: missing path", raw)
		}
		return d, dsn, nil
	case "postgres":
		return d, "postgres://" + rest, nil
	default:
		dsn, err := mysqlDSN(raw)
		if err != nil {
			return nil, "", err
		}
		return d, dsn, nil
	}
}

func mysqlDSN(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.User = u.User.Username()
	cfg.Passwd, _ = u.User.Password()
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if q := u.Query(); len(q) > 0 {
		cfg.Params = make(map[string]string, len(q))
		for k := range q {
			cfg.Params[k] = q.Get(k)
		}
	}
	return cfg.FormatDSN(), nil
}

// sqliteDialect implements Dialect for SQLite
type sqliteDialect struct{}

func (d *sqliteDialect) Name() string {
	return "sqlite"
}

func (d *sqliteDialect) DriverName() string {
	return "sqlite"
}

func (d *sqliteDialect) MigrateDriver() string {
	return "sqlite"
}

func (d *sqliteDialect) Rebind(query string) string {
	return query // SQLite uses ?
}

func (d *sqliteDialect) SupportsReturning() bool {
	return true // SQLite 3.35+ supports RETURNING
}

func (d *sqliteDialect) CurrentTimestamp() string {
	return "CURRENT_TIMESTAMP"
}

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
}

func (d *sqliteDialect) IsUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

// postgresDialect implements Dialect for PostgreSQL
type postgresDialect struct{}

func (d *postgresDialect) Name() string {
	return "postgres"
}

func (d *postgresDialect) DriverName() string {
	return "postgres"
}

func (d *postgresDialect) MigrateDriver() string {
	return "postgres"
}

func (d *postgresDialect) Rebind(query string) string {
	// Convert ? placeholders to $1, $2, etc.
	var result strings.Builder
	idx := 1
	for _, ch := range query {
		if ch == '?' {
			result.WriteString(fmt.Sprintf("$%d", idx))
			idx++
		} else {
			result.WriteRune(ch)
		}
	}
	return result.String()
}

func (d *postgresDialect) SupportsReturning() bool {
	return true
}

func (d *postgresDialect) CurrentTimestamp() string {
	return "NOW()"
}

func (d *postgresDialect) PragmaStatements() []string {
	return nil // PostgreSQL doesn't use pragmas
}

func (d *postgresDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// mysqlDialect implements Dialect for MySQL
type mysqlDialect struct{}

func (d *mysqlDialect) Name() string {
	return "mysql"
}

func (d *mysqlDialect) DriverName() string {
	return "mysql"
}

func (d *mysqlDialect) MigrateDriver() string {
	return "mysql"
}

func (d *mysqlDialect) Rebind(query string) string {
	return query // MySQL uses ?
}

func (d *mysqlDialect) SupportsReturning() bool {
	return false // MySQL doesn't support RETURNING
}

func (d *mysqlDialect) CurrentTimestamp() string {
	return "CURRENT_TIMESTAMP(6)"
}

func (d *mysqlDialect) PragmaStatements() []string {
	return nil
}

func (d *mysqlDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
