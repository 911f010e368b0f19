package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/pkg/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

// Dialect identifies the SQL dialect of an open database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DB wraps *sql.DB with the dialect it was opened with, so store code can
// write SQL once using '?' placeholders and rebind it for PostgreSQL.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Dialect returns the dialect the database was opened with.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Rebind rewrites '?' placeholders to '$1'..'$n' for PostgreSQL. SQLite
// queries pass through unchanged. Queries must not contain literal '?'
// characters outside of placeholders.
func (d *DB) Rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}

	return b.String()
}

// NewSQLiteDB opens a SQLite database at the given path with the engine's
// standard connection options. Used by tests and the migrations CLI.
func NewSQLiteDB(dbPath string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=on&_journal_mode=WAL&_busy_timeout=30000",
		dbPath,
	))
	if err != nil {
		return nil, err
	}

	return &DB{DB: sqlDB, dialect: DialectSQLite}, nil
}

// NewFromConfig opens the database described by the configuration. SQLite
// connections receive the configured pragmas; PostgreSQL connections go
// through the pgx stdlib driver.
func NewFromConfig(cfg config.DatabaseConfig) (*DB, error) {
	switch common.ToLowerWithTrim(cfg.Driver) {
	case config.DriverSQLite, "":
		return newSQLite(cfg)
	case config.DriverPostgres:
		return newPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func newSQLite(cfg config.DatabaseConfig) (*DB, error) {
	foreignKeys := "off"
	if cfg.EnableForeignKeys {
		foreignKeys = "on"
	}

	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=%s&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		foreignKeys,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)

	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}

	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return &DB{DB: sqlDB, dialect: DialectSQLite}, nil
}

func newPostgres(cfg config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// meddler's dialect is process global, so a single process only ever
	// talks to one backend.
	meddler.Default = meddler.PostgreSQL
	return &DB{DB: sqlDB, dialect: DialectPostgres}, nil
}
