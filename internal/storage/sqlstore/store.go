// Package sqlstore provides the SQL-backed implementation of the engine
// stores. One Store speaks both SQLite (the default, embedded) and
// Postgres through a dialect switch; the due-action claim uses a lease
// column on SQLite and FOR UPDATE SKIP LOCKED on Postgres.
package sqlstore

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/lowenmark/crownfall/internal/storage"
	"github.com/lowenmark/crownfall/internal/storage/migrate"
	"github.com/lowenmark/crownfall/internal/storage/sqlstore/migrations"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store provides SQL-backed action, battle, and telemetry persistence.
type Store struct {
	dialect Dialect
	sqlDB   *sql.DB
}

// Open opens a store for the given dialect and applies migrations.
// For SQLite the dsn is a file path; for Postgres a connection string.
func Open(dialect Dialect, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}

	var driverName string
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
		dsn = filepath.Clean(dsn) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	case DialectPostgres:
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// modernc sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY churn under concurrent ticks.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	store := &Store{dialect: dialect, sqlDB: sqlDB}
	if err := migrate.Apply(sqlDB, migrations.FS, string(dialect), store.rebind); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) ready() error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

var (
	_ storage.ActionStore    = (*Store)(nil)
	_ storage.BattleStore    = (*Store)(nil)
	_ storage.TelemetryStore = (*Store)(nil)
)
