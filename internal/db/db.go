package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) a local SQLite database file and applies pending migrations.
// Use OpenRaw to inspect or roll back a database without migrating it.
// It uses versioned .sql files under internal/db/migrations following the pattern:
//
//	0001_name.up.sql / 0001_name.down.sql
//
// Transactions are started with BEGIN IMMEDIATE so that two writers on the same
// user serialize at begin time instead of failing at commit.
// Only new migrations are applied. Use RollbackLast to revert the last applied migration.
func Open(path string) (*sql.DB, error) {
	d, err := OpenRaw(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(context.Background(), d); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// OpenRaw opens the database with the same connection settings as Open but
// leaves the schema as it is.
func OpenRaw(path string) (*sql.DB, error) {
	if path == "" {
		path = "app.db"
	}
	d, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}
	if strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory") {
		// Every connection to an in-memory database is its own database, and
		// shared-cache table locks ignore busy_timeout. Pin to one connection.
		d.SetMaxOpenConns(1)
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, err
	}
	// journal_mode may not be supported in some contexts (e.g., in-memory). Ignore errors.
	_, _ = d.Exec(`PRAGMA journal_mode=WAL`)
	if _, err := d.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = d.Close()
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// dsn appends the driver options every connection needs. foreign_keys is a
// per-connection pragma, so it goes in the DSN as well as the PRAGMA above.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
}

// IsBusy reports whether err is SQLite lock contention, the signal that a
// transaction lost a race and may be retried.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// IsConstraint reports whether err is a uniqueness or check violation.
func IsConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

// Pinger checks that the database is reachable. It satisfies the health checker.
type Pinger struct{ DB *sql.DB }

func (p Pinger) Check(ctx context.Context) error { return p.DB.PingContext(ctx) }
