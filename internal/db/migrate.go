package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one versioned schema change embedded in the binary.
type Migration struct {
	Version int
	Name    string
	up      string
	down    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt string
}

var migrationFile = regexp.MustCompile(`^(\d{4})_(.+)\.(up|down)\.sql$`)

// Migrations returns the embedded migrations ordered by version.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	byVersion := map[int]*Migration{}
	for _, e := range entries {
		m := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		v, _ := strconv.Atoi(m[1])
		mig := byVersion[v]
		if mig == nil {
			mig = &Migration{Version: v, Name: m[2]}
			byVersion[v] = mig
		}
		path := "migrations/" + e.Name()
		if m[3] == "up" {
			mig.up = path
		} else {
			mig.down = path
		}
	}
	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" {
			return nil, fmt.Errorf("migration %04d_%s has no up script", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
)`

// Applied lists the migrations recorded in the database, oldest first.
func Applied(ctx context.Context, d *sql.DB) ([]AppliedMigration, error) {
	if _, err := d.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, err
	}
	rows, err := d.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Version, &a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Migrate applies every embedded migration not yet recorded, in version order.
// Each migration and its bookkeeping row commit together.
func Migrate(ctx context.Context, d *sql.DB) error {
	migs, err := Migrations()
	if err != nil {
		return err
	}
	applied, err := Applied(ctx, d)
	if err != nil {
		return err
	}
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}
	for _, m := range migs {
		if done[m.Version] {
			continue
		}
		script, err := migrationsFS.ReadFile(m.up)
		if err != nil {
			return err
		}
		err = runScript(ctx, d, string(script),
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name)
		if err != nil {
			return fmt.Errorf("migration %04d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// RollbackLast reverts the most recently applied migration. It is a no-op on
// a database with nothing applied.
func RollbackLast(d *sql.DB) error {
	if d == nil {
		return errors.New("nil db")
	}
	ctx := context.Background()
	applied, err := Applied(ctx, d)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	last := applied[len(applied)-1]
	migs, err := Migrations()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(migs, func(m Migration) bool { return m.Version == last.Version })
	if i < 0 || migs[i].down == "" {
		return fmt.Errorf("no down migration for version %04d", last.Version)
	}
	script, err := migrationsFS.ReadFile(migs[i].down)
	if err != nil {
		return err
	}
	return runScript(ctx, d, string(script), `DELETE FROM schema_migrations WHERE version = ?`, last.Version)
}

// runScript executes a migration script and its bookkeeping statement in one
// transaction. Scripts whose first line is "-- NO_TX" run without one.
func runScript(ctx context.Context, d *sql.DB, script, bookkeeping string, args ...any) error {
	if strings.HasPrefix(strings.TrimSpace(script), "-- NO_TX") {
		if _, err := d.ExecContext(ctx, script); err != nil {
			return err
		}
		_, err := d.ExecContext(ctx, bookkeeping, args...)
		return err
	}
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
