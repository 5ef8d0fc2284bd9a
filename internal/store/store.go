// Package store persists the harvested catalog (sources, channels, guide
// data, pattern rules) in SQLite. It is the single writer; all catalog
// mutation from the scheduler, scraper, prober and matching engine goes
// through it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database and applies
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable. Used by the readiness
// endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) applyMigrations(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id             TEXT PRIMARY KEY,
			url            TEXT NOT NULL UNIQUE,
			kind           TEXT NOT NULL DEFAULT 'direct',
			enabled        INTEGER NOT NULL DEFAULT 1,
			status         TEXT NOT NULL DEFAULT 'pending',
			error_count    INTEGER NOT NULL DEFAULT 0,
			last_error     TEXT,
			added_at       TEXT NOT NULL,
			last_processed TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			source_id      TEXT NOT NULL,
			group_title    TEXT,
			logo           TEXT,
			guide_id       TEXT,
			guide_name     TEXT,
			guide_locked   INTEGER NOT NULL DEFAULT 0,
			is_online      INTEGER NOT NULL DEFAULT 0,
			last_checked   TEXT,
			check_error    TEXT,
			added_at       TEXT NOT NULL,
			last_processed TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS channels_source_idx ON channels (source_id)`,
		`CREATE TABLE IF NOT EXISTS guide_sources (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			url          TEXT NOT NULL UNIQUE,
			name         TEXT,
			enabled      INTEGER NOT NULL DEFAULT 1,
			last_updated TEXT,
			error_count  INTEGER NOT NULL DEFAULT 0,
			last_error   TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS guide_entries (
			guide_id  TEXT NOT NULL,
			name      TEXT NOT NULL,
			icon      TEXT,
			language  TEXT,
			source_id INTEGER NOT NULL REFERENCES guide_sources (id) ON DELETE CASCADE,
			UNIQUE (source_id, guide_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_rules (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern   TEXT NOT NULL,
			guide_id  TEXT NOT NULL,
			exclusion INTEGER NOT NULL DEFAULT 0,
			UNIQUE (pattern, exclusion)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
