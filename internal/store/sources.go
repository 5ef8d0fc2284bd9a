package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/acescout/acescout/internal/catalog"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// AddSource registers a new source. The initial status is pending unless the
// caller set something else.
func (s *Store) AddSource(ctx context.Context, src catalog.Source) error {
	if src.Status == "" {
		src.Status = catalog.StatusPending
	}
	if src.AddedAt.IsZero() {
		src.AddedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, url, kind, enabled, status, error_count, last_error, added_at, last_processed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.URL, string(src.Kind), boolInt(src.Enabled), string(src.Status),
		src.ErrorCount, nullableString(src.LastError),
		src.AddedAt.Format(time.RFC3339Nano), nullableTime(src.LastProcessed),
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource fetches one source by identifier.
func (s *Store) GetSource(ctx context.Context, id string) (catalog.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, kind, enabled, status, error_count, last_error, added_at, last_processed
		 FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// Sources returns every registered source.
func (s *Store) Sources(ctx context.Context) ([]catalog.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, kind, enabled, status, error_count, last_error, added_at, last_processed
		 FROM sources ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	return collectSources(rows)
}

// DueSources returns the sources the scheduler should process: pending, or
// failed with fewer than maxRetries consecutive errors, or last processed
// before cutoff. Disabled sources are never returned.
func (s *Store) DueSources(ctx context.Context, cutoff time.Time, maxRetries int) ([]catalog.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, kind, enabled, status, error_count, last_error, added_at, last_processed
		 FROM sources
		 WHERE enabled = 1
		   AND status != ?
		   AND (
			status = ?
			OR (status = ? AND error_count < ?)
			OR last_processed IS NULL
			OR last_processed < ?
		   )
		 ORDER BY added_at`,
		string(catalog.StatusDisabled),
		string(catalog.StatusPending),
		string(catalog.StatusFailed), maxRetries,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("due sources: %w", err)
	}
	defer rows.Close()
	return collectSources(rows)
}

// UpdateSourceStatus records the outcome of a scrape attempt. A non-empty
// errText increments the consecutive-error count; a transition to ok resets
// it. last_processed is stamped on every call.
func (s *Store) UpdateSourceStatus(ctx context.Context, id string, status catalog.SourceStatus, errText string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var res sql.Result
	var err error
	switch {
	case errText != "":
		res, err = s.db.ExecContext(ctx,
			`UPDATE sources SET status = ?, last_processed = ?, error_count = error_count + 1, last_error = ? WHERE id = ?`,
			string(status), now, errText, id)
	case status == catalog.StatusOK:
		res, err = s.db.ExecContext(ctx,
			`UPDATE sources SET status = ?, last_processed = ?, error_count = 0, last_error = NULL WHERE id = ?`,
			string(status), now, id)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE sources SET status = ?, last_processed = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSourceEnabled flips the enabled flag; disabling also parks the status so
// the scheduler skips the source immediately.
func (s *Store) SetSourceEnabled(ctx context.Context, id string, enabled bool) error {
	status := catalog.StatusPending
	if !enabled {
		status = catalog.StatusDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET enabled = ?, status = ? WHERE id = ?`,
		boolInt(enabled), string(status), id)
	if err != nil {
		return fmt.Errorf("set source enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSource removes a source and all channels it produced.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete source: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("delete source channels: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return tx.Commit()
}

func scanSource(row *sql.Row) (catalog.Source, error) {
	var (
		src                       catalog.Source
		enabled                   int
		kind, status              string
		lastErr, added, processed sql.NullString
	)
	err := row.Scan(&src.ID, &src.URL, &kind, &enabled, &status, &src.ErrorCount, &lastErr, &added, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return src, ErrNotFound
	}
	if err != nil {
		return src, fmt.Errorf("scan source: %w", err)
	}
	src.Kind = catalog.SourceKind(kind)
	src.Status = catalog.SourceStatus(status)
	src.Enabled = enabled != 0
	src.LastError = lastErr.String
	src.AddedAt = parseTime(added)
	src.LastProcessed = parseTime(processed)
	return src, nil
}

func collectSources(rows *sql.Rows) ([]catalog.Source, error) {
	var out []catalog.Source
	for rows.Next() {
		var (
			src                       catalog.Source
			enabled                   int
			kind, status              string
			lastErr, added, processed sql.NullString
		)
		if err := rows.Scan(&src.ID, &src.URL, &kind, &enabled, &status, &src.ErrorCount, &lastErr, &added, &processed); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.Kind = catalog.SourceKind(kind)
		src.Status = catalog.SourceStatus(status)
		src.Enabled = enabled != 0
		src.LastError = lastErr.String
		src.AddedAt = parseTime(added)
		src.LastProcessed = parseTime(processed)
		out = append(out, src)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
