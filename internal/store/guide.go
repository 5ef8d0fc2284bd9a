package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acescout/acescout/internal/catalog"
)

// AddGuideSource registers a guide feed URL.
func (s *Store) AddGuideSource(ctx context.Context, gs catalog.GuideSource) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO guide_sources (url, name, enabled) VALUES (?, ?, ?)`,
		gs.URL, nullableString(gs.Name), boolInt(gs.Enabled))
	if err != nil {
		return 0, fmt.Errorf("insert guide source: %w", err)
	}
	return res.LastInsertId()
}

// EnabledGuideSources returns the guide feeds the refresher should pull.
func (s *Store) EnabledGuideSources(ctx context.Context) ([]catalog.GuideSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, name, enabled, last_updated, error_count, last_error
		 FROM guide_sources WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("guide sources: %w", err)
	}
	defer rows.Close()

	var out []catalog.GuideSource
	for rows.Next() {
		var (
			gs                       catalog.GuideSource
			enabled                  int
			name, updated, lastError sql.NullString
		)
		if err := rows.Scan(&gs.ID, &gs.URL, &name, &enabled, &updated, &gs.ErrorCount, &lastError); err != nil {
			return nil, fmt.Errorf("scan guide source: %w", err)
		}
		gs.Name = name.String
		gs.Enabled = enabled != 0
		gs.LastUpdated = parseTime(updated)
		gs.LastError = lastError.String
		out = append(out, gs)
	}
	return out, rows.Err()
}

// UpdateGuideSourceResult records the outcome of one feed refresh.
func (s *Store) UpdateGuideSourceResult(ctx context.Context, id int64, errText string) error {
	var err error
	if errText != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE guide_sources SET error_count = error_count + 1, last_error = ? WHERE id = ?`,
			errText, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE guide_sources SET last_updated = ?, error_count = 0, last_error = NULL WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339Nano), id)
	}
	if err != nil {
		return fmt.Errorf("update guide source: %w", err)
	}
	return nil
}

// ReplaceGuideEntries swaps in the full entry set for one guide source.
func (s *Store) ReplaceGuideEntries(ctx context.Context, sourceID int64, entries []catalog.GuideEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace guide entries: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM guide_entries WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("replace guide entries: clear: %w", err)
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO guide_entries (guide_id, name, icon, language, source_id) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (source_id, guide_id) DO UPDATE SET
				name = excluded.name, icon = excluded.icon, language = excluded.language`,
			e.ID, e.Name, nullableString(e.Icon), nullableString(e.Language), sourceID)
		if err != nil {
			return fmt.Errorf("replace guide entries: insert %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace guide entries: commit: %w", err)
	}
	return nil
}

// GuideEntries returns every known guide entry across sources.
func (s *Store) GuideEntries(ctx context.Context) ([]catalog.GuideEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guide_id, name, icon, language, source_id FROM guide_entries ORDER BY source_id, guide_id`)
	if err != nil {
		return nil, fmt.Errorf("guide entries: %w", err)
	}
	defer rows.Close()

	var out []catalog.GuideEntry
	for rows.Next() {
		var (
			e          catalog.GuideEntry
			icon, lang sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Name, &icon, &lang, &e.SourceID); err != nil {
			return nil, fmt.Errorf("scan guide entry: %w", err)
		}
		e.Icon = icon.String
		e.Language = lang.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddPatternRule registers a pattern rule; pattern text is unique within its
// polarity.
func (s *Store) AddPatternRule(ctx context.Context, rule catalog.PatternRule) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pattern_rules (pattern, guide_id, exclusion) VALUES (?, ?, ?)`,
		rule.Pattern, rule.GuideID, boolInt(rule.Exclusion))
	if err != nil {
		return 0, fmt.Errorf("insert pattern rule: %w", err)
	}
	return res.LastInsertId()
}

// PatternRules returns all pattern rules, exclusions included.
func (s *Store) PatternRules(ctx context.Context) ([]catalog.PatternRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern, guide_id, exclusion FROM pattern_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pattern rules: %w", err)
	}
	defer rows.Close()

	var out []catalog.PatternRule
	for rows.Next() {
		var (
			r         catalog.PatternRule
			exclusion int
		)
		if err := rows.Scan(&r.ID, &r.Pattern, &r.GuideID, &exclusion); err != nil {
			return nil, fmt.Errorf("scan pattern rule: %w", err)
		}
		r.Exclusion = exclusion != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GuideUpdate is one channel mutation computed by the matching engine.
// Clear wipes guide id/name; ClearLogo additionally wipes the logo (used by
// exclusion rules). Logo is only written when the channel has none yet.
type GuideUpdate struct {
	ChannelID string
	GuideID   string
	GuideName string
	Logo      string
	Clear     bool
	ClearLogo bool
}

// ApplyGuideUpdates applies a whole matching pass atomically. Any failure
// rolls back every update and is returned to the caller.
func (s *Store) ApplyGuideUpdates(ctx context.Context, updates []GuideUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply guide updates: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if u.Clear {
			q := `UPDATE channels SET guide_id = NULL, guide_name = NULL WHERE id = ?`
			if u.ClearLogo {
				q = `UPDATE channels SET guide_id = NULL, guide_name = NULL, logo = NULL WHERE id = ?`
			}
			if _, err := tx.ExecContext(ctx, q, u.ChannelID); err != nil {
				return fmt.Errorf("apply guide updates: clear %s: %w", u.ChannelID, err)
			}
			continue
		}
		// Guide id/name are overwritten on every run; logo is first-writer-wins.
		_, err := tx.ExecContext(ctx,
			`UPDATE channels SET guide_id = ?, guide_name = ?,
				logo = CASE WHEN logo IS NULL OR logo = '' THEN ? ELSE logo END
			 WHERE id = ?`,
			u.GuideID, nullableString(u.GuideName), nullableString(u.Logo), u.ChannelID)
		if err != nil {
			return fmt.Errorf("apply guide updates: update %s: %w", u.ChannelID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply guide updates: commit: %w", err)
	}
	return nil
}
