package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/acescout/acescout/internal/catalog"
)

// ReplaceStats summarizes a per-source full-replace pass.
type ReplaceStats struct {
	Created int
	Updated int
	Removed int
}

// UpsertChannel inserts or updates a channel by identifier. Attributes that
// arrive empty (group, logo, guide fields) leave any existing value alone;
// name and source are always refreshed.
func (s *Store) UpsertChannel(ctx context.Context, ch catalog.Channel) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, source_id, group_title, logo, guide_id, guide_name, guide_locked, added_at, last_processed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name           = excluded.name,
			source_id      = excluded.source_id,
			group_title    = COALESCE(excluded.group_title, channels.group_title),
			logo           = COALESCE(excluded.logo, channels.logo),
			guide_id       = COALESCE(excluded.guide_id, channels.guide_id),
			guide_name     = COALESCE(excluded.guide_name, channels.guide_name),
			last_processed = excluded.last_processed`,
		ch.ID, ch.Name, ch.SourceID,
		nullableString(ch.Group), nullableString(ch.Logo),
		nullableString(ch.GuideID), nullableString(ch.GuideName),
		boolInt(ch.GuideLocked), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// ReplaceSourceChannels applies the full-replace policy for one source in a
// single transaction: channels absent from the new result set are removed,
// the rest are upserted.
func (s *Store) ReplaceSourceChannels(ctx context.Context, sourceID string, channels []catalog.Channel) (ReplaceStats, error) {
	var stats ReplaceStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("replace channels: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing := map[string]bool{}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM channels WHERE source_id = ?`, sourceID)
	if err != nil {
		return stats, fmt.Errorf("replace channels: existing: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return stats, fmt.Errorf("replace channels: scan: %w", err)
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("replace channels: existing: %w", err)
	}

	incoming := map[string]bool{}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, ch := range channels {
		incoming[ch.ID] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO channels (id, name, source_id, group_title, logo, guide_id, guide_name, guide_locked, added_at, last_processed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				name           = excluded.name,
				source_id      = excluded.source_id,
				group_title    = COALESCE(excluded.group_title, channels.group_title),
				logo           = COALESCE(excluded.logo, channels.logo),
				guide_id       = COALESCE(excluded.guide_id, channels.guide_id),
				guide_name     = COALESCE(excluded.guide_name, channels.guide_name),
				last_processed = excluded.last_processed`,
			ch.ID, ch.Name, sourceID,
			nullableString(ch.Group), nullableString(ch.Logo),
			nullableString(ch.GuideID), nullableString(ch.GuideName),
			now, now,
		)
		if err != nil {
			return stats, fmt.Errorf("replace channels: upsert %s: %w", ch.ID, err)
		}
		if existing[ch.ID] {
			stats.Updated++
		} else {
			stats.Created++
		}
	}

	var stale []any
	for id := range existing {
		if !incoming[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		q := fmt.Sprintf(`DELETE FROM channels WHERE source_id = ? AND id IN (%s)`,
			strings.TrimSuffix(strings.Repeat("?,", len(stale)), ","))
		args := append([]any{sourceID}, stale...)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return stats, fmt.Errorf("replace channels: prune: %w", err)
		}
		stats.Removed = len(stale)
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("replace channels: commit: %w", err)
	}
	return stats, nil
}

// DeleteChannelsBySource removes every channel produced by sourceID.
func (s *Store) DeleteChannelsBySource(ctx context.Context, sourceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete channels by source: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteChannelsOlderThan removes channels whose last scrape pass is older
// than cutoff. This is the age-based cleanup policy.
func (s *Store) DeleteChannelsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channels WHERE last_processed IS NOT NULL AND last_processed < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("delete old channels: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Channels returns every channel in the catalog.
func (s *Store) Channels(ctx context.Context) ([]catalog.Channel, error) {
	return s.queryChannels(ctx,
		`SELECT id, name, source_id, group_title, logo, guide_id, guide_name, guide_locked,
			is_online, last_checked, check_error, added_at, last_processed
		 FROM channels ORDER BY added_at`)
}

// ChannelsBySource returns the channels produced by one source.
func (s *Store) ChannelsBySource(ctx context.Context, sourceID string) ([]catalog.Channel, error) {
	return s.queryChannels(ctx,
		`SELECT id, name, source_id, group_title, logo, guide_id, guide_name, guide_locked,
			is_online, last_checked, check_error, added_at, last_processed
		 FROM channels WHERE source_id = ? ORDER BY added_at`, sourceID)
}

// UpdateChannelLiveness records one probe outcome.
func (s *Store) UpdateChannelLiveness(ctx context.Context, id string, online bool, checkErr string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET is_online = ?, check_error = ?, last_checked = ? WHERE id = ?`,
		boolInt(online), nullableString(checkErr), at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update liveness: %w", err)
	}
	return nil
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]catalog.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []catalog.Channel
	for rows.Next() {
		var (
			ch                                    catalog.Channel
			group, logo, guideID, guideName       sql.NullString
			locked, online                        int
			lastChecked, checkErr, added, lastPro sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.SourceID, &group, &logo, &guideID, &guideName,
			&locked, &online, &lastChecked, &checkErr, &added, &lastPro); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.Group = group.String
		ch.Logo = logo.String
		ch.GuideID = guideID.String
		ch.GuideName = guideName.String
		ch.GuideLocked = locked != 0
		ch.IsOnline = online != 0
		ch.CheckError = checkErr.String
		ch.LastChecked = parseTime(lastChecked)
		ch.AddedAt = parseTime(added)
		ch.LastProcessed = parseTime(lastPro)
		out = append(out, ch)
	}
	return out, rows.Err()
}
