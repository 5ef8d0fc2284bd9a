// Package scrape orchestrates one source: pick the right fetcher, run the
// extraction chain, apply the full-replace persistence policy and report the
// outcome on the source record.
package scrape

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/extract"
	"github.com/acescout/acescout/internal/fetch"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/store"
)

// Repository is the slice of the catalog store the scraper mutates.
type Repository interface {
	UpdateSourceStatus(ctx context.Context, id string, status catalog.SourceStatus, errText string) error
	ReplaceSourceChannels(ctx context.Context, sourceID string, channels []catalog.Channel) (store.ReplaceStats, error)
}

// Stats tracks what one scrape pass did.
type Stats struct {
	SourceID string
	Channels int
	Created  int
	Updated  int
	Removed  int
}

func (s Stats) String() string {
	return fmt.Sprintf("source=%s channels=%d new=%d upd=%d del=%d",
		s.SourceID, s.Channels, s.Created, s.Updated, s.Removed)
}

// Scraper processes sources one at a time. It never retries a failed fetch
// itself; the scheduler re-queues failed sources on later cycles.
type Scraper struct {
	Repo     Repository
	Fetchers fetch.Dispatcher
	Log      zerolog.Logger
}

// Scrape runs the processing → {ok, failed} state machine for one source.
// An empty extraction result is not an error: the source still ends up ok,
// its channels untouched.
func (s *Scraper) Scrape(ctx context.Context, src catalog.Source) (Stats, error) {
	stats := Stats{SourceID: src.ID}

	if err := s.Repo.UpdateSourceStatus(ctx, src.ID, catalog.StatusProcessing, ""); err != nil {
		return stats, fmt.Errorf("scrape %s: %w", src.ID, err)
	}

	fetcher := s.Fetchers.ForSource(src)
	doc, err := fetcher.Fetch(ctx, src.URL)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(string(src.Kind)).Inc()
		metrics.SourcesScraped.WithLabelValues("failed").Inc()
		s.Log.Warn().Str("source", src.ID).Err(err).Msg("fetch failed")
		if uerr := s.Repo.UpdateSourceStatus(ctx, src.ID, catalog.StatusFailed, err.Error()); uerr != nil {
			return stats, fmt.Errorf("scrape %s: record failure: %w", src.ID, uerr)
		}
		return stats, err
	}

	ex := extract.Extractor{PlaylistFetch: s.fetchPlaylist}
	channels := ex.Extract(ctx, doc, src.URL)
	for i := range channels {
		channels[i].SourceID = src.ID
	}
	stats.Channels = len(channels)

	if len(channels) > 0 {
		rs, err := s.Repo.ReplaceSourceChannels(ctx, src.ID, channels)
		if err != nil {
			metrics.SourcesScraped.WithLabelValues("failed").Inc()
			if uerr := s.Repo.UpdateSourceStatus(ctx, src.ID, catalog.StatusFailed, err.Error()); uerr != nil {
				s.Log.Error().Str("source", src.ID).Err(uerr).Msg("record failure")
			}
			return stats, fmt.Errorf("scrape %s: persist: %w", src.ID, err)
		}
		stats.Created, stats.Updated, stats.Removed = rs.Created, rs.Updated, rs.Removed
		metrics.ChannelsDiscovered.Add(float64(rs.Created + rs.Updated))
		metrics.ChannelsRemoved.Add(float64(rs.Removed))
	}

	if err := s.Repo.UpdateSourceStatus(ctx, src.ID, catalog.StatusOK, ""); err != nil {
		return stats, fmt.Errorf("scrape %s: %w", src.ID, err)
	}
	metrics.SourcesScraped.WithLabelValues("ok").Inc()
	s.Log.Info().Str("source", src.ID).Stringer("stats", stats).Msg("scraped")
	return stats, nil
}

// fetchPlaylist retrieves a playlist link discovered inside a page, picking
// the fetcher by the link's own address form.
func (s *Scraper) fetchPlaylist(ctx context.Context, address string) (string, error) {
	return s.Fetchers.ForSource(catalog.Source{Kind: fetch.KindOf(address)}).Fetch(ctx, address)
}
