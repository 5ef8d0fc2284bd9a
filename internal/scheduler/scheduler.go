// Package scheduler owns the harvesting control loop: compute due sources,
// scrape them sequentially with in-flight dedup, trigger a matching pass when
// a cycle produced channel data, expire stale channels, sleep, repeat.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/guide"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/scrape"
)

// Repository is the slice of the store the scheduler queries directly.
type Repository interface {
	DueSources(ctx context.Context, cutoff time.Time, maxRetries int) ([]catalog.Source, error)
	DeleteChannelsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChannelScraper processes a single source end to end.
type ChannelScraper interface {
	Scrape(ctx context.Context, src catalog.Source) (scrape.Stats, error)
}

// Matcher runs one guide matching pass.
type Matcher interface {
	Match(ctx context.Context, opts guide.Options) (guide.MatchStats, []catalog.MatchResult, error)
}

// Config tunes the loop cadence. Zero values get safe defaults.
type Config struct {
	// RetryDelay is the sleep between cycles.
	RetryDelay time.Duration
	// MaxRetries caps how many consecutive failures keep a source due.
	MaxRetries int
	// RescrapeAfter makes even healthy sources due again past this age.
	RescrapeAfter time.Duration
	// ChannelMaxAge expires channels not re-confirmed within this window.
	// Zero disables cleanup.
	ChannelMaxAge time.Duration
}

func (c *Config) applyDefaults() {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RescrapeAfter <= 0 {
		c.RescrapeAfter = 6 * time.Hour
	}
}

// CycleStats summarizes one scheduler cycle.
type CycleStats struct {
	Cycle    string
	Due      int
	Scraped  int
	Failed   int
	Channels int
	Expired  int64
	Match    *guide.MatchStats
}

func (s CycleStats) String() string {
	return fmt.Sprintf("cycle=%s due=%d ok=%d failed=%d channels=%d expired=%d",
		s.Cycle, s.Due, s.Scraped, s.Failed, s.Channels, s.Expired)
}

// Scheduler drives the harvesting loop. A single instance is assumed; the
// in-flight set only guards against overlapping triggers inside one process.
type Scheduler struct {
	Repo      Repository
	Scraper   ChannelScraper
	Matcher   Matcher
	MatchOpts guide.Options
	Log       zerolog.Logger

	cfg Config

	mu       sync.Mutex
	inFlight map[string]bool
}

// New returns a scheduler with cfg's cadence.
func New(repo Repository, scraper ChannelScraper, matcher Matcher, matchOpts guide.Options, cfg Config, log zerolog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		Repo:      repo,
		Scraper:   scraper,
		Matcher:   matcher,
		MatchOpts: matchOpts,
		Log:       log,
		cfg:       cfg,
		inFlight:  make(map[string]bool),
	}
}

// Run loops until ctx is cancelled. Cycle failures are logged and retried on
// the next cycle; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Log.Info().Dur("retry_delay", s.cfg.RetryDelay).Msg("scheduler started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := s.RunCycleOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Log.Error().Str("cycle", stats.Cycle).Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

// RunCycleOnce executes a single cycle: scrape every due source, then run a
// matching pass if any source produced channel data, then expire stale
// channels. A matching-pass persistence failure is the one error that fails
// the cycle outright; scrape failures are recorded per source and absorbed.
func (s *Scheduler) RunCycleOnce(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{Cycle: uuid.NewString()[:8]}
	metrics.CyclesTotal.Inc()

	cutoff := time.Now().UTC().Add(-s.cfg.RescrapeAfter)
	due, err := s.Repo.DueSources(ctx, cutoff, s.cfg.MaxRetries)
	if err != nil {
		return stats, fmt.Errorf("cycle %s: due sources: %w", stats.Cycle, err)
	}
	stats.Due = len(due)

	produced := false
	for _, src := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !s.claim(src.ID) {
			s.Log.Debug().Str("cycle", stats.Cycle).Str("source", src.ID).Msg("already in flight, skipped")
			continue
		}
		st, err := s.scrapeClaimed(ctx, src)
		if err != nil {
			stats.Failed++
			continue
		}
		stats.Scraped++
		stats.Channels += st.Channels
		if st.Channels > 0 {
			produced = true
		}
	}

	if produced && s.Matcher != nil {
		ms, _, err := s.Matcher.Match(ctx, s.MatchOpts)
		if err != nil {
			return stats, fmt.Errorf("cycle %s: %w", stats.Cycle, err)
		}
		stats.Match = &ms
	}

	if s.cfg.ChannelMaxAge > 0 {
		n, err := s.Repo.DeleteChannelsOlderThan(ctx, time.Now().UTC().Add(-s.cfg.ChannelMaxAge))
		if err != nil {
			return stats, fmt.Errorf("cycle %s: expire channels: %w", stats.Cycle, err)
		}
		stats.Expired = n
		if n > 0 {
			metrics.ChannelsRemoved.Add(float64(n))
		}
	}

	s.Log.Info().Stringer("stats", stats).Msg("cycle done")
	return stats, nil
}

// ScrapeOne processes a single source on demand, with the same in-flight
// dedup the cycle uses.
func (s *Scheduler) ScrapeOne(ctx context.Context, src catalog.Source) (scrape.Stats, error) {
	if !s.claim(src.ID) {
		return scrape.Stats{SourceID: src.ID}, fmt.Errorf("source %s already in flight", src.ID)
	}
	return s.scrapeClaimed(ctx, src)
}

func (s *Scheduler) scrapeClaimed(ctx context.Context, src catalog.Source) (scrape.Stats, error) {
	defer s.release(src.ID)
	metrics.InFlightSources.Inc()
	defer metrics.InFlightSources.Dec()
	return s.Scraper.Scrape(ctx, src)
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
