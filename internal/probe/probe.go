// Package probe re-checks discovered channels against the serving engine in
// fixed-size batches under a bounded concurrency limit.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/engine"
	"github.com/acescout/acescout/internal/metrics"
)

// StatusClient is the engine surface the prober needs.
type StatusClient interface {
	GetStatus(ctx context.Context, channelID string) engine.Status
}

// Repository persists probe outcomes.
type Repository interface {
	UpdateChannelLiveness(ctx context.Context, id string, online bool, checkErr string, at time.Time) error
}

// Result is the liveness outcome for one channel, in input order.
type Result struct {
	ChannelID string
	Online    bool
	Error     string
}

// Stats summarizes one probe run.
type Stats struct {
	Probed  int
	Online  int
	Offline int
	Errors  int
}

func (s Stats) String() string {
	return fmt.Sprintf("probed=%d online=%d offline=%d errors=%d", s.Probed, s.Online, s.Offline, s.Errors)
}

// Config tunes the prober's pacing. Zero values get safe defaults.
type Config struct {
	// Concurrency bounds simultaneous in-flight probes.
	Concurrency int
	// BatchSize is how many channels are probed before a batch pause.
	BatchSize int
	// ProbeDelay is inserted after each individual probe.
	ProbeDelay time.Duration
	// BatchDelay is inserted after each batch.
	BatchDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = 250 * time.Millisecond
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 2 * time.Second
	}
}

// Prober checks channel liveness and records the results. Probe failures are
// per-channel data, never process-fatal.
type Prober struct {
	Engine StatusClient
	Repo   Repository
	Log    zerolog.Logger
	cfg    Config
}

// New returns a prober with cfg's pacing.
func New(eng StatusClient, repo Repository, cfg Config, log zerolog.Logger) *Prober {
	cfg.applyDefaults()
	return &Prober{Engine: eng, Repo: repo, Log: log, cfg: cfg}
}

// Batch probes the given channels and persists each outcome. Results come
// back in input order regardless of completion order. Cancellation is honored
// between batches; in-flight probes of the current batch finish first.
func (p *Prober) Batch(ctx context.Context, channels []catalog.Channel) ([]Result, Stats, error) {
	results := make([]Result, len(channels))
	var stats Stats

	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	for start := 0; start < len(channels); start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return results[:start], stats, err
		}
		end := start + p.cfg.BatchSize
		if end > len(channels) {
			end = len(channels)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return results[:start], stats, err
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer sem.Release(1)
				results[i] = p.one(ctx, channels[i])
				sleepCtx(ctx, p.cfg.ProbeDelay)
			}(i)
		}
		wg.Wait()

		for i := start; i < end; i++ {
			stats.Probed++
			switch {
			case results[i].Online:
				stats.Online++
				metrics.ProbeResults.WithLabelValues("online").Inc()
			case results[i].Error != "":
				stats.Offline++
				stats.Errors++
				metrics.ProbeResults.WithLabelValues("offline").Inc()
			default:
				stats.Offline++
				metrics.ProbeResults.WithLabelValues("offline").Inc()
			}
		}
		if end < len(channels) {
			sleepCtx(ctx, p.cfg.BatchDelay)
		}
	}

	p.Log.Info().Stringer("stats", stats).Msg("probe batch done")
	return results, stats, nil
}

// one probes a single channel and persists the outcome. Any failure, engine
// or store, lands in the result instead of escaping.
func (p *Prober) one(ctx context.Context, ch catalog.Channel) Result {
	st := p.Engine.GetStatus(ctx, ch.ID)
	res := Result{ChannelID: ch.ID, Online: st.Online, Error: st.Error}
	if err := p.Repo.UpdateChannelLiveness(ctx, ch.ID, st.Online, st.Error, time.Now().UTC()); err != nil {
		p.Log.Warn().Str("channel", ch.ID).Err(err).Msg("record liveness")
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
