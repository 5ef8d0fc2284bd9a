// Command acescout runs the catalog harvester daemon: the scheduler loop, a
// periodic guide refresh, a periodic liveness probe sweep and the ops HTTP
// endpoint (/healthz, /readyz, /metrics). Configuration comes from
// ACESCOUT_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/acescout/acescout/internal/config"
	"github.com/acescout/acescout/internal/engine"
	"github.com/acescout/acescout/internal/fetch"
	"github.com/acescout/acescout/internal/guide"
	"github.com/acescout/acescout/internal/logging"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/ops"
	"github.com/acescout/acescout/internal/probe"
	"github.com/acescout/acescout/internal/scheduler"
	"github.com/acescout/acescout/internal/scrape"
	"github.com/acescout/acescout/internal/store"
)

// guideRefreshEvery is how often enabled guide feeds are re-pulled.
const guideRefreshEvery = 12 * time.Hour

// probeSweepEvery is how often the whole catalog is re-probed for liveness.
const probeSweepEvery = 30 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "acescout:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info().Str("db", cfg.DatabasePath).Msg("catalog opened")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)

	eng := engine.New(cfg.Engine.URL, cfg.Engine.Timeout)

	fetchers := fetch.Dispatcher{
		Direct: fetch.NewDirect(cfg.Fetch.Timeout),
		Overlay: fetch.NewOverlay(fetch.OverlayConfig{
			Gateway: cfg.Fetch.OverlayGateway,
			Timeout: cfg.Fetch.OverlayTimeout,
			Retries: cfg.Fetch.OverlayRetries,
			Backoff: cfg.Fetch.OverlayBackoff,
		}),
	}

	scraper := &scrape.Scraper{
		Repo:     st,
		Fetchers: fetchers,
		Log:      log.With().Str("component", "scraper").Logger(),
	}
	matcher := &guide.Engine{
		Repo: st,
		Log:  log.With().Str("component", "matcher").Logger(),
	}
	refresher := &guide.Refresher{
		Repo:    st,
		Timeout: cfg.Guide.FetchTimeout,
		Log:     log.With().Str("component", "guide").Logger(),
	}
	prober := probe.New(eng, st, probe.Config{
		Concurrency: cfg.Probe.Concurrency,
		BatchSize:   cfg.Probe.BatchSize,
		ProbeDelay:  cfg.Probe.ProbeDelay,
		BatchDelay:  cfg.Probe.BatchDelay,
	}, log.With().Str("component", "prober").Logger())

	sched := scheduler.New(st, scraper, matcher,
		guide.Options{Threshold: cfg.Guide.Threshold, Apply: true, RespectExisting: true},
		scheduler.Config{
			RetryDelay:    cfg.Scheduler.RetryDelay,
			MaxRetries:    cfg.Scheduler.MaxRetries,
			RescrapeAfter: cfg.Scheduler.RescrapeAfter,
			ChannelMaxAge: cfg.Scheduler.ChannelMaxAge,
		},
		log.With().Str("component", "scheduler").Logger(),
	)

	opsSrv := &ops.Server{
		Store:  st,
		Engine: eng,
		Reg:    reg,
		Log:    log.With().Str("component", "ops").Logger(),
	}
	httpSrv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           opsSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	go func() {
		log.Info().Str("addr", cfg.OpsAddr).Msg("ops endpoint listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	go refreshGuidesLoop(ctx, refresher, log)
	go probeSweepLoop(ctx, prober, st, log)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		stop()
		shutdownHTTP(httpSrv)
		return err
	}

	shutdownHTTP(httpSrv)
	return nil
}

// refreshGuidesLoop pulls guide feeds right away and then on a fixed period.
func refreshGuidesLoop(ctx context.Context, r *guide.Refresher, log zerolog.Logger) {
	t := time.NewTicker(guideRefreshEvery)
	defer t.Stop()
	for {
		if stats, err := r.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("guide refresh")
		} else {
			log.Info().Stringer("stats", stats).Msg("guide refresh done")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// probeSweepLoop re-probes the whole catalog on a fixed period. The first
// sweep waits a full period so startup isn't dominated by probe traffic.
func probeSweepLoop(ctx context.Context, p *probe.Prober, st *store.Store, log zerolog.Logger) {
	t := time.NewTicker(probeSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		channels, err := st.Channels(ctx)
		if err != nil {
			log.Error().Err(err).Msg("probe sweep: load channels")
			continue
		}
		if len(channels) == 0 {
			continue
		}
		if _, stats, err := p.Batch(ctx, channels); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("probe sweep")
			}
		} else {
			log.Info().Stringer("stats", stats).Msg("probe sweep done")
		}
	}
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
