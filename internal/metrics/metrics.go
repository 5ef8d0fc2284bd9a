// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	// CyclesTotal counts completed scheduler cycles.
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acescout_scheduler_cycles_total",
		Help: "Completed scheduler cycles.",
	})

	// SourcesScraped counts per-source scrape attempts by outcome (ok|failed).
	SourcesScraped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acescout_sources_scraped_total",
		Help: "Scrape attempts by outcome.",
	}, []string{"outcome"})

	// FetchErrors counts fetch failures by fetcher kind (direct|overlay).
	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acescout_fetch_errors_total",
		Help: "Fetch failures by fetcher kind.",
	}, []string{"kind"})

	// ChannelsDiscovered counts channels created or updated by scrapes.
	ChannelsDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acescout_channels_discovered_total",
		Help: "Channels created or updated by scrape passes.",
	})

	// ChannelsRemoved counts channels dropped by full-replace or cleanup.
	ChannelsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acescout_channels_removed_total",
		Help: "Channels removed by full-replace or age cleanup.",
	})

	// ProbeResults counts liveness probes by result (online|offline).
	ProbeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acescout_probe_results_total",
		Help: "Liveness probe results.",
	}, []string{"result"})

	// Matches counts guide associations by method.
	Matches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acescout_guide_matches_total",
		Help: "Guide associations by match method.",
	}, []string{"method"})

	// InFlightSources gauges sources currently being processed.
	InFlightSources = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "acescout_sources_in_flight",
		Help: "Sources currently being scraped.",
	})
)

// MustRegister registers all package metrics with the given registerer.
// Safe to call more than once.
func MustRegister(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			CyclesTotal,
			SourcesScraped,
			FetchErrors,
			ChannelsDiscovered,
			ChannelsRemoved,
			ProbeResults,
			Matches,
			InFlightSources,
		)
	})
}
