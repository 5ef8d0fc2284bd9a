// Package ops serves the operational HTTP surface: liveness, readiness and
// Prometheus metrics. The catalog REST API is a separate concern and not
// part of this daemon.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the ops endpoint set.
type Server struct {
	Store  Pinger
	Engine Pinger
	Reg    *prometheus.Registry
	Log    zerolog.Logger
}

// Handler builds the ops router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(s.Reg, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// readyz fails when the catalog store is broken. The serving engine being
// down degrades probing but not harvesting, so it only logs.
func (s *Server) readyz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	if err := s.Store.Ping(ctx); err != nil {
		s.Log.Warn().Err(err).Msg("readiness: store")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.Engine != nil {
		if err := s.Engine.Ping(ctx); err != nil {
			s.Log.Debug().Err(err).Msg("readiness: engine down, probing degraded")
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
