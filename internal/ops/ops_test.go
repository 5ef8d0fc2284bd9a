package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/acescout/acescout/internal/metrics"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newServer(storeErr, engineErr error) *Server {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	return &Server{
		Store:  pingFunc(func(context.Context) error { return storeErr }),
		Engine: pingFunc(func(context.Context) error { return engineErr }),
		Reg:    reg,
		Log:    zerolog.Nop(),
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newServer(nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	srv := httptest.NewServer(newServer(nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestReadyzStoreDown(t *testing.T) {
	srv := httptest.NewServer(newServer(errors.New("locked"), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", resp.StatusCode)
	}
}

func TestReadyzEngineDownStillReady(t *testing.T) {
	srv := httptest.NewServer(newServer(nil, errors.New("refused")).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d; engine being down must not fail readiness", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.CyclesTotal.Inc()
	srv := httptest.NewServer(newServer(nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "acescout_scheduler_cycles_total") {
		t.Fatal("cycle counter missing from /metrics output")
	}
}
