// Package config holds the daemon's runtime configuration. It is built once
// at startup from ACESCOUT_* environment variables and passed by reference
// into the scheduler, scraper and matching engine; there is no global state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config drives the whole daemon. Zero values are replaced with the defaults
// declared in the struct tags by Load.
type Config struct {
	// DatabasePath is the SQLite catalog file.
	DatabasePath string `envconfig:"DB_PATH" default:"./acescout.db"`

	// OpsAddr is the listen address for /healthz, /readyz and /metrics.
	OpsAddr string `envconfig:"OPS_ADDR" default:":9780"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Scheduler struct {
		// RetryDelay is the sleep between scheduler cycles.
		RetryDelay time.Duration `envconfig:"RETRY_DELAY" default:"60s"`
		// MaxRetries caps consecutive failures before a source stops being due.
		MaxRetries int `envconfig:"MAX_RETRIES" default:"3"`
		// RescrapeAfter re-queues sources whose last pass is older than this.
		RescrapeAfter time.Duration `envconfig:"RESCRAPE_AFTER" default:"6h"`
		// ChannelMaxAge removes channels not seen for this long. 0 disables cleanup.
		ChannelMaxAge time.Duration `envconfig:"CHANNEL_MAX_AGE" default:"168h"`
	} `envconfig:""`

	Fetch struct {
		Timeout        time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`
		OverlayTimeout time.Duration `envconfig:"OVERLAY_TIMEOUT" default:"20s"`
		// OverlayGateway is the local overlay-network gateway (host:port).
		OverlayGateway string        `envconfig:"OVERLAY_GATEWAY" default:"127.0.0.1:43110"`
		OverlayRetries int           `envconfig:"OVERLAY_RETRIES" default:"5"`
		OverlayBackoff time.Duration `envconfig:"OVERLAY_BACKOFF" default:"500ms"`
	} `envconfig:""`

	Engine struct {
		// URL of the channel-serving engine (loopback in the common case).
		URL     string        `envconfig:"ENGINE_URL" default:"http://127.0.0.1:6878"`
		Timeout time.Duration `envconfig:"ENGINE_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Probe struct {
		Concurrency int           `envconfig:"PROBE_CONCURRENCY" default:"5"`
		BatchSize   int           `envconfig:"PROBE_BATCH_SIZE" default:"20"`
		ProbeDelay  time.Duration `envconfig:"PROBE_DELAY" default:"250ms"`
		BatchDelay  time.Duration `envconfig:"PROBE_BATCH_DELAY" default:"2s"`
	} `envconfig:""`

	Guide struct {
		FetchTimeout time.Duration `envconfig:"GUIDE_FETCH_TIMEOUT" default:"60s"`
		// Threshold is the fuzzy-match acceptance score tau, in (0,1].
		Threshold float64 `envconfig:"GUIDE_THRESHOLD" default:"0.75"`
	} `envconfig:""`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("acescout", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Guide.Threshold <= 0 || c.Guide.Threshold > 1 {
		return fmt.Errorf("config: guide threshold %v outside (0,1]", c.Guide.Threshold)
	}
	if c.Probe.Concurrency < 1 {
		c.Probe.Concurrency = 1
	}
	if c.Probe.BatchSize < 1 {
		c.Probe.BatchSize = 1
	}
	if c.Scheduler.MaxRetries < 1 {
		c.Scheduler.MaxRetries = 1
	}
	if c.Fetch.OverlayRetries < 1 {
		c.Fetch.OverlayRetries = 1
	}
	c.Engine.URL = strings.TrimRight(c.Engine.URL, "/")
	if !strings.HasPrefix(c.Engine.URL, "http") {
		c.Engine.URL = "http://" + c.Engine.URL
	}
	return nil
}
