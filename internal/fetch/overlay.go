package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/acescout/acescout/internal/httpclient"
)

// channelMarker is the token whose presence makes a document worth
// extracting from; the overlay fetcher uses it to decide between a wrapper
// page and the inner document it points at.
const channelMarker = "acestream://"

const overlayPort = ":43110/"

var (
	// metaRefreshRe matches <meta http-equiv="refresh" content="0; url=...">.
	metaRefreshRe = regexp.MustCompile(`(?i)http-equiv=["']refresh["'][^>]*url=([^"'> ]+)`)
	// iframeSrcRe matches the wrapper iframe the overlay gateway serves
	// around site content.
	iframeSrcRe = regexp.MustCompile(`(?i)<iframe[^>]+src=["']([^"']+)["']`)
)

// OverlayConfig drives an OverlayFetcher. Zero values are replaced with safe
// defaults by NewOverlay.
type OverlayConfig struct {
	// Gateway is the local overlay gateway as host:port.
	Gateway string
	Timeout time.Duration
	// Retries is the number of whole-attempt tries before giving up.
	Retries int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
	// Client may be nil to use a timeout-tuned default.
	Client *http.Client
}

func (c *OverlayConfig) applyDefaults() {
	if c.Gateway == "" {
		c.Gateway = "127.0.0.1:43110"
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Client == nil {
		c.Client = httpclient.WithTimeout(c.Timeout)
	}
}

// OverlayFetcher fetches overlay-network pages through the local gateway.
// The gateway may serve a wrapper document that only references the real
// site content, and freshly visited sites need time to sync, so each fetch
// follows one redirect marker and the whole attempt is retried with
// exponential backoff on transient failure or empty content.
type OverlayFetcher struct {
	cfg OverlayConfig
}

// NewOverlay returns an overlay fetcher for cfg.
func NewOverlay(cfg OverlayConfig) *OverlayFetcher {
	cfg.applyDefaults()
	return &OverlayFetcher{cfg: cfg}
}

// Fetch implements Fetcher.
func (f *OverlayFetcher) Fetch(ctx context.Context, address string) (string, error) {
	internal, err := f.rewrite(address)
	if err != nil {
		return "", &Error{Address: address, Err: err}
	}

	var lastErr error
	delay := f.cfg.Backoff
	for attempt := 0; attempt < f.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &Error{Address: address, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}
		body, err := f.attempt(ctx, internal)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(body) == "" {
			lastErr = errors.New("empty document")
			continue
		}
		return body, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return "", &Error{Address: address, Err: fmt.Errorf("after %d attempts: %w", f.cfg.Retries, lastErr)}
}

// rewrite converts an external overlay address into a gateway URL. zero://
// addresses go to the configured gateway; addresses that already carry a
// gateway host keep it.
func (f *OverlayFetcher) rewrite(address string) (string, error) {
	if strings.HasPrefix(address, "zero://") {
		return "http://" + f.cfg.Gateway + "/" + strings.TrimPrefix(address, "zero://"), nil
	}
	if idx := strings.Index(address, overlayPort); idx >= 0 {
		u, err := url.Parse(address)
		if err != nil || u.Host == "" {
			// Malformed but recognizable: route the path through our gateway.
			return "http://" + f.cfg.Gateway + "/" + address[idx+len(overlayPort):], nil
		}
		return address, nil
	}
	return "", fmt.Errorf("not an overlay address: %s", address)
}

func (f *OverlayFetcher) attempt(ctx context.Context, internal string) (string, error) {
	body, err := f.get(ctx, internal)
	if err != nil {
		return "", err
	}
	// Wrapper pages reference the real document; prefer it when it actually
	// contains channel markers.
	if secondary := redirectTarget(body); secondary != "" {
		target := resolveRef(internal, secondary)
		if inner, err := f.get(ctx, target); err == nil && strings.Contains(inner, channelMarker) {
			return inner, nil
		}
	}
	return body, nil
}

func (f *OverlayFetcher) get(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	httpclient.SetBrowserHeaders(req)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// redirectTarget extracts the secondary-document reference from a wrapper
// page, if any.
func redirectTarget(body string) string {
	if m := metaRefreshRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	if m := iframeSrcRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

func resolveRef(base, ref string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}
