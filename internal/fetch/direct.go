package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acescout/acescout/internal/httpclient"
)

// DirectFetcher fetches a plain HTTP(S) page with browser-like headers.
// It never retries; the scheduler re-queues failed sources across cycles.
type DirectFetcher struct {
	client *http.Client
}

// NewDirect returns a direct fetcher with the given request timeout.
func NewDirect(timeout time.Duration) *DirectFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DirectFetcher{client: httpclient.WithTimeout(timeout)}
}

// Fetch implements Fetcher.
func (f *DirectFetcher) Fetch(ctx context.Context, address string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return "", &Error{Address: address, Err: err}
	}
	httpclient.SetBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &Error{Address: address, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Address: address, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Address: address, Err: err}
	}
	return string(body), nil
}
