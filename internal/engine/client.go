// Package engine is the client for the local channel-serving engine's HTTP
// status API, used by the liveness prober.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/acescout/acescout/internal/httpclient"
)

// tokenModulus bounds the per-request id the engine echoes back in logs.
const tokenModulus = 1_000_000_000

// newerDownloadMarker in an engine error means a fresher copy of the content
// is already being served, which is a positive liveness signal.
const newerDownloadMarker = "got newer download"

// Status is the liveness verdict for one channel.
type Status struct {
	Online bool
	Error  string
}

// Client queries the serving engine over loopback HTTP.
type Client struct {
	base   string
	client *http.Client
	token  atomic.Uint64
}

// New returns a client for the engine at baseURL (scheme://host:port).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: httpclient.WithTimeout(timeout),
	}
}

// BaseURL returns the engine address the client talks to.
func (c *Client) BaseURL() string { return c.base }

// Ping reports whether the engine answers at all. Any HTTP response counts;
// only transport failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/webui/api/service?method=get_version", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// GetStatus asks the engine whether the channel behind id is live. Probe
// failures are results, not errors: any transport failure or malformed body
// comes back as offline with the cause recorded.
func (c *Client) GetStatus(ctx context.Context, channelID string) Status {
	q := url.Values{}
	q.Set("id", channelID)
	q.Set("format", "json")
	q.Set("method", "get_status")
	q.Set("pid", fmt.Sprint(c.nextToken()))
	u := c.base + "/ace/getstream?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{Error: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Status{Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var body struct {
		Response struct {
			IsLive int `json:"is_live"`
		} `json:"response"`
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Status{Error: err.Error()}
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Status{Error: "malformed engine response"}
	}
	if body.Error != "" {
		if strings.Contains(body.Error, newerDownloadMarker) {
			return Status{Online: true}
		}
		return Status{Error: body.Error}
	}
	if body.Response.IsLive == 1 {
		return Status{Online: true}
	}
	return Status{Error: "not live"}
}

// nextToken hands out a wrapping per-request id.
func (c *Client) nextToken() uint64 {
	return c.token.Add(1) % tokenModulus
}
