package guide

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/httpclient"
)

// FeedRepository is the slice of the store the feed refresher uses.
type FeedRepository interface {
	EnabledGuideSources(ctx context.Context) ([]catalog.GuideSource, error)
	UpdateGuideSourceResult(ctx context.Context, id int64, errText string) error
	ReplaceGuideEntries(ctx context.Context, sourceID int64, entries []catalog.GuideEntry) error
}

// Refresher pulls enabled guide feeds (XMLTV) and replaces their entries in
// the store. Sources fail independently; one bad feed never blocks the rest.
type Refresher struct {
	Repo    FeedRepository
	Client  *http.Client
	Timeout time.Duration
	Log     zerolog.Logger
}

// RefreshStats summarizes one refresh run.
type RefreshStats struct {
	Sources int
	Entries int
	Errors  int
}

func (s RefreshStats) String() string {
	return fmt.Sprintf("sources=%d entries=%d errors=%d", s.Sources, s.Entries, s.Errors)
}

// Refresh fetches every enabled guide source and bulk-replaces its entries.
func (r *Refresher) Refresh(ctx context.Context) (RefreshStats, error) {
	var stats RefreshStats
	sources, err := r.Repo.EnabledGuideSources(ctx)
	if err != nil {
		return stats, fmt.Errorf("guide: load sources: %w", err)
	}
	for _, src := range sources {
		stats.Sources++
		n, err := r.refreshOne(ctx, src)
		if err != nil {
			stats.Errors++
			r.Log.Warn().Int64("guide_source", src.ID).Str("url", src.URL).Err(err).Msg("guide refresh failed")
			if uerr := r.Repo.UpdateGuideSourceResult(ctx, src.ID, err.Error()); uerr != nil {
				return stats, fmt.Errorf("guide: record failure for source %d: %w", src.ID, uerr)
			}
			continue
		}
		stats.Entries += n
		if err := r.Repo.UpdateGuideSourceResult(ctx, src.ID, ""); err != nil {
			return stats, fmt.Errorf("guide: record success for source %d: %w", src.ID, err)
		}
		r.Log.Info().Int64("guide_source", src.ID).Int("entries", n).Msg("guide refreshed")
	}
	return stats, nil
}

func (r *Refresher) refreshOne(ctx context.Context, src catalog.GuideSource) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)

	resp, err := httpclient.DoWithRetry(ctx, r.client(), req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	entries, err := parseFeed(resp.Body, src.ID)
	if err != nil {
		return 0, err
	}
	if err := r.Repo.ReplaceGuideEntries(ctx, src.ID, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (r *Refresher) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 60 * time.Second
}

func (r *Refresher) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return httpclient.Default()
}

// parseFeed stream-decodes the channel definitions out of an XMLTV document,
// skipping programme elements without materializing them.
func parseFeed(r io.Reader, sourceID int64) ([]catalog.GuideEntry, error) {
	dec := xml.NewDecoder(r)
	type displayName struct {
		Lang string `xml:"lang,attr"`
		Text string `xml:",chardata"`
	}
	type icon struct {
		Src string `xml:"src,attr"`
	}
	type chNode struct {
		ID           string        `xml:"id,attr"`
		DisplayNames []displayName `xml:"display-name"`
		Icons        []icon        `xml:"icon"`
	}
	var out []catalog.GuideEntry
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "channel" {
			continue
		}
		var node chNode
		if err := dec.DecodeElement(&node, &se); err != nil {
			return nil, err
		}
		if node.ID == "" || len(node.DisplayNames) == 0 {
			continue
		}
		entry := catalog.GuideEntry{
			ID:       node.ID,
			Name:     strings.TrimSpace(node.DisplayNames[0].Text),
			Language: node.DisplayNames[0].Lang,
			SourceID: sourceID,
		}
		if entry.Name == "" {
			continue
		}
		if len(node.Icons) > 0 {
			entry.Icon = node.Icons[0].Src
		}
		out = append(out, entry)
	}
	return out, nil
}
