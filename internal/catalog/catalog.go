// Package catalog defines the domain types shared by the harvester: sources
// to scrape, discovered channels, guide (EPG) data and pattern rules.
package catalog

import "time"

// SourceKind selects the fetch strategy for a source. It is a closed variant:
// adding a new protocol means adding a constant here and one Fetcher
// implementation, not branching on URL strings.
type SourceKind string

const (
	SourceDirect  SourceKind = "direct"  // plain HTTP(S) page
	SourceOverlay SourceKind = "overlay" // overlay network page reached via the local gateway
)

// SourceStatus is the lifecycle status of a scraped source.
type SourceStatus string

const (
	StatusPending    SourceStatus = "pending"
	StatusProcessing SourceStatus = "processing"
	StatusOK         SourceStatus = "ok"
	StatusFailed     SourceStatus = "failed"
	StatusDisabled   SourceStatus = "disabled"
)

// Source is a registered remote origin to harvest. A disabled source is never
// selected by the scheduler.
type Source struct {
	ID            string
	URL           string
	Kind          SourceKind
	Enabled       bool
	Status        SourceStatus
	ErrorCount    int
	LastError     string
	AddedAt       time.Time
	LastProcessed time.Time
}

// Channel is one discovered stream. ID is the opaque content token, unique
// across the whole catalog; SourceID points at the source that produced it
// ("manual" and "search" pseudo-sources are permitted).
type Channel struct {
	ID       string
	Name     string
	SourceID string

	Group     string
	Logo      string
	GuideID   string // tvg-id applied by the matching engine or by hand
	GuideName string // tvg-name applied alongside GuideID
	// GuideLocked protects a hand-curated guide mapping from the matcher.
	GuideLocked bool

	IsOnline    bool
	LastChecked time.Time
	CheckError  string

	AddedAt       time.Time
	LastProcessed time.Time
}

// HasGuideData reports whether any guide field is set on the channel.
func (c *Channel) HasGuideData() bool {
	return c.GuideID != "" || c.GuideName != "" || c.Logo != ""
}

// GuideSource is one external program-guide feed (XMLTV).
type GuideSource struct {
	ID          int64
	URL         string
	Name        string
	Enabled     bool
	LastUpdated time.Time
	ErrorCount  int
	LastError   string
}

// GuideEntry is one channel definition from a guide feed. Entries are
// replaced wholesale per source on refresh, never edited in place.
type GuideEntry struct {
	ID       string // external guide id (tvg-id)
	Name     string
	Icon     string
	Language string
	SourceID int64
}

// PatternRule maps a literal text fragment to a guide id. Exclusion rules
// (Exclusion true) clear guide data from any channel whose name contains the
// pattern. Pattern is unique within its polarity.
type PatternRule struct {
	ID        int64
	Pattern   string
	GuideID   string
	Exclusion bool
}

// MatchMethod tags how a channel/guide association was produced.
type MatchMethod string

const (
	MatchID        MatchMethod = "id_match"
	MatchExactName MatchMethod = "exact_name"
	MatchPattern   MatchMethod = "pattern"
	MatchFuzzy     MatchMethod = "fuzzy"
)

// MatchResult is one proposed channel/guide association. It is ephemeral:
// the matching engine either applies it or returns it for preview, it is
// never persisted.
type MatchResult struct {
	ChannelID string
	GuideID   string
	Score     float64
	Method    MatchMethod
}
