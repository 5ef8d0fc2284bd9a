// Package guide owns the program-guide dataset: refreshing it from external
// feeds and associating harvested channels with its entries. Matching runs
// four strategies in a fixed priority order (exact id, exact name, pattern
// rules, fuzzy similarity) and either previews or applies the result.
package guide

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/store"
)

var (
	bracketRe    = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	resolutionRe = regexp.MustCompile(`^\d{3,4}[pi]$`)
	hdMarkerRe   = regexp.MustCompile(`(?i)hd`)
)

// noiseTokens are quality markers and generic filler words that carry no
// identity.
var noiseTokens = map[string]bool{
	"hd": true, "uhd": true, "fhd": true, "fullhd": true, "sd": true,
	"4k": true, "8k": true, "hq": true,
	"channel": true, "tv": true, "television": true, "official": true,
}

// NormalizeName reduces a display name to its identity tokens: lowercase,
// bracketed codes and non-word characters stripped, quality and filler tokens
// dropped. Idempotent.
func NormalizeName(s string) string {
	s = strings.ToLower(s)
	s = bracketRe.ReplaceAllString(s, " ")
	s = nonWordRe.ReplaceAllString(s, " ")
	var kept []string
	for _, tok := range strings.Fields(s) {
		if noiseTokens[tok] || resolutionRe.MatchString(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// Repository is the slice of the catalog store the matching engine consumes
// and mutates.
type Repository interface {
	Channels(ctx context.Context) ([]catalog.Channel, error)
	GuideEntries(ctx context.Context) ([]catalog.GuideEntry, error)
	PatternRules(ctx context.Context) ([]catalog.PatternRule, error)
	ApplyGuideUpdates(ctx context.Context, updates []store.GuideUpdate) error
}

// Options selects the matching pass behavior.
type Options struct {
	// Threshold is the minimum fuzzy similarity, in (0,1]. A score exactly
	// equal to the threshold is accepted.
	Threshold float64
	// Apply writes the results back; otherwise the pass only previews.
	Apply bool
	// RespectExisting skips channels whose guide data is locked and present.
	RespectExisting bool
	// CleanUnmatched clears guide fields on channels no strategy matched.
	// Ignored when RespectExisting is set.
	CleanUnmatched bool
}

// MatchStats summarizes one matching pass.
type MatchStats struct {
	Channels int
	Matched  int
	Updated  int
	Cleaned  int
	Excluded int
	Skipped  int
	ByMethod map[catalog.MatchMethod]int
}

func (s MatchStats) String() string {
	return fmt.Sprintf("channels=%d matched=%d updated=%d cleaned=%d excluded=%d skipped=%d",
		s.Channels, s.Matched, s.Updated, s.Cleaned, s.Excluded, s.Skipped)
}

// ApplyError wraps a persistence failure during an applied matching pass.
// The whole pass rolls back; nothing is partially written.
type ApplyError struct {
	Err error
}

func (e *ApplyError) Error() string { return fmt.Sprintf("apply guide matches: %v", e.Err) }

func (e *ApplyError) Unwrap() error { return e.Err }

// Engine matches harvested channels against the guide dataset.
type Engine struct {
	Repo Repository
	Log  zerolog.Logger
}

// Match runs one matching pass over the whole catalog. With Apply set the
// results are written in a single transaction; a persistence failure rolls
// everything back and surfaces as *ApplyError. Without Apply the returned
// MatchResults describe what would happen.
func (e *Engine) Match(ctx context.Context, opts Options) (MatchStats, []catalog.MatchResult, error) {
	stats := MatchStats{ByMethod: map[catalog.MatchMethod]int{}}

	channels, err := e.Repo.Channels(ctx)
	if err != nil {
		return stats, nil, fmt.Errorf("guide: load channels: %w", err)
	}
	entries, err := e.Repo.GuideEntries(ctx)
	if err != nil {
		return stats, nil, fmt.Errorf("guide: load entries: %w", err)
	}
	rules, err := e.Repo.PatternRules(ctx)
	if err != nil {
		return stats, nil, fmt.Errorf("guide: load pattern rules: %w", err)
	}

	idx := newEntryIndex(entries)
	var exclusions, patterns []catalog.PatternRule
	for _, r := range rules {
		if r.Exclusion {
			exclusions = append(exclusions, r)
		} else {
			patterns = append(patterns, r)
		}
	}

	var results []catalog.MatchResult
	var updates []store.GuideUpdate

	for _, ch := range channels {
		stats.Channels++

		if opts.RespectExisting && ch.GuideLocked && ch.GuideID != "" {
			stats.Skipped++
			continue
		}

		// Strategy 1: the channel already carries a known guide id.
		if ch.GuideID != "" {
			if entry, ok := idx.byID[ch.GuideID]; ok {
				res := catalog.MatchResult{ChannelID: ch.ID, GuideID: entry.ID, Score: 1, Method: catalog.MatchID}
				results = append(results, res)
				e.record(&stats, &updates, ch, entry, res, opts)
				continue
			}
		}

		// Strategy 2: case-folded name equality. The heavier normalization
		// is reserved for fuzzy, so "Sports One HD" and "Sports One" are
		// not considered exactly equal.
		if entry, ok := idx.byName[foldName(ch.Name)]; ok && ch.Name != "" {
			res := catalog.MatchResult{ChannelID: ch.ID, GuideID: entry.ID, Score: 1, Method: catalog.MatchExactName}
			results = append(results, res)
			e.record(&stats, &updates, ch, entry, res, opts)
			continue
		}

		// An exclusion rule overrides every remaining strategy.
		if excluded(ch.Name, exclusions) {
			stats.Excluded++
			stats.Cleaned++
			if opts.Apply {
				updates = append(updates, store.GuideUpdate{ChannelID: ch.ID, Clear: true, ClearLogo: true})
			}
			continue
		}

		// Strategy 3: pattern rules, highest deterministic score wins.
		if entry, ok := bestPatternMatch(ch.Name, patterns, idx); ok {
			res := catalog.MatchResult{ChannelID: ch.ID, GuideID: entry.ID, Score: 1, Method: catalog.MatchPattern}
			results = append(results, res)
			e.record(&stats, &updates, ch, entry, res, opts)
			continue
		}

		// Strategy 4: fuzzy similarity over normalized names.
		if entry, score, ok := idx.bestFuzzy(NormalizeName(ch.Name), opts.Threshold); ok {
			res := catalog.MatchResult{ChannelID: ch.ID, GuideID: entry.ID, Score: score, Method: catalog.MatchFuzzy}
			results = append(results, res)
			e.record(&stats, &updates, ch, entry, res, opts)
			continue
		}

		if opts.CleanUnmatched && !opts.RespectExisting && (ch.GuideID != "" || ch.GuideName != "") {
			stats.Cleaned++
			if opts.Apply {
				updates = append(updates, store.GuideUpdate{ChannelID: ch.ID, Clear: true})
			}
		}
	}

	if opts.Apply && len(updates) > 0 {
		if err := e.Repo.ApplyGuideUpdates(ctx, updates); err != nil {
			return stats, nil, &ApplyError{Err: err}
		}
		stats.Updated = len(updates)
	}
	e.Log.Info().Stringer("stats", stats).Bool("apply", opts.Apply).Msg("matching pass done")
	return stats, results, nil
}

func (e *Engine) record(stats *MatchStats, updates *[]store.GuideUpdate, ch catalog.Channel, entry catalog.GuideEntry, res catalog.MatchResult, opts Options) {
	stats.Matched++
	stats.ByMethod[res.Method]++
	metrics.Matches.WithLabelValues(string(res.Method)).Inc()
	if opts.Apply {
		// Guide id and name are overwritten on every pass; the logo only
		// fills an empty slot.
		*updates = append(*updates, store.GuideUpdate{
			ChannelID: ch.ID,
			GuideID:   entry.ID,
			GuideName: entry.Name,
			Logo:      entry.Icon,
		})
	}
}

func excluded(name string, exclusions []catalog.PatternRule) bool {
	lower := strings.ToLower(name)
	for _, r := range exclusions {
		if r.Pattern != "" && strings.Contains(lower, strings.ToLower(r.Pattern)) {
			return true
		}
	}
	return false
}

// bestPatternMatch scores every rule whose pattern is a substring of the
// channel name and returns the entry behind the highest-scoring rule. Ties
// keep the first rule encountered. Rules pointing at unknown guide ids lose.
func bestPatternMatch(name string, rules []catalog.PatternRule, idx *entryIndex) (catalog.GuideEntry, bool) {
	lower := strings.ToLower(name)
	best := -1
	var bestEntry catalog.GuideEntry
	var found bool
	for _, r := range rules {
		pat := strings.ToLower(r.Pattern)
		if pat == "" || !strings.Contains(lower, pat) {
			continue
		}
		entry, ok := idx.byID[r.GuideID]
		if !ok {
			continue
		}
		if s := patternScore(lower, pat); s > best {
			best = s
			bestEntry = entry
			found = true
		}
	}
	return bestEntry, found
}

// patternScore ranks how specifically a pattern describes a channel name.
// Longer and more anchored patterns win over incidental substring hits.
func patternScore(name, pattern string) int {
	score := len(pattern) * 10
	if name == pattern {
		score += 10000
	}
	if strings.HasPrefix(name, pattern) {
		score += 3000
	}
	if strings.HasPrefix(name, pattern+" ") {
		score += 2500
	}
	nameWords := strings.Fields(name)
	patWords := strings.Fields(pattern)
	wordSet := map[string]bool{}
	for _, w := range nameWords {
		wordSet[w] = true
	}
	hits := 0
	for _, w := range patWords {
		if wordSet[w] {
			hits++
		}
	}
	score += 1000 * hits
	if hits == len(patWords) && len(patWords) > 0 &&
		strings.Contains(" "+strings.Join(nameWords, " ")+" ", " "+strings.Join(patWords, " ")+" ") {
		score += 500
	}
	if strings.ContainsAny(pattern, "0123456789") {
		score += 1500
	}
	if len(patWords) > 0 && len(nameWords) > 0 && patWords[0] == nameWords[0] {
		score += 1800
	}
	return score
}

// foldName is the light normalization used for exact-name equality:
// lowercase with collapsed whitespace, nothing stripped.
func foldName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// entryIndex precomputes the lookups the strategies need: id, case-folded
// name, and fuzzy aliases (the normalized name plus a variant with embedded
// HD markers removed).
type entryIndex struct {
	byID    map[string]catalog.GuideEntry
	byName  map[string]catalog.GuideEntry
	ordered []fuzzyCandidate
}

type fuzzyCandidate struct {
	entry   catalog.GuideEntry
	aliases []string
}

func newEntryIndex(entries []catalog.GuideEntry) *entryIndex {
	idx := &entryIndex{
		byID:   make(map[string]catalog.GuideEntry, len(entries)),
		byName: make(map[string]catalog.GuideEntry, len(entries)),
	}
	for _, e := range entries {
		if _, dup := idx.byID[e.ID]; !dup {
			idx.byID[e.ID] = e
		}
		if folded := foldName(e.Name); folded != "" {
			if _, dup := idx.byName[folded]; !dup {
				idx.byName[folded] = e
			}
		}
		norm := NormalizeName(e.Name)
		aliases := []string{norm}
		if alias := NormalizeName(hdMarkerRe.ReplaceAllString(e.Name, "")); alias != norm && alias != "" {
			aliases = append(aliases, alias)
		}
		idx.ordered = append(idx.ordered, fuzzyCandidate{entry: e, aliases: aliases})
	}
	return idx
}

// bestFuzzy returns the entry with the highest similarity to norm, accepting
// only scores at or above the threshold. Strictly greater scores win; ties
// keep the first entry in iteration order.
func (x *entryIndex) bestFuzzy(norm string, threshold float64) (catalog.GuideEntry, float64, bool) {
	if norm == "" {
		return catalog.GuideEntry{}, 0, false
	}
	var best float64 = -1
	var bestEntry catalog.GuideEntry
	for _, c := range x.ordered {
		for _, alias := range c.aliases {
			if alias == "" {
				continue
			}
			if r := Ratio(norm, alias); r > best {
				best = r
				bestEntry = c.entry
			}
		}
	}
	if best < threshold {
		return catalog.GuideEntry{}, 0, false
	}
	return bestEntry, best, true
}
