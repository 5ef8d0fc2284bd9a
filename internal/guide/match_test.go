package guide

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/store"
)

type fakeRepo struct {
	channels []catalog.Channel
	entries  []catalog.GuideEntry
	rules    []catalog.PatternRule

	applied  []store.GuideUpdate
	applyErr error
}

func (f *fakeRepo) Channels(context.Context) ([]catalog.Channel, error) {
	return f.channels, nil
}

func (f *fakeRepo) GuideEntries(context.Context) ([]catalog.GuideEntry, error) {
	return f.entries, nil
}

func (f *fakeRepo) PatternRules(context.Context) ([]catalog.PatternRule, error) {
	return f.rules, nil
}

func (f *fakeRepo) ApplyGuideUpdates(_ context.Context, updates []store.GuideUpdate) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, updates...)
	return nil
}

func newEngine(repo *fakeRepo) *Engine {
	return &Engine{Repo: repo, Log: zerolog.Nop()}
}

func TestIDMatchBeatsPattern(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "Sports One", GuideID: "g1"}},
		entries: []catalog.GuideEntry{
			{ID: "g1", Name: "Guide Sports"},
			{ID: "g2", Name: "Other Guide"},
		},
		rules: []catalog.PatternRule{{Pattern: "sports", GuideID: "g2"}},
	}
	_, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.75})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "g1", results[0].GuideID)
	require.Equal(t, catalog.MatchID, results[0].Method)
	require.Equal(t, 1.0, results[0].Score)
}

func TestExactNameMatch(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "News  24"}},
		entries:  []catalog.GuideEntry{{ID: "g1", Name: "news 24"}},
	}
	_, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.75})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, catalog.MatchExactName, results[0].Method)
	require.Equal(t, "g1", results[0].GuideID)
}

func TestPatternPrefersMoreSpecificRule(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "sports one extra"}},
		entries: []catalog.GuideEntry{
			{ID: "gGeneric", Name: "AAA"},
			{ID: "gSpecific", Name: "BBB"},
		},
		rules: []catalog.PatternRule{
			{Pattern: "sports", GuideID: "gGeneric"},
			{Pattern: "sports one", GuideID: "gSpecific"},
		},
	}
	_, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.99})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, catalog.MatchPattern, results[0].Method)
	require.Equal(t, "gSpecific", results[0].GuideID)
}

func TestPatternRuleWithUnknownGuideIDLoses(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "sports one"}},
		entries:  []catalog.GuideEntry{{ID: "gKnown", Name: "ZZZ"}},
		rules: []catalog.PatternRule{
			{Pattern: "sports one", GuideID: "gMissing"},
			{Pattern: "sports", GuideID: "gKnown"},
		},
	}
	_, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.99})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "gKnown", results[0].GuideID)
}

func TestExclusionClearsGuideFields(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{
			{ID: "c1", Name: "Sports One PROMO", GuideID: "stale", GuideName: "Stale"},
		},
		entries: []catalog.GuideEntry{{ID: "g2", Name: "Other"}},
		rules: []catalog.PatternRule{
			{Pattern: "sports", GuideID: "g2"},
			{Pattern: "promo", Exclusion: true},
		},
	}
	stats, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.75, Apply: true})
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, 1, stats.Excluded)
	require.Len(t, repo.applied, 1)
	require.True(t, repo.applied[0].Clear)
	require.True(t, repo.applied[0].ClearLogo)
}

func TestFuzzyMatchScenario(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "Sports One"}},
		entries:  []catalog.GuideEntry{{ID: "g1", Name: "Sports One HD"}},
	}
	stats, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.75, Apply: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, catalog.MatchFuzzy, results[0].Method)
	require.Equal(t, "g1", results[0].GuideID)
	require.Equal(t, 1, stats.ByMethod[catalog.MatchFuzzy])
	require.Len(t, repo.applied, 1)
	require.Equal(t, "g1", repo.applied[0].GuideID)
	require.Equal(t, "Sports One HD", repo.applied[0].GuideName)
}

func TestFuzzyThresholdBoundary(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "abcd"}},
		entries:  []catalog.GuideEntry{{ID: "g1", Name: "abxy"}},
	}
	score := Ratio("abcd", "abxy")

	// Exactly at the threshold: accepted.
	_, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: score})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, catalog.MatchFuzzy, results[0].Method)
	require.Equal(t, score, results[0].Score)

	// Just above the candidate's score: rejected.
	_, results, err = newEngine(repo).Match(context.Background(), Options{Threshold: score + 1e-9})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestFuzzyTieKeepsFirstEntry(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "abcd"}},
		entries: []catalog.GuideEntry{
			{ID: "gFirst", Name: "abxy"},
			{ID: "gSecond", Name: "abzq"},
		},
	}
	_, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.4})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "gFirst", results[0].GuideID)
}

func TestRespectExistingSkipsLocked(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{
			{ID: "c1", Name: "News 24", GuideID: "manual", GuideLocked: true},
		},
		entries: []catalog.GuideEntry{{ID: "g1", Name: "News 24"}},
	}
	stats, results, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.75, RespectExisting: true})
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, 1, stats.Skipped)
}

func TestCleanUnmatched(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{
			{ID: "c1", Name: "Zq Wx", GuideID: "stale", GuideName: "Stale"},
		},
		entries: []catalog.GuideEntry{{ID: "g1", Name: "Completely Different"}},
	}
	stats, _, err := newEngine(repo).Match(context.Background(),
		Options{Threshold: 0.99, Apply: true, CleanUnmatched: true})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Cleaned)
	require.Len(t, repo.applied, 1)
	require.True(t, repo.applied[0].Clear)
	require.False(t, repo.applied[0].ClearLogo)
}

func TestApplyFailureSurfacesAsApplyError(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "News 24"}},
		entries:  []catalog.GuideEntry{{ID: "g1", Name: "News 24"}},
		applyErr: errors.New("disk full"),
	}
	_, _, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.75, Apply: true})
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
}

func TestMatchCarriesGuideIcon(t *testing.T) {
	repo := &fakeRepo{
		channels: []catalog.Channel{{ID: "c1", Name: "News 24", Logo: ""}},
		entries:  []catalog.GuideEntry{{ID: "g1", Name: "News 24", Icon: "http://x/icon.png"}},
	}
	_, _, err := newEngine(repo).Match(context.Background(), Options{Threshold: 0.75, Apply: true})
	require.NoError(t, err)
	require.Len(t, repo.applied, 1)
	require.Equal(t, "http://x/icon.png", repo.applied[0].Logo)
}
