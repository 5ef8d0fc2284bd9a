package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acescout/acescout/internal/catalog"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddGetSource(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddSource(ctx, catalog.Source{
		ID: "s1", URL: "http://x/page", Kind: catalog.SourceDirect, Enabled: true,
	}))

	got, err := s.GetSource(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "http://x/page", got.URL)
	require.Equal(t, catalog.StatusPending, got.Status)
	require.True(t, got.Enabled)
	require.False(t, got.AddedAt.IsZero())

	_, err = s.GetSource(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDueSources(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(src catalog.Source) {
		t.Helper()
		require.NoError(t, s.AddSource(ctx, src))
	}
	add(catalog.Source{ID: "pending", URL: "http://x/1", Kind: catalog.SourceDirect, Enabled: true})
	add(catalog.Source{ID: "failed-low", URL: "http://x/2", Kind: catalog.SourceDirect, Enabled: true,
		Status: catalog.StatusFailed, ErrorCount: 2, LastProcessed: now})
	add(catalog.Source{ID: "failed-max", URL: "http://x/3", Kind: catalog.SourceDirect, Enabled: true,
		Status: catalog.StatusFailed, ErrorCount: 3, LastProcessed: now})
	add(catalog.Source{ID: "ok-fresh", URL: "http://x/4", Kind: catalog.SourceDirect, Enabled: true,
		Status: catalog.StatusOK, LastProcessed: now})
	add(catalog.Source{ID: "ok-stale", URL: "http://x/5", Kind: catalog.SourceDirect, Enabled: true,
		Status: catalog.StatusOK, LastProcessed: now.Add(-48 * time.Hour)})
	add(catalog.Source{ID: "disabled", URL: "http://x/6", Kind: catalog.SourceDirect, Enabled: false,
		Status: catalog.StatusDisabled})

	due, err := s.DueSources(ctx, now.Add(-6*time.Hour), 3)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, src := range due {
		ids[src.ID] = true
	}
	require.True(t, ids["pending"])
	require.True(t, ids["failed-low"])
	require.True(t, ids["ok-stale"])
	require.False(t, ids["failed-max"], "failed source at max retries must not be due")
	require.False(t, ids["ok-fresh"], "recently processed source must not be due")
	require.False(t, ids["disabled"], "disabled source must never be due")
}

func TestUpdateSourceStatus(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddSource(ctx, catalog.Source{ID: "s1", URL: "http://x/1", Kind: catalog.SourceDirect, Enabled: true}))

	require.NoError(t, s.UpdateSourceStatus(ctx, "s1", catalog.StatusFailed, "timeout"))
	require.NoError(t, s.UpdateSourceStatus(ctx, "s1", catalog.StatusFailed, "timeout"))
	got, err := s.GetSource(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, got.ErrorCount)
	require.Equal(t, "timeout", got.LastError)
	require.False(t, got.LastProcessed.IsZero())

	require.NoError(t, s.UpdateSourceStatus(ctx, "s1", catalog.StatusOK, ""))
	got, err = s.GetSource(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 0, got.ErrorCount)
	require.Empty(t, got.LastError)
	require.Equal(t, catalog.StatusOK, got.Status)

	require.ErrorIs(t, s.UpdateSourceStatus(ctx, "missing", catalog.StatusOK, ""), ErrNotFound)
}

func TestReplaceSourceChannels(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	stats, err := s.ReplaceSourceChannels(ctx, "s1", []catalog.Channel{
		{ID: "a", Name: "Alpha", Logo: "http://x/a.png"},
		{ID: "b", Name: "Beta"},
	})
	require.NoError(t, err)
	require.Equal(t, ReplaceStats{Created: 2}, stats)

	// Second pass: "a" survives with a new name but an empty logo, "b" is
	// gone, "c" is new.
	stats, err = s.ReplaceSourceChannels(ctx, "s1", []catalog.Channel{
		{ID: "a", Name: "Alpha Two"},
		{ID: "c", Name: "Gamma"},
	})
	require.NoError(t, err)
	require.Equal(t, ReplaceStats{Created: 1, Updated: 1, Removed: 1}, stats)

	chs, err := s.ChannelsBySource(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chs, 2)
	byID := map[string]catalog.Channel{}
	for _, ch := range chs {
		byID[ch.ID] = ch
	}
	require.Equal(t, "Alpha Two", byID["a"].Name)
	require.Equal(t, "http://x/a.png", byID["a"].Logo, "empty incoming logo must not wipe the stored one")
	require.Equal(t, "Gamma", byID["c"].Name)
	require.NotContains(t, byID, "b")
}

func TestDeleteChannelsOlderThan(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, catalog.Channel{ID: "a", Name: "Alpha", SourceID: "s1"}))

	n, err := s.DeleteChannelsOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.DeleteChannelsOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestUpdateChannelLiveness(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, catalog.Channel{ID: "a", Name: "Alpha", SourceID: "s1"}))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateChannelLiveness(ctx, "a", true, "", at))

	chs, err := s.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, chs, 1)
	require.True(t, chs[0].IsOnline)
	require.Empty(t, chs[0].CheckError)
	require.True(t, chs[0].LastChecked.Equal(at))

	require.NoError(t, s.UpdateChannelLiveness(ctx, "a", false, "not live", at))
	chs, err = s.Channels(ctx)
	require.NoError(t, err)
	require.False(t, chs[0].IsOnline)
	require.Equal(t, "not live", chs[0].CheckError)
}

func TestGuideSourceLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.AddGuideSource(ctx, catalog.GuideSource{URL: "http://x/guide.xml", Name: "main", Enabled: true})
	require.NoError(t, err)
	_, err = s.AddGuideSource(ctx, catalog.GuideSource{URL: "http://x/off.xml", Enabled: false})
	require.NoError(t, err)

	enabled, err := s.EnabledGuideSources(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	require.Equal(t, id, enabled[0].ID)

	require.NoError(t, s.UpdateGuideSourceResult(ctx, id, "boom"))
	require.NoError(t, s.UpdateGuideSourceResult(ctx, id, "boom"))
	enabled, err = s.EnabledGuideSources(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, enabled[0].ErrorCount)
	require.Equal(t, "boom", enabled[0].LastError)

	require.NoError(t, s.UpdateGuideSourceResult(ctx, id, ""))
	enabled, err = s.EnabledGuideSources(ctx)
	require.NoError(t, err)
	require.Zero(t, enabled[0].ErrorCount)
	require.False(t, enabled[0].LastUpdated.IsZero())
}

func TestReplaceGuideEntries(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.AddGuideSource(ctx, catalog.GuideSource{URL: "http://x/guide.xml", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceGuideEntries(ctx, id, []catalog.GuideEntry{
		{ID: "g1", Name: "News 24", Icon: "http://x/i.png", Language: "en"},
		{ID: "g2", Name: "Sports One"},
	}))
	require.NoError(t, s.ReplaceGuideEntries(ctx, id, []catalog.GuideEntry{
		{ID: "g2", Name: "Sports One HD"},
	}))

	entries, err := s.GuideEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "g2", entries[0].ID)
	require.Equal(t, "Sports One HD", entries[0].Name)
	require.Equal(t, id, entries[0].SourceID)
}

func TestApplyGuideUpdates(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, catalog.Channel{ID: "a", Name: "Alpha", SourceID: "s1", Logo: "http://x/keep.png"}))
	require.NoError(t, s.UpsertChannel(ctx, catalog.Channel{ID: "b", Name: "Beta", SourceID: "s1"}))

	require.NoError(t, s.ApplyGuideUpdates(ctx, []GuideUpdate{
		{ChannelID: "a", GuideID: "g1", GuideName: "Guide A", Logo: "http://x/new.png"},
		{ChannelID: "b", GuideID: "g2", GuideName: "Guide B", Logo: "http://x/b.png"},
	}))

	chs, err := s.Channels(ctx)
	require.NoError(t, err)
	byID := map[string]catalog.Channel{}
	for _, ch := range chs {
		byID[ch.ID] = ch
	}
	require.Equal(t, "g1", byID["a"].GuideID)
	require.Equal(t, "http://x/keep.png", byID["a"].Logo, "logo is first-writer-wins")
	require.Equal(t, "http://x/b.png", byID["b"].Logo, "empty logo slot gets filled")

	require.NoError(t, s.ApplyGuideUpdates(ctx, []GuideUpdate{
		{ChannelID: "a", Clear: true, ClearLogo: true},
		{ChannelID: "b", Clear: true},
	}))
	chs, err = s.Channels(ctx)
	require.NoError(t, err)
	for _, ch := range chs {
		byID[ch.ID] = ch
	}
	require.Empty(t, byID["a"].GuideID)
	require.Empty(t, byID["a"].Logo)
	require.Empty(t, byID["b"].GuideID)
	require.Equal(t, "http://x/b.png", byID["b"].Logo, "plain clear keeps the logo")
}

func TestPatternRules(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.AddPatternRule(ctx, catalog.PatternRule{Pattern: "sports", GuideID: "g1"})
	require.NoError(t, err)
	_, err = s.AddPatternRule(ctx, catalog.PatternRule{Pattern: "sports", GuideID: "", Exclusion: true})
	require.NoError(t, err)
	_, err = s.AddPatternRule(ctx, catalog.PatternRule{Pattern: "sports", GuideID: "g2"})
	require.Error(t, err, "pattern text is unique within its polarity")

	rules, err := s.PatternRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.False(t, rules[0].Exclusion)
	require.True(t, rules[1].Exclusion)
}

func TestDeleteSourceRemovesChannels(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddSource(ctx, catalog.Source{ID: "s1", URL: "http://x/1", Kind: catalog.SourceDirect, Enabled: true}))
	require.NoError(t, s.UpsertChannel(ctx, catalog.Channel{ID: "a", Name: "Alpha", SourceID: "s1"}))

	require.NoError(t, s.DeleteSource(ctx, "s1"))

	chs, err := s.Channels(ctx)
	require.NoError(t, err)
	require.Empty(t, chs)
	_, err = s.GetSource(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}
