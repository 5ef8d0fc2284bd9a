package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/guide"
	"github.com/acescout/acescout/internal/scrape"
)

type fakeRepo struct {
	due     []catalog.Source
	expired int64
	cleaned bool
}

func (f *fakeRepo) DueSources(context.Context, time.Time, int) ([]catalog.Source, error) {
	return f.due, nil
}

func (f *fakeRepo) DeleteChannelsOlderThan(context.Context, time.Time) (int64, error) {
	f.cleaned = true
	return f.expired, nil
}

type fakeScraper struct {
	mu       sync.Mutex
	scraped  []string
	channels int
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeScraper) Scrape(_ context.Context, src catalog.Source) (scrape.Stats, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.scraped = append(f.scraped, src.ID)
	f.mu.Unlock()
	return scrape.Stats{SourceID: src.ID, Channels: f.channels}, nil
}

type fakeMatcher struct {
	calls int
	err   error
}

func (f *fakeMatcher) Match(context.Context, guide.Options) (guide.MatchStats, []catalog.MatchResult, error) {
	f.calls++
	return guide.MatchStats{Matched: 1}, nil, f.err
}

func newTestScheduler(repo *fakeRepo, scraper *fakeScraper, matcher *fakeMatcher, cfg Config) *Scheduler {
	return New(repo, scraper, matcher, guide.Options{Threshold: 0.75, Apply: true}, cfg, zerolog.Nop())
}

func TestCycleScrapesDueAndMatches(t *testing.T) {
	repo := &fakeRepo{due: []catalog.Source{{ID: "s1"}, {ID: "s2"}}}
	scraper := &fakeScraper{channels: 3}
	matcher := &fakeMatcher{}
	s := newTestScheduler(repo, scraper, matcher, Config{})

	stats, err := s.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatalf("RunCycleOnce error: %v", err)
	}
	if stats.Due != 2 || stats.Scraped != 2 || stats.Channels != 6 {
		t.Fatalf("stats=%+v", stats)
	}
	if matcher.calls != 1 {
		t.Fatalf("matcher calls=%d want 1", matcher.calls)
	}
	if stats.Match == nil || stats.Match.Matched != 1 {
		t.Fatalf("match stats=%+v", stats.Match)
	}
}

func TestCycleWithoutChannelsSkipsMatching(t *testing.T) {
	repo := &fakeRepo{due: []catalog.Source{{ID: "s1"}}}
	scraper := &fakeScraper{channels: 0}
	matcher := &fakeMatcher{}
	s := newTestScheduler(repo, scraper, matcher, Config{})

	if _, err := s.RunCycleOnce(context.Background()); err != nil {
		t.Fatalf("RunCycleOnce error: %v", err)
	}
	if matcher.calls != 0 {
		t.Fatalf("matcher calls=%d want 0", matcher.calls)
	}
}

func TestInFlightSourceSkipped(t *testing.T) {
	repo := &fakeRepo{due: []catalog.Source{{ID: "s1"}}}
	scraper := &fakeScraper{block: make(chan struct{}), started: make(chan struct{}, 1)}
	matcher := &fakeMatcher{}
	s := newTestScheduler(repo, scraper, matcher, Config{})

	go s.ScrapeOne(context.Background(), catalog.Source{ID: "s1"})
	<-scraper.started

	stats, err := s.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatalf("RunCycleOnce error: %v", err)
	}
	if stats.Scraped != 0 || stats.Failed != 0 {
		t.Fatalf("in-flight source was re-entered: %+v", stats)
	}
	close(scraper.block)
}

func TestScrapeOneRejectsDuplicate(t *testing.T) {
	scraper := &fakeScraper{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newTestScheduler(&fakeRepo{}, scraper, &fakeMatcher{}, Config{})

	go s.ScrapeOne(context.Background(), catalog.Source{ID: "s1"})
	<-scraper.started

	if _, err := s.ScrapeOne(context.Background(), catalog.Source{ID: "s1"}); err == nil {
		t.Fatal("want in-flight rejection")
	}
	close(scraper.block)
}

func TestMatchFailureFailsCycle(t *testing.T) {
	repo := &fakeRepo{due: []catalog.Source{{ID: "s1"}}}
	scraper := &fakeScraper{channels: 1}
	matcher := &fakeMatcher{err: &guide.ApplyError{Err: errors.New("disk full")}}
	s := newTestScheduler(repo, scraper, matcher, Config{})

	_, err := s.RunCycleOnce(context.Background())
	var applyErr *guide.ApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("err=%v want ApplyError", err)
	}
}

func TestCycleExpiresOldChannels(t *testing.T) {
	repo := &fakeRepo{expired: 4}
	s := newTestScheduler(repo, &fakeScraper{}, &fakeMatcher{}, Config{ChannelMaxAge: time.Hour})

	stats, err := s.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatalf("RunCycleOnce error: %v", err)
	}
	if !repo.cleaned || stats.Expired != 4 {
		t.Fatalf("stats=%+v cleaned=%v", stats, repo.cleaned)
	}
}

func TestCleanupDisabledWhenMaxAgeZero(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestScheduler(repo, &fakeScraper{}, &fakeMatcher{}, Config{})

	if _, err := s.RunCycleOnce(context.Background()); err != nil {
		t.Fatalf("RunCycleOnce error: %v", err)
	}
	if repo.cleaned {
		t.Fatal("cleanup ran with ChannelMaxAge zero")
	}
}
