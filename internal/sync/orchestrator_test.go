// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nordbook/calsync/internal/cache"
	"github.com/nordbook/calsync/internal/config"
	"github.com/nordbook/calsync/internal/ics"
	"github.com/nordbook/calsync/internal/models"
	"github.com/nordbook/calsync/internal/store"
)

// fakeFetcher serves canned ICS bodies per URL and counts fetches.
type fakeFetcher struct {
	mu      stdsync.Mutex
	bodies  map[string][]byte
	errs    map[string]error
	fetches atomic.Int64
	block   chan struct{} // when set, Fetch waits until closed
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.fetches.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("no canned body for " + url)
	}
	return body, nil
}

func (f *fakeFetcher) setBody(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = []byte(body)
	delete(f.errs, url)
}

func (f *fakeFetcher) setErr(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

type fakePublisher struct {
	mu       stdsync.Mutex
	outcomes []models.SyncOutcome
}

func (p *fakePublisher) PublishOutcome(feed models.Feed, outcome models.SyncOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, outcome)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outcomes)
}

func icsBody(uid, summary, date string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\n" +
		"UID:" + uid + "\r\nSUMMARY:" + summary + "\r\n" +
		"DTSTART:" + date + "T100000Z\r\nDTEND:" + date + "T120000Z\r\n" +
		"END:VEVENT\r\nEND:VCALENDAR\r\n"
}

type testEnv struct {
	orch    *Orchestrator
	feeds   *store.FeedStore
	locals  *store.LocalEventStore
	fetcher *fakeFetcher
	cache   *cache.FeedCache
	pub     *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvTTL(t, time.Minute)
}

func newTestEnvTTL(t *testing.T, ttl time.Duration) *testEnv {
	t.Helper()

	db, err := store.Open(config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	feedCache := cache.New(ttl)
	t.Cleanup(feedCache.Close)

	fetcher := &fakeFetcher{bodies: make(map[string][]byte), errs: make(map[string]error)}
	pub := &fakePublisher{}
	feeds := store.NewFeedStore(db)
	locals := store.NewLocalEventStore(db)

	orch := NewOrchestrator(feeds, locals, fetcher, nil, feedCache, pub, config.SyncConfig{
		MaxConcurrentFetches: 4,
		HorizonPast:          365 * 24 * time.Hour,
		HorizonFuture:        365 * 24 * time.Hour,
	})

	return &testEnv{orch: orch, feeds: feeds, locals: locals, fetcher: fetcher, cache: feedCache, pub: pub}
}

func (e *testEnv) addFeed(t *testing.T, id, url string) models.Feed {
	t.Helper()
	feed := models.Feed{
		ID:          id,
		OwnerUserID: "u1",
		URL:         url,
		Kind:        models.FeedKindICal,
		Enabled:     true,
	}
	if err := e.feeds.Create(context.Background(), &feed); err != nil {
		t.Fatalf("create feed: %v", err)
	}
	return feed
}

func nearDate() string {
	return time.Now().AddDate(0, 0, 7).Format("20060102")
}

func TestRefreshFeedPopulatesCache(t *testing.T) {
	env := newTestEnv(t)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", nearDate()))

	outcome, err := env.orch.RefreshFeed(context.Background(), feed, false)
	if err != nil {
		t.Fatalf("RefreshFeed: %v", err)
	}
	if !outcome.Success || outcome.EventsAdded != 1 {
		t.Errorf("outcome = %+v, want success with 1 added", outcome)
	}

	entry, ok := env.cache.Get(feed.ID)
	if !ok || len(entry.Events) != 1 {
		t.Fatalf("cache entry missing or wrong: %+v", entry)
	}

	stored, err := env.feeds.Get(context.Background(), feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if stored.LastSyncedAt.IsZero() {
		t.Error("lastSyncedAt not updated")
	}
}

func TestRefreshFeedDiffCounts(t *testing.T) {
	env := newTestEnv(t)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	ctx := context.Background()
	date := nearDate()

	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", date))
	if _, err := env.orch.RefreshFeed(ctx, feed, false); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Same UID, new title: counts as changed, not added.
	env.fetcher.setBody(feed.URL, icsBody("e1", "Renamed stay", date))
	outcome, err := env.orch.RefreshFeed(ctx, feed, true)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if outcome.EventsChanged != 1 || outcome.EventsAdded != 0 || outcome.EventsRemoved != 0 {
		t.Errorf("outcome = %+v, want exactly 1 changed", outcome)
	}
}

func TestRefreshFeedCoalescesConcurrentTriggers(t *testing.T) {
	env := newTestEnv(t)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", nearDate()))
	env.fetcher.block = make(chan struct{})

	ctx := context.Background()
	var wg stdsync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.orch.RefreshFeed(ctx, feed, false); err != nil {
				t.Errorf("RefreshFeed: %v", err)
			}
		}()
	}

	// Give the first trigger time to take the slot, then release.
	time.Sleep(50 * time.Millisecond)
	close(env.fetcher.block)
	wg.Wait()

	if n := env.fetcher.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1 (remaining triggers coalesce)", n)
	}
}

func TestForcedRefreshClearsCacheOnFailure(t *testing.T) {
	env := newTestEnv(t)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	ctx := context.Background()

	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", nearDate()))
	if _, err := env.orch.RefreshFeed(ctx, feed, false); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	env.fetcher.setErr(feed.URL, errors.New("upstream down"))
	if _, err := env.orch.RefreshFeed(ctx, feed, true); err == nil {
		t.Fatal("forced sync should fail")
	}

	if _, ok := env.cache.Get(feed.ID); ok {
		t.Error("cache entry survived a failed forced refresh")
	}

	// The read path must agree: no stale fallback after a forced clear.
	events, err := env.orch.EventsForUser(ctx, "u1", env.orch.Window())
	if err != nil {
		t.Fatalf("EventsForUser: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events after failed forced refresh, want 0", len(events))
	}
}

func TestNonForcedFailureKeepsPreviousEntry(t *testing.T) {
	env := newTestEnv(t)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	ctx := context.Background()

	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", nearDate()))
	if _, err := env.orch.RefreshFeed(ctx, feed, false); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	env.fetcher.setErr(feed.URL, errors.New("upstream down"))
	if _, err := env.orch.RefreshFeed(ctx, feed, false); err == nil {
		t.Fatal("sync should fail")
	}

	if _, ok := env.cache.Get(feed.ID); !ok {
		t.Error("previous cache entry was lost on non-forced failure")
	}
}

func TestNonForcedFailureServesStaleAfterExpiry(t *testing.T) {
	env := newTestEnvTTL(t, 20*time.Millisecond)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	ctx := context.Background()

	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", nearDate()))
	if _, err := env.orch.RefreshFeed(ctx, feed, false); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	// Let the entry expire, then take the upstream down. The read path
	// retries the feed, fails, and must still serve the last good sync
	// rather than dropping the feed from the calendar.
	time.Sleep(40 * time.Millisecond)
	env.fetcher.setErr(feed.URL, errors.New("upstream down"))

	events, err := env.orch.EventsForUser(ctx, "u1", env.orch.Window())
	if err != nil {
		t.Fatalf("EventsForUser: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want the previously synced event served stale", len(events))
	}
	if events[0].Title != "Stay" {
		t.Errorf("title = %q, want Stay", events[0].Title)
	}

	// Direct cache reads see the re-armed entry too.
	entry, ok := env.cache.Get(feed.ID)
	if !ok || len(entry.Events) != 1 {
		t.Fatalf("stale entry not re-armed: ok=%v entry=%+v", ok, entry)
	}
}

func TestPublishOnlyOnChange(t *testing.T) {
	env := newTestEnv(t)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	ctx := context.Background()

	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", nearDate()))
	if _, err := env.orch.RefreshFeed(ctx, feed, false); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if env.pub.count() != 1 {
		t.Fatalf("publications after first sync = %d, want 1", env.pub.count())
	}

	// Identical payload: no-op outcome, nothing published.
	if _, err := env.orch.RefreshFeed(ctx, feed, true); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if env.pub.count() != 1 {
		t.Errorf("publications after no-op sync = %d, want still 1", env.pub.count())
	}
}

func TestEventsForUserIsolatesFailingFeed(t *testing.T) {
	env := newTestEnv(t)
	good := env.addFeed(t, "good", "https://cal.example.com/good.ics")
	bad := env.addFeed(t, "bad", "https://cal.example.com/bad.ics")
	ctx := context.Background()

	env.fetcher.setBody(good.URL, icsBody("e1", "Stay", nearDate()))
	env.fetcher.setErr(bad.URL, errors.New("upstream down"))

	local := &models.CanonicalEvent{
		OwnerUserID: "u1",
		Title:       "My own block",
		StartTime:   time.Now().AddDate(0, 0, 3),
		EndTime:     time.Now().AddDate(0, 0, 3).Add(2 * time.Hour),
	}
	if err := env.locals.Create(ctx, local); err != nil {
		t.Fatalf("create local event: %v", err)
	}

	events, err := env.orch.EventsForUser(ctx, "u1", env.orch.Window())
	if err != nil {
		t.Fatalf("EventsForUser: %v", err)
	}

	var haveFeed, haveLocal bool
	for _, ev := range events {
		if ev.OriginKind == models.OriginICal {
			haveFeed = true
		}
		if ev.OriginKind == models.OriginLocal {
			haveLocal = true
		}
	}
	if !haveFeed || !haveLocal {
		t.Errorf("events missing sources: feed=%v local=%v (%d events)", haveFeed, haveLocal, len(events))
	}
	_ = bad
}

func TestEventsForUserWindowFilter(t *testing.T) {
	env := newTestEnv(t)
	feed := env.addFeed(t, "f1", "https://cal.example.com/a.ics")
	ctx := context.Background()

	date := nearDate()
	env.fetcher.setBody(feed.URL, icsBody("e1", "Stay", date))

	// A window well past the event excludes it.
	farStart := time.Now().AddDate(0, 6, 0)
	events, err := env.orch.EventsForUser(ctx, "u1", ics.Window{Start: farStart, End: farStart.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("EventsForUser: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events outside requested window, want 0", len(events))
	}
}

func TestRefreshAllSyncsEnabledFeeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var feeds []models.Feed
	for i := 0; i < 3; i++ {
		f := env.addFeed(t, fmt.Sprintf("f%d", i), fmt.Sprintf("https://cal.example.com/%d.ics", i))
		env.fetcher.setBody(f.URL, icsBody("e1", "Stay", nearDate()))
		feeds = append(feeds, f)
	}

	if err := env.orch.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	for _, f := range feeds {
		if _, ok := env.cache.Get(f.ID); !ok {
			t.Errorf("feed %s not cached after RefreshAll", f.ID)
		}
	}
}
