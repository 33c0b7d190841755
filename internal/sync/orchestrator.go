// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package sync orchestrates per-feed refresh runs. Sync triggers arrive
// from three directions (scheduled, on-demand reads, admin-forced) and
// may overlap; the orchestrator guarantees at most one run per feed at
// a time by coalescing concurrent triggers onto the in-flight run.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nordbook/calsync/internal/cache"
	"github.com/nordbook/calsync/internal/config"
	"github.com/nordbook/calsync/internal/ics"
	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/merge"
	"github.com/nordbook/calsync/internal/metrics"
	"github.com/nordbook/calsync/internal/models"
	"github.com/nordbook/calsync/internal/store"
)

// ICalFetcher downloads a raw ICS payload. Implemented by fetch.Fetcher.
type ICalFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// VendorClient retrieves canonical events from the vendor booking API.
// Implemented by bookingapi.Client.
type VendorClient interface {
	FetchEvents(ctx context.Context, feed models.Feed, window ics.Window) ([]models.CanonicalEvent, error)
}

// Publisher receives sync outcomes worth telling users about.
// Implemented by notify.Publisher.
type Publisher interface {
	PublishOutcome(feed models.Feed, outcome models.SyncOutcome) error
}

// inflightRun lets concurrent triggers for the same feed wait on the
// run already underway instead of starting their own.
type inflightRun struct {
	done    chan struct{}
	outcome models.SyncOutcome
	err     error
}

// snapshot remembers a feed's last successful sync.
type snapshot struct {
	events    []models.CanonicalEvent
	fetchedAt time.Time
}

// Orchestrator coordinates feed refreshes, the per-feed cache and the
// merge pipeline.
//
// Thread safety: safe for concurrent use; the in-flight registry and
// the previous-events snapshots are guarded by mu.
type Orchestrator struct {
	feeds   *store.FeedStore
	locals  *store.LocalEventStore
	fetcher ICalFetcher
	vendor  VendorClient
	cache   *cache.FeedCache
	pub     Publisher
	cfg     config.SyncConfig

	mu       stdsync.Mutex
	inflight map[string]*inflightRun

	// last holds each feed's previous successful sync. Unlike the cache
	// it survives TTL expiry, so outcome counts stay meaningful between
	// syncs and a failed refresh can fall back to stale events.
	last map[string]snapshot
}

// NewOrchestrator wires the orchestrator. pub may be nil when no
// notification fan-out is wanted (tests, one-shot tools).
func NewOrchestrator(
	feeds *store.FeedStore,
	locals *store.LocalEventStore,
	fetcher ICalFetcher,
	vendor VendorClient,
	feedCache *cache.FeedCache,
	pub Publisher,
	cfg config.SyncConfig,
) *Orchestrator {
	return &Orchestrator{
		feeds:    feeds,
		locals:   locals,
		fetcher:  fetcher,
		vendor:   vendor,
		cache:    feedCache,
		pub:      pub,
		cfg:      cfg,
		inflight: make(map[string]*inflightRun),
		last:     make(map[string]snapshot),
	}
}

// ForgetFeed drops everything remembered for a deleted feed: the cache
// entry and the diff baseline.
func (o *Orchestrator) ForgetFeed(feedID string) {
	o.cache.Invalidate(feedID)
	o.mu.Lock()
	delete(o.last, feedID)
	o.mu.Unlock()
}

// Window returns the current sync horizon.
func (o *Orchestrator) Window() ics.Window {
	now := time.Now()
	return ics.Window{
		Start: now.Add(-o.cfg.HorizonPast),
		End:   now.Add(o.cfg.HorizonFuture),
	}
}

// RefreshFeed syncs one feed. A trigger arriving while a run for the
// same feed is in flight coalesces onto it and returns that run's
// outcome. force clears the feed's cache entry before fetching; if the
// forced fetch then fails, readers observe a cache miss rather than
// stale data. A non-forced failure instead re-arms the last successful
// sync, so the feed keeps serving stale events until a retry succeeds.
func (o *Orchestrator) RefreshFeed(ctx context.Context, feed models.Feed, force bool) (models.SyncOutcome, error) {
	o.mu.Lock()
	if run, ok := o.inflight[feed.ID]; ok {
		o.mu.Unlock()
		metrics.SyncRunsTotal.WithLabelValues(string(feed.Kind), "coalesced").Inc()
		logging.Debug().Str("feed_id", feed.ID).Msg("coalescing onto in-flight sync run")

		select {
		case <-run.done:
			return run.outcome, run.err
		case <-ctx.Done():
			return models.SyncOutcome{FeedID: feed.ID}, ctx.Err()
		}
	}

	run := &inflightRun{done: make(chan struct{})}
	o.inflight[feed.ID] = run
	o.mu.Unlock()

	run.outcome, run.err = o.runSync(ctx, feed, force)

	o.mu.Lock()
	delete(o.inflight, feed.ID)
	o.mu.Unlock()
	close(run.done)

	return run.outcome, run.err
}

// runSync performs one sync run: fetch, normalize, diff, cache, record.
func (o *Orchestrator) runSync(ctx context.Context, feed models.Feed, force bool) (models.SyncOutcome, error) {
	start := time.Now()
	log := logging.Ctx(ctx).With().
		Str("feed_id", feed.ID).
		Str("feed_kind", string(feed.Kind)).
		Bool("forced", force).Logger()

	if force {
		o.cache.Invalidate(feed.ID)
	}

	window := o.Window()
	log.Debug().Str("state", "fetching").Msg("sync state transition")

	events, err := o.fetchEvents(ctx, feed, window, &log)
	if err != nil {
		outcome := models.SyncOutcome{
			FeedID:      feed.ID,
			Success:     false,
			Forced:      force,
			Error:       err.Error(),
			Duration:    time.Since(start),
			CompletedAt: time.Now(),
		}
		metrics.RecordSyncRun(string(feed.Kind), false, outcome.Duration, 0)
		log.Warn().Err(err).Str("state", "idle").Msg("sync run failed")

		if force {
			// A failed forced refresh left the cache cleared on purpose;
			// the diff baseline goes with it, and a human should hear
			// about the state change.
			o.mu.Lock()
			delete(o.last, feed.ID)
			o.mu.Unlock()
			o.publish(feed, outcome)
			return outcome, err
		}

		// Stale beats empty: re-arm the last successful sync so the
		// feed does not vanish from the calendar while the upstream
		// flaps. The next read past the TTL retries the fetch.
		o.mu.Lock()
		snap, synced := o.last[feed.ID]
		o.mu.Unlock()
		if synced {
			o.cache.Put(feed.ID, snap.events, snap.fetchedAt)
		}
		return outcome, err
	}

	fetchedAt := time.Now()
	added, removed, changed := o.diffAndRemember(feed.ID, events, fetchedAt)
	o.cache.Put(feed.ID, events, fetchedAt)

	if err := o.feeds.TouchLastSynced(ctx, feed.ID, time.Now()); err != nil {
		log.Warn().Err(err).Msg("failed to update lastSyncedAt")
	}

	outcome := models.SyncOutcome{
		FeedID:        feed.ID,
		Success:       true,
		Forced:        force,
		EventsAdded:   added,
		EventsRemoved: removed,
		EventsChanged: changed,
		Duration:      time.Since(start),
		CompletedAt:   time.Now(),
	}
	metrics.RecordSyncRun(string(feed.Kind), true, outcome.Duration, len(events))
	log.Info().
		Int("events", len(events)).
		Int("added", added).
		Int("removed", removed).
		Int("changed", changed).
		Dur("duration", outcome.Duration).
		Str("state", "cached").
		Msg("sync run completed")

	if outcome.Changed() {
		o.publish(feed, outcome)
	}
	return outcome, nil
}

func (o *Orchestrator) fetchEvents(ctx context.Context, feed models.Feed, window ics.Window, log *zerolog.Logger) ([]models.CanonicalEvent, error) {
	switch feed.Kind {
	case models.FeedKindVendorAPI:
		return o.vendor.FetchEvents(ctx, feed, window)
	case models.FeedKindICal:
		body, err := o.fetcher.Fetch(ctx, feed.URL)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("state", "parsing").Msg("sync state transition")
		return ics.Normalize(body, feed, window)
	default:
		return nil, fmt.Errorf("unknown feed kind %q", feed.Kind)
	}
}

// diffAndRemember computes added/removed/changed counts against the
// feed's previous run and stores the new snapshot.
func (o *Orchestrator) diffAndRemember(feedID string, events []models.CanonicalEvent, fetchedAt time.Time) (added, removed, changed int) {
	o.mu.Lock()
	prev := o.last[feedID].events
	o.last[feedID] = snapshot{events: events, fetchedAt: fetchedAt}
	o.mu.Unlock()

	prevByID := make(map[string]models.CanonicalEvent, len(prev))
	for _, ev := range prev {
		prevByID[ev.ID] = ev
	}

	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		seen[ev.ID] = struct{}{}
		old, ok := prevByID[ev.ID]
		switch {
		case !ok:
			added++
		case !ev.SameContent(old):
			changed++
		}
	}
	for id := range prevByID {
		if _, ok := seen[id]; !ok {
			removed++
		}
	}
	return added, removed, changed
}

func (o *Orchestrator) publish(feed models.Feed, outcome models.SyncOutcome) {
	if o.pub == nil {
		return
	}
	if err := o.pub.PublishOutcome(feed, outcome); err != nil {
		logging.Warn().Err(err).Str("feed_id", feed.ID).Msg("failed to publish sync outcome")
	}
}

// EventsForUser returns the merged, window-filtered calendar for one
// user. Stale feeds are refreshed first with a bounded fan-out; a
// failing feed is isolated (logged, skipped) rather than failing the
// whole read.
func (o *Orchestrator) EventsForUser(ctx context.Context, userID string, window ics.Window) ([]models.CanonicalEvent, error) {
	feeds, err := o.feeds.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}

	var stale []models.Feed
	for _, feed := range feeds {
		if feed.Enabled && o.cache.Stale(feed.ID) {
			stale = append(stale, feed)
		}
	}
	o.refreshConcurrently(ctx, stale)

	var combined []models.CanonicalEvent
	for _, feed := range feeds {
		if !feed.Enabled {
			continue
		}
		if entry, ok := o.cache.Get(feed.ID); ok {
			combined = append(combined, entry.Events...)
		}
	}

	locals, err := o.locals.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local events: %w", err)
	}
	combined = append(combined, locals...)

	merged := merge.Merge(combined)

	filtered := merged[:0:0]
	for _, ev := range merged {
		if ev.EndTime.Before(window.Start) || ev.StartTime.After(window.End) {
			continue
		}
		filtered = append(filtered, ev)
	}
	return filtered, nil
}

// RefreshAll syncs every enabled feed. Used by the background schedule.
func (o *Orchestrator) RefreshAll(ctx context.Context) error {
	feeds, err := o.feeds.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled feeds: %w", err)
	}
	o.refreshConcurrently(ctx, feeds)
	return nil
}

// refreshConcurrently runs feed syncs with at most MaxConcurrentFetches
// in flight. Failures are logged per feed and do not propagate.
func (o *Orchestrator) refreshConcurrently(ctx context.Context, feeds []models.Feed) {
	if len(feeds) == 0 {
		return
	}

	workers := o.cfg.MaxConcurrentFetches
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	var wg stdsync.WaitGroup
	for _, feed := range feeds {
		wg.Add(1)
		sem <- struct{}{}
		go func(f models.Feed) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := o.RefreshFeed(ctx, f, false); err != nil {
				logging.Warn().Err(err).Str("feed_id", f.ID).Msg("feed refresh failed, serving without it")
			}
		}(feed)
	}
	wg.Wait()
}
