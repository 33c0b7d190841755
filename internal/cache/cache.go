// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package cache provides the short-TTL per-feed event cache.
//
// Each feed has at most one entry holding the normalized events of its
// last successful sync. Entries are replaced atomically as a whole:
// readers either see the previous complete entry or the new complete
// entry, never a partial update. The TTL is deliberately short so that
// upstream cancellations become visible on the next calendar read.
package cache

import (
	"sync"
	"time"

	"github.com/nordbook/calsync/internal/metrics"
	"github.com/nordbook/calsync/internal/models"
)

// Entry is one feed's cached sync result. Entries are immutable once
// stored; a refresh stores a new Entry rather than mutating in place.
type Entry struct {
	// FeedID identifies the feed this entry belongs to.
	FeedID string

	// Events are the normalized, expanded events of the last
	// successful sync.
	Events []models.CanonicalEvent

	// FetchedAt is when the upstream payload was fetched.
	FetchedAt time.Time

	// expiresAt is when the entry stops being served.
	expiresAt time.Time
}

// Stats tracks cache effectiveness.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// FeedCache is a thread-safe TTL cache keyed by feed ID.
//
// Thread safety: all methods may be called concurrently. Get takes a
// read lock; Put/Invalidate take the write lock for the map swap only.
type FeedCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	stats   Stats
	stop    chan struct{}
}

// New creates a FeedCache with the given TTL and starts the background
// cleanup loop.
func New(ttl time.Duration) *FeedCache {
	c := &FeedCache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the entry for a feed, or (nil, false) when absent or
// expired. The returned entry must be treated as read-only.
func (c *FeedCache) Get(feedID string) (*Entry, bool) {
	c.mu.RLock()
	entry, exists := c.entries[feedID]
	c.mu.RUnlock()

	if !exists || time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		metrics.CacheMisses.Inc()
		return nil, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	metrics.CacheHits.Inc()
	return entry, true
}

// Put stores a feed's sync result, replacing any previous entry
// atomically.
func (c *FeedCache) Put(feedID string, events []models.CanonicalEvent, fetchedAt time.Time) {
	entry := &Entry{
		FeedID:    feedID,
		Events:    events,
		FetchedAt: fetchedAt,
		expiresAt: time.Now().Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[feedID] = entry
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.Set(float64(n))
}

// Invalidate removes a feed's entry. Used on forced refresh (clear
// before fetch) and on feed deletion.
func (c *FeedCache) Invalidate(feedID string) {
	c.mu.Lock()
	if _, exists := c.entries[feedID]; exists {
		delete(c.entries, feedID)
		c.stats.Evictions++
		metrics.CacheEvictions.Inc()
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.Set(float64(n))
}

// InvalidateAll clears the whole cache.
func (c *FeedCache) InvalidateAll() {
	c.mu.Lock()
	c.stats.Evictions += int64(len(c.entries))
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()

	metrics.CacheEntries.Set(0)
}

// Stale reports whether a feed needs a refresh (no entry or expired).
func (c *FeedCache) Stale(feedID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[feedID]
	return !exists || time.Now().After(entry.expiresAt)
}

// GetStats returns a snapshot of cache statistics.
func (c *FeedCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Entries = len(c.entries)
	return stats
}

// HitRate returns the cache hit rate as a percentage.
func (c *FeedCache) HitRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total) * 100
}

// Close stops the background cleanup loop.
func (c *FeedCache) Close() {
	close(c.stop)
}

// cleanupLoop periodically removes expired entries so memory does not
// accumulate for feeds that are never read again.
func (c *FeedCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired deletes all expired entries.
func (c *FeedCache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	for feedID, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, feedID)
			c.stats.Evictions++
			metrics.CacheEvictions.Inc()
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.Set(float64(n))
}
