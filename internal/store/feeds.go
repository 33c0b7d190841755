// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/nordbook/calsync/internal/models"
)

// Key prefixes for feed registry storage.
const (
	feedKeyPrefix     = "feed:"
	feedURLKeyPrefix  = "feed_url:"
	feedUserKeyPrefix = "feed_user:"
)

// FeedStore persists the feed registry in BadgerDB.
//
// URL uniqueness is enforced at creation time through a url index key.
// Registries predating the uniqueness rule may carry duplicates; reads
// tolerate them and the merge resolver absorbs the resulting events.
type FeedStore struct {
	db *badger.DB
}

// NewFeedStore creates a FeedStore on an open BadgerDB.
func NewFeedStore(db *badger.DB) *FeedStore {
	return &FeedStore{db: db}
}

// Create registers a new feed. Returns ErrDuplicateFeedURL when the URL
// is already registered by any user.
func (s *FeedStore) Create(ctx context.Context, feed *models.Feed) error {
	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now

	data, err := json.Marshal(feed)
	if err != nil {
		return fmt.Errorf("marshal feed: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		urlKey := []byte(feedURLKeyPrefix + feed.URL)
		_, err := txn.Get(urlKey)
		if err == nil {
			return ErrDuplicateFeedURL
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check url index: %w", err)
		}

		if err := txn.Set([]byte(feedKeyPrefix+feed.ID), data); err != nil {
			return fmt.Errorf("set feed: %w", err)
		}
		if err := txn.Set(urlKey, []byte(feed.ID)); err != nil {
			return fmt.Errorf("set url index: %w", err)
		}

		userKey := []byte(feedUserKeyPrefix + feed.OwnerUserID + ":" + feed.ID)
		if err := txn.Set(userKey, []byte(feed.ID)); err != nil {
			return fmt.Errorf("set user index: %w", err)
		}

		return nil
	})
}

// Get retrieves a feed by ID.
func (s *FeedStore) Get(ctx context.Context, id string) (*models.Feed, error) {
	var feed models.Feed

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(feedKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrFeedNotFound
		}
		if err != nil {
			return fmt.Errorf("get feed: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &feed)
		})
	})
	if err != nil {
		return nil, err
	}

	return &feed, nil
}

// ListByUser returns all feeds owned by a user.
func (s *FeedStore) ListByUser(ctx context.Context, userID string) ([]models.Feed, error) {
	var feeds []models.Feed

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(feedUserKeyPrefix + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var feedID string
			if err := it.Item().Value(func(val []byte) error {
				feedID = string(val)
				return nil
			}); err != nil {
				continue
			}

			item, err := txn.Get([]byte(feedKeyPrefix + feedID))
			if err != nil {
				// Index entry without a feed; skip.
				continue
			}

			var feed models.Feed
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &feed)
			}); err != nil {
				continue
			}
			feeds = append(feeds, feed)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list user feeds: %w", err)
	}

	return feeds, nil
}

// ListEnabled returns all enabled feeds across all users. Used by the
// background sync schedule.
func (s *FeedStore) ListEnabled(ctx context.Context) ([]models.Feed, error) {
	var feeds []models.Feed

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(feedKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var feed models.Feed
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &feed)
			}); err != nil {
				continue
			}
			if feed.Enabled {
				feeds = append(feeds, feed)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list enabled feeds: %w", err)
	}

	return feeds, nil
}

// Update persists changes to an existing feed. The URL index is moved
// when the URL changed.
func (s *FeedStore) Update(ctx context.Context, feed *models.Feed) error {
	existing, err := s.Get(ctx, feed.ID)
	if err != nil {
		return err
	}

	feed.CreatedAt = existing.CreatedAt
	feed.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(feed)
	if err != nil {
		return fmt.Errorf("marshal feed: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if existing.URL != feed.URL {
			newURLKey := []byte(feedURLKeyPrefix + feed.URL)
			if _, err := txn.Get(newURLKey); err == nil {
				return ErrDuplicateFeedURL
			}
			if err := txn.Delete([]byte(feedURLKeyPrefix + existing.URL)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete old url index: %w", err)
			}
			if err := txn.Set(newURLKey, []byte(feed.ID)); err != nil {
				return fmt.Errorf("set url index: %w", err)
			}
		}
		return txn.Set([]byte(feedKeyPrefix+feed.ID), data)
	})
}

// TouchLastSynced records a successful sync completion time.
func (s *FeedStore) TouchLastSynced(ctx context.Context, id string, at time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(feedKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrFeedNotFound
		}
		if err != nil {
			return fmt.Errorf("get feed: %w", err)
		}

		var feed models.Feed
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &feed)
		}); err != nil {
			return fmt.Errorf("unmarshal feed: %w", err)
		}

		feed.LastSyncedAt = at.UTC()
		feed.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&feed)
		if err != nil {
			return fmt.Errorf("marshal feed: %w", err)
		}
		return txn.Set([]byte(feedKeyPrefix+id), data)
	})
}

// Delete removes a feed and its index entries.
func (s *FeedStore) Delete(ctx context.Context, id string) error {
	feed, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(feedKeyPrefix + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete feed: %w", err)
		}
		if err := txn.Delete([]byte(feedURLKeyPrefix + feed.URL)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete url index: %w", err)
		}
		userKey := []byte(feedUserKeyPrefix + feed.OwnerUserID + ":" + id)
		if err := txn.Delete(userKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete user index: %w", err)
		}
		return nil
	})
}
