// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nordbook/calsync/internal/models"
)

// Key prefixes for local event storage.
const (
	eventKeyPrefix     = "levent:"
	eventUserKeyPrefix = "levent_user:"
)

// LocalEventStore persists user-created local events. Only local-origin
// events live here; external events exist solely in the per-feed cache
// and are re-derived on every sync.
type LocalEventStore struct {
	db *badger.DB
}

// NewLocalEventStore creates a LocalEventStore on an open BadgerDB.
func NewLocalEventStore(db *badger.DB) *LocalEventStore {
	return &LocalEventStore{db: db}
}

// Create stores a new local event. The origin is forced to local and an
// ID is assigned when absent.
func (s *LocalEventStore) Create(ctx context.Context, ev *models.CanonicalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.OriginKind = models.OriginLocal
	ev.OriginRef = ""

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(eventKeyPrefix+ev.ID), data); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		userKey := []byte(eventUserKeyPrefix + ev.OwnerUserID + ":" + ev.ID)
		if err := txn.Set(userKey, []byte(ev.ID)); err != nil {
			return fmt.Errorf("set user index: %w", err)
		}
		return nil
	})
}

// Get retrieves a local event by ID.
func (s *LocalEventStore) Get(ctx context.Context, id string) (*models.CanonicalEvent, error) {
	var ev models.CanonicalEvent

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(eventKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ev)
		})
	})
	if err != nil {
		return nil, err
	}

	return &ev, nil
}

// Update persists changes to an existing local event. Returns
// models.ErrNotLocalOrigin if the stored event is not local; that means
// the caller is trying to mutate something synced from a feed.
func (s *LocalEventStore) Update(ctx context.Context, ev *models.CanonicalEvent) error {
	existing, err := s.Get(ctx, ev.ID)
	if err != nil {
		return err
	}
	if !existing.OriginKind.Editable() {
		return models.ErrNotLocalOrigin
	}

	ev.OriginKind = models.OriginLocal
	ev.OwnerUserID = existing.OwnerUserID

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(eventKeyPrefix+ev.ID), data)
	})
}

// Delete removes a local event.
func (s *LocalEventStore) Delete(ctx context.Context, id string) error {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(eventKeyPrefix + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete event: %w", err)
		}
		userKey := []byte(eventUserKeyPrefix + ev.OwnerUserID + ":" + id)
		if err := txn.Delete(userKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete user index: %w", err)
		}
		return nil
	})
}

// ListByUser returns all local events owned by a user.
func (s *LocalEventStore) ListByUser(ctx context.Context, userID string) ([]models.CanonicalEvent, error) {
	var events []models.CanonicalEvent

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(eventUserKeyPrefix + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var eventID string
			if err := it.Item().Value(func(val []byte) error {
				eventID = string(val)
				return nil
			}); err != nil {
				continue
			}

			item, err := txn.Get([]byte(eventKeyPrefix + eventID))
			if err != nil {
				continue
			}

			var ev models.CanonicalEvent
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list user events: %w", err)
	}

	return events, nil
}
