// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package store provides BadgerDB-backed persistence for the feed
// registry and user-created local events. Values are JSON documents
// keyed by prefix; secondary indexes are prefix+userID keys holding the
// primary key.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/nordbook/calsync/internal/config"
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrFeedNotFound is returned when a feed ID has no registry entry.
	ErrFeedNotFound = errors.New("feed not found")

	// ErrDuplicateFeedURL is returned when a feed registration collides
	// with an already registered URL.
	ErrDuplicateFeedURL = errors.New("feed URL already registered")

	// ErrEventNotFound is returned when a local event ID does not exist.
	ErrEventNotFound = errors.New("local event not found")
)

// Open opens the BadgerDB instance per the store configuration.
// The caller owns the returned DB and must Close() it on shutdown.
func Open(cfg config.StoreConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	// Badger's own logger is chatty at INFO; the engine logs store
	// operations itself.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return db, nil
}
