// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nordbook/calsync/internal/logging"
)

const (
	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// ValueLogGC matches *badger.DB's value-log GC method.
type ValueLogGC interface {
	RunValueLogGC(discardRatio float64) error
}

// StoreGCService runs Badger's value-log garbage collection on an
// interval. Badger does not GC on its own; without this loop the value
// log grows unbounded on long-running instances.
type StoreGCService struct {
	db       ValueLogGC
	interval time.Duration
	name     string
}

// NewStoreGCService creates a new store GC service wrapper.
func NewStoreGCService(db ValueLogGC) *StoreGCService {
	return &StoreGCService{
		db:       db,
		interval: gcInterval,
		name:     "store-gc",
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect runs GC rounds until Badger reports nothing left to rewrite.
func (s *StoreGCService) collect() {
	for {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			logging.Warn().Err(err).Msg("store value-log GC failed")
		}
		return
	}
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *StoreGCService) String() string {
	return s.name
}
