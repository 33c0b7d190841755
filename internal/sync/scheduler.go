// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nordbook/calsync/internal/logging"
)

// Scheduler drives the periodic background refresh of all enabled
// feeds. Runs overlapping a still-active refresh coalesce per feed in
// the orchestrator, so a slow upstream cannot pile up work.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	cron     *cron.Cron
}

// NewScheduler creates a background sync scheduler.
func NewScheduler(orch *Orchestrator, interval time.Duration) *Scheduler {
	return &Scheduler{
		orch:     orch,
		interval: interval,
		cron:     cron.New(),
	}
}

// Start registers the schedule and begins running it.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("failed to register sync schedule: %w", err)
	}

	s.cron.Start()
	logging.Info().Str("interval", s.interval.String()).Msg("background sync schedule started")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logging.Info().Msg("background sync schedule stopped")
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	start := time.Now()
	if err := s.orch.RefreshAll(ctx); err != nil {
		logging.Error().Err(err).Msg("background sync run failed")
		return
	}
	logging.Debug().Dur("duration", time.Since(start)).Msg("background sync run completed")
}
