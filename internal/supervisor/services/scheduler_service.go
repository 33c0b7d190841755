// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package services

import (
	"context"
	"fmt"
)

// SyncScheduler matches *sync.Scheduler's Start/Stop lifecycle.
type SyncScheduler interface {
	Start() error
	Stop()
}

// SchedulerService wraps the background sync scheduler as a supervised
// service: start the cron, block on the context, stop and drain on
// shutdown.
type SchedulerService struct {
	scheduler SyncScheduler
	name      string
}

// NewSchedulerService creates a new scheduler service wrapper.
func NewSchedulerService(scheduler SyncScheduler) *SchedulerService {
	return &SchedulerService{
		scheduler: scheduler,
		name:      "sync-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start sync scheduler: %w", err)
	}
	<-ctx.Done()
	s.scheduler.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *SchedulerService) String() string {
	return s.name
}
