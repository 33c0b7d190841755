// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package services

import (
	"context"
)

// NotificationForwarder matches *notify.Forwarder's Run method.
type NotificationForwarder interface {
	Run(ctx context.Context) error
}

// ForwarderService wraps the notification forwarder as a supervised
// service. The forwarder consumes the outcome topic and fans
// notifications out to the websocket hub and the email trigger; if it
// crashes, unacked messages are redelivered after the restart.
type ForwarderService struct {
	fwd  NotificationForwarder
	name string
}

// NewForwarderService creates a new forwarder service wrapper.
func NewForwarderService(fwd NotificationForwarder) *ForwarderService {
	return &ForwarderService{
		fwd:  fwd,
		name: "notification-forwarder",
	}
}

// Serve implements suture.Service.
func (f *ForwarderService) Serve(ctx context.Context) error {
	return f.fwd.Run(ctx)
}

// String implements fmt.Stringer; suture uses it in log messages.
func (f *ForwarderService) String() string {
	return f.name
}
