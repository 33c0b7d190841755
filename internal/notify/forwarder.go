// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package notify

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/models"
)

// Sink receives notifications for live delivery. Implemented by the
// websocket hub.
type Sink interface {
	NotifyUser(userID string, n models.Notification)
}

// EmailNotifier is the trigger contract for the external email
// notifier. Delivery itself happens outside this system.
type EmailNotifier interface {
	TriggerEmail(ctx context.Context, userID string, n models.Notification) error
}

// NoopEmailNotifier satisfies EmailNotifier when no email system is
// wired up.
type NoopEmailNotifier struct{}

func (NoopEmailNotifier) TriggerEmail(context.Context, string, models.Notification) error {
	return nil
}

// Forwarder subscribes to the notification topic and routes each
// envelope to the configured sinks and the email trigger.
type Forwarder struct {
	sub   message.Subscriber
	email EmailNotifier
	sinks []Sink
}

// NewForwarder creates a forwarder. email may be nil.
func NewForwarder(sub message.Subscriber, email EmailNotifier, sinks ...Sink) *Forwarder {
	return &Forwarder{sub: sub, email: email, sinks: sinks}
}

// Run consumes the topic until the context is cancelled or the channel
// closes. A malformed payload is logged and acked; the stream continues.
func (f *Forwarder) Run(ctx context.Context) error {
	messages, err := f.sub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	logging.Info().Str("topic", Topic).Msg("notification forwarder started")
	for msg := range messages {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed notification")
			msg.Ack()
			continue
		}

		for _, sink := range f.sinks {
			sink.NotifyUser(env.UserID, env.Notification)
		}

		if f.email != nil {
			if err := f.email.TriggerEmail(ctx, env.UserID, env.Notification); err != nil {
				logging.Warn().Err(err).Str("user_id", env.UserID).Msg("email trigger failed")
			}
		}

		msg.Ack()
	}

	logging.Info().Msg("notification forwarder stopped")
	return nil
}
