// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package notify is the in-process notification channel between the
// sync orchestrator and delivery surfaces. The orchestrator publishes
// state-changing sync outcomes; a forwarder subscriber routes them to
// the websocket hub and the email trigger. Delivery is transient and
// best-effort; nothing is queued for disconnected users.
package notify

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/nordbook/calsync/internal/metrics"
	"github.com/nordbook/calsync/internal/models"
)

// Topic carries all calendar change notifications.
const Topic = "calendar.notifications"

// Envelope is the wire shape on the notification topic.
type Envelope struct {
	UserID       string              `json:"userId"`
	Notification models.Notification `json:"notification"`
}

// Publisher turns sync outcomes into notifications on the channel.
// Implements sync.Publisher.
type Publisher struct {
	channel *gochannel.GoChannel
}

// NewPublisher creates the in-process pub/sub channel and its publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		channel: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newWatermillLogger()),
	}
}

// Subscriber exposes the subscribe side of the channel for forwarders.
func (p *Publisher) Subscriber() message.Subscriber {
	return p.channel
}

// PublishOutcome publishes a sync outcome as a user notification.
func (p *Publisher) PublishOutcome(feed models.Feed, outcome models.SyncOutcome) error {
	n := notificationFor(feed, outcome)

	payload, err := json.Marshal(Envelope{UserID: feed.OwnerUserID, Notification: n})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("user_id", feed.OwnerUserID)
	msg.Metadata.Set("type", n.Type)

	if err := p.channel.Publish(Topic, msg); err != nil {
		metrics.NotificationsDropped.Inc()
		return fmt.Errorf("publish notification: %w", err)
	}

	metrics.NotificationsPublished.WithLabelValues(n.Type).Inc()
	return nil
}

// Close shuts the channel down; subscribers see their message channel
// closed.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// notificationFor renders a sync outcome into the user-facing shape.
func notificationFor(feed models.Feed, outcome models.SyncOutcome) models.Notification {
	title := feed.DisplayName
	if title == "" {
		title = "Calendar sync"
	}

	n := models.Notification{
		FeedID:    feed.ID,
		Title:     title,
		Outcome:   &outcome,
		CreatedAt: time.Now(),
	}

	if outcome.Success {
		n.Type = models.NotificationSyncChanged
		n.Message = fmt.Sprintf("%d added, %d removed, %d changed",
			outcome.EventsAdded, outcome.EventsRemoved, outcome.EventsChanged)
	} else {
		n.Type = models.NotificationSyncFailed
		n.Message = "Calendar could not be refreshed: " + outcome.Error
	}
	return n
}
