// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package models

import "time"

// FeedKind identifies how a feed's events are fetched and parsed.
type FeedKind string

const (
	// FeedKindICal is a remote iCal/ICS subscription fetched over HTTP.
	FeedKindICal FeedKind = "ical"

	// FeedKindVendorAPI is a vendor booking API polled with an API key.
	FeedKindVendorAPI FeedKind = "vendor-api"
)

// Valid reports whether the kind is a known feed kind.
func (k FeedKind) Valid() bool {
	return k == FeedKindICal || k == FeedKindVendorAPI
}

// Feed is a registered external calendar source owned by a user.
//
// For FeedKindICal, URL points at the ICS document. For FeedKindVendorAPI,
// URL is the API base URL and APIKey/PropertyID carry the credentials.
type Feed struct {
	ID           string    `json:"id"`
	OwnerUserID  string    `json:"ownerUserId"`
	URL          string    `json:"url"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color,omitempty"`
	Kind         FeedKind  `json:"kind"`
	APIKey       string    `json:"-"`
	PropertyID   string    `json:"propertyId,omitempty"`
	Enabled      bool      `json:"enabled"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SyncOutcome summarizes a single sync run for one feed.
type SyncOutcome struct {
	FeedID        string        `json:"feedId"`
	Success       bool          `json:"success"`
	Forced        bool          `json:"forced"`
	EventsAdded   int           `json:"eventsAdded"`
	EventsRemoved int           `json:"eventsRemoved"`
	EventsChanged int           `json:"eventsChanged"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"durationMs"`
	CompletedAt   time.Time     `json:"completedAt"`
}

// Changed reports whether the run altered the cached event set.
// Only changed outcomes are pushed to the notification channel.
func (o SyncOutcome) Changed() bool {
	return o.EventsAdded+o.EventsRemoved+o.EventsChanged > 0
}

// Notification is the payload delivered to websocket clients and the
// email trigger when a sync run changes a user's calendar.
type Notification struct {
	Type      string       `json:"type"`
	FeedID    string       `json:"feedId,omitempty"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	Outcome   *SyncOutcome `json:"outcome,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Notification types.
const (
	NotificationSyncChanged = "sync_changed"
	NotificationSyncFailed  = "sync_failed"
)
