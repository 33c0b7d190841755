// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package models

import (
	"errors"
	"time"
)

// ErrNotLocalOrigin is returned when a mutation targets an event whose
// origin is an external feed. External events are corrected at the source
// and re-synced, never edited here.
var ErrNotLocalOrigin = errors.New("event does not have local origin")

// OriginKind identifies where a canonical event came from.
type OriginKind string

const (
	// OriginLocal is an event created by the user in this system.
	OriginLocal OriginKind = "local"

	// OriginICal is an event ingested from an iCal feed.
	OriginICal OriginKind = "ical"

	// OriginVendorAPI is a confirmed booking from the vendor booking API.
	OriginVendorAPI OriginKind = "vendor-api"
)

// Rank orders origins for merge precedence, lowest first. External
// kinds colliding on a dedup key both survive, in rank order; a local
// event colliding with any higher-ranked origin is kept but flagged as
// a duplicate, never discarded.
func (k OriginKind) Rank() int {
	switch k {
	case OriginICal:
		return 1
	case OriginVendorAPI:
		return 2
	default:
		return 0
	}
}

// Editable reports whether events of this origin may be mutated through
// the local event API.
func (k OriginKind) Editable() bool {
	return k == OriginLocal
}

// CanonicalEvent is the normalized calendar event every source converges
// to. Multi-day source events are expanded into one CanonicalEvent per
// calendar day before they reach the cache; Continuation marks days 2..n
// of such an expansion.
type CanonicalEvent struct {
	ID               string     `json:"id"`
	OwnerUserID      string     `json:"ownerUserId"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          time.Time  `json:"endTime"`
	AllDay           bool       `json:"allDay"`
	Color            string     `json:"color,omitempty"`
	OriginKind       OriginKind `json:"originKind"`
	OriginRef        string     `json:"originRef,omitempty"`
	Continuation     bool       `json:"continuation,omitempty"`
	FlaggedDuplicate bool       `json:"flaggedDuplicate,omitempty"`
}

// SameContent reports whether two events carry the same user-visible
// state. Used by the sync diff to count changed events.
func (e CanonicalEvent) SameContent(other CanonicalEvent) bool {
	return e.Title == other.Title &&
		e.Description == other.Description &&
		e.StartTime.Equal(other.StartTime) &&
		e.EndTime.Equal(other.EndTime) &&
		e.AllDay == other.AllDay
}
