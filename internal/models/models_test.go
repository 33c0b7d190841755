// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package models

import (
	"testing"
	"time"
)

func TestOriginKindRank(t *testing.T) {
	if OriginLocal.Rank() != 0 {
		t.Errorf("local rank = %d, want 0", OriginLocal.Rank())
	}
	if OriginICal.Rank() != 1 {
		t.Errorf("ical rank = %d, want 1", OriginICal.Rank())
	}
	if OriginVendorAPI.Rank() != 2 {
		t.Errorf("vendor-api rank = %d, want 2", OriginVendorAPI.Rank())
	}
}

func TestOriginKindEditable(t *testing.T) {
	if !OriginLocal.Editable() {
		t.Error("local origin should be editable")
	}
	if OriginICal.Editable() || OriginVendorAPI.Editable() {
		t.Error("external origins must not be editable")
	}
}

func TestFeedKindValid(t *testing.T) {
	if !FeedKindICal.Valid() || !FeedKindVendorAPI.Valid() {
		t.Error("known kinds should be valid")
	}
	if FeedKind("caldav").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestSyncOutcomeChanged(t *testing.T) {
	o := SyncOutcome{FeedID: "f1", Success: true}
	if o.Changed() {
		t.Error("empty outcome should not be changed")
	}
	o.EventsRemoved = 1
	if !o.Changed() {
		t.Error("outcome with removals should be changed")
	}
}

func TestSameContent(t *testing.T) {
	start := time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 10, 23, 59, 59, 0, time.UTC)

	a := CanonicalEvent{ID: "x", Title: "Stay", StartTime: start, EndTime: end}
	b := a
	if !a.SameContent(b) {
		t.Error("identical events should have same content")
	}

	b.Title = "Stay (updated)"
	if a.SameContent(b) {
		t.Error("title change should differ")
	}

	b = a
	b.StartTime = start.Add(time.Hour)
	if a.SameContent(b) {
		t.Error("start change should differ")
	}

	// ID differences alone do not make content differ.
	b = a
	b.ID = "y"
	if !a.SameContent(b) {
		t.Error("id is not part of content comparison")
	}
}
