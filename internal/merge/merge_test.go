// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package merge

import (
	"reflect"
	"testing"
	"time"

	"github.com/nordbook/calsync/internal/models"
)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func evt(id, title string, origin models.OriginKind, startDay, endDay int) models.CanonicalEvent {
	return models.CanonicalEvent{
		ID:          id,
		OwnerUserID: "u1",
		Title:       title,
		StartTime:   time.Date(2025, 6, startDay, 10, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2025, 6, endDay, 18, 0, 0, 0, time.UTC),
		OriginKind:  origin,
	}
}

func TestDedupKeyNormalizesTitle(t *testing.T) {
	a := evt("a", "Summer  Stay", models.OriginICal, 10, 10)
	b := evt("b", "summer stay", models.OriginVendorAPI, 10, 10)
	if DedupKey(a) != DedupKey(b) {
		t.Errorf("keys differ: %q vs %q", DedupKey(a), DedupKey(b))
	}

	c := evt("c", "summer stay", models.OriginICal, 11, 11)
	if DedupKey(a) == DedupKey(c) {
		t.Error("different start dates must not share a key")
	}
}

func TestMergeSameKindKeepsSmallestID(t *testing.T) {
	merged := Merge([]models.CanonicalEvent{
		evt("feed2-x-2025-06-10", "Stay", models.OriginICal, 10, 10),
		evt("feed1-x-2025-06-10", "Stay", models.OriginICal, 10, 10),
	})
	if len(merged) != 1 {
		t.Fatalf("got %d events, want 1", len(merged))
	}
	if merged[0].ID != "feed1-x-2025-06-10" {
		t.Errorf("survivor = %s, want feed1-x-2025-06-10", merged[0].ID)
	}
}

func TestMergeKeepsBothExternalKinds(t *testing.T) {
	merged := Merge([]models.CanonicalEvent{
		evt("ical-1", "Stay", models.OriginICal, 10, 10),
		evt("vendor-1", "Stay", models.OriginVendorAPI, 10, 10),
	})
	if len(merged) != 2 {
		t.Fatalf("got %d events, want both external kinds kept", len(merged))
	}
}

func TestMergeFlagsLocalDuplicate(t *testing.T) {
	merged := Merge([]models.CanonicalEvent{
		evt("local-1", "Stay", models.OriginLocal, 10, 10),
		evt("vendor-1", "Stay", models.OriginVendorAPI, 10, 10),
	})
	if len(merged) != 2 {
		t.Fatalf("got %d events, want 2", len(merged))
	}
	for _, ev := range merged {
		switch ev.OriginKind {
		case models.OriginLocal:
			if !ev.FlaggedDuplicate {
				t.Error("local duplicate not flagged")
			}
		default:
			if ev.FlaggedDuplicate {
				t.Error("external event must not be flagged")
			}
		}
	}
}

func TestMergeFlagsLocalAgainstEachExternalKind(t *testing.T) {
	for _, kind := range []models.OriginKind{models.OriginICal, models.OriginVendorAPI} {
		merged := Merge([]models.CanonicalEvent{
			evt("local-1", "Stay", models.OriginLocal, 10, 10),
			evt("ext-1", "Stay", kind, 10, 10),
		})
		var local *models.CanonicalEvent
		for i := range merged {
			if merged[i].OriginKind == models.OriginLocal {
				local = &merged[i]
			}
		}
		if local == nil || !local.FlaggedDuplicate {
			t.Errorf("local not flagged against %s: %+v", kind, merged)
		}
	}

	// Two locals sharing a key flag nothing: neither outranks the other.
	merged := Merge([]models.CanonicalEvent{
		evt("local-1", "Stay", models.OriginLocal, 10, 10),
		evt("local-2", "Stay", models.OriginLocal, 10, 10),
	})
	for _, ev := range merged {
		if ev.FlaggedDuplicate {
			t.Errorf("local-only collision flagged: %+v", ev)
		}
	}
}

func TestMergeLocalAloneNotFlagged(t *testing.T) {
	merged := Merge([]models.CanonicalEvent{
		evt("local-1", "My note", models.OriginLocal, 10, 10),
	})
	if len(merged) != 1 || merged[0].FlaggedDuplicate {
		t.Errorf("lone local event mishandled: %+v", merged)
	}
}

func TestMergeDropsRepublishedID(t *testing.T) {
	a := evt("feed1-x-2025-06-10", "Stay", models.OriginICal, 10, 10)
	merged := Merge([]models.CanonicalEvent{a, a})
	if len(merged) != 1 {
		t.Fatalf("got %d events, want 1", len(merged))
	}
}

func TestMergeIdempotent(t *testing.T) {
	in := []models.CanonicalEvent{
		evt("feed2-x-2025-06-10", "Stay", models.OriginICal, 10, 10),
		evt("feed1-x-2025-06-10", "Stay", models.OriginICal, 10, 10),
		evt("vendor-1", "Stay", models.OriginVendorAPI, 10, 10),
		evt("local-1", "Stay", models.OriginLocal, 10, 10),
		evt("other", "Unrelated", models.OriginICal, 20, 21),
	}

	once := Merge(in)
	twice := Merge(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestSimilarityExactTitlesFullOverlap(t *testing.T) {
	a := evt("a", "Beach House", models.OriginICal, 10, 12)
	b := evt("b", "Beach House", models.OriginVendorAPI, 10, 12)
	if s := Similarity(a, b); s != 1 {
		t.Errorf("similarity = %f, want 1", s)
	}
}

func TestSimilarityNoOverlapIsZero(t *testing.T) {
	a := evt("a", "Beach House", models.OriginICal, 10, 11)
	b := evt("b", "Beach House", models.OriginVendorAPI, 20, 21)
	if s := Similarity(a, b); s != 0 {
		t.Errorf("similarity = %f, want 0", s)
	}
}

func TestFindSimilarGroups(t *testing.T) {
	events := []models.CanonicalEvent{
		evt("a", "Beach House Stay", models.OriginICal, 10, 12),
		evt("b", "Beach Huose Stay", models.OriginVendorAPI, 10, 12), // provider typo
		evt("c", "Completely Different", models.OriginICal, 10, 12),
	}

	groups := FindSimilarGroups(events, 0.8)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0].Events) != 2 {
		t.Fatalf("group has %d events, want 2", len(groups[0].Events))
	}
	if groups[0].Score < 0.8 {
		t.Errorf("group score = %f, want >= threshold", groups[0].Score)
	}
	for _, ev := range groups[0].Events {
		if ev.ID != "a" && ev.ID != "b" {
			t.Errorf("unexpected group member %s", ev.ID)
		}
	}
}

func TestFindSimilarGroupsBelowThreshold(t *testing.T) {
	events := []models.CanonicalEvent{
		evt("a", "Alpha", models.OriginICal, 10, 12),
		evt("b", "Omega", models.OriginVendorAPI, 10, 12),
	}
	if groups := FindSimilarGroups(events, 0.8); len(groups) != 0 {
		t.Errorf("got %d groups, want 0", len(groups))
	}
}
