// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package merge collapses near-identical events arriving from multiple
// sources into one view. External truth is never silently dropped: two
// external origins colliding on the same key are both kept, and a local
// event duplicating an external booking is flagged, not deleted.
package merge

import (
	"sort"
	"strings"

	"github.com/nordbook/calsync/internal/ics"
	"github.com/nordbook/calsync/internal/metrics"
	"github.com/nordbook/calsync/internal/models"
)

// DedupKey derives the canonical duplicate-detection key for an event:
// normalized title plus start date. Events sharing a key are candidate
// duplicates regardless of which feed produced them.
func DedupKey(ev models.CanonicalEvent) string {
	return normalizeTitle(ev.Title) + "|" + ev.StartTime.Format("2006-01-02")
}

// normalizeTitle lowercases and collapses runs of whitespace so
// cosmetic differences between providers do not defeat dedup.
func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Merge resolves duplicates in a combined event slice by origin
// precedence:
//
//   - identical ids keep the first occurrence (a feed republished twice)
//   - same key, same external kind: the lexicographically smallest id
//     survives, making the choice stable across runs
//   - same key, different external kinds (ical vs vendor-api): both are
//     kept; the similarity scan surfaces them for review instead
//   - a local event colliding with any external booking is kept with
//     FlaggedDuplicate set
//
// The input is not mutated. Output is sorted by start time then id, and
// merging the output again returns it unchanged.
func Merge(events []models.CanonicalEvent) []models.CanonicalEvent {
	byID := make(map[string]struct{}, len(events))
	groups := make(map[string][]models.CanonicalEvent)
	var keyOrder []string

	for _, ev := range events {
		if _, dup := byID[ev.ID]; dup {
			metrics.MergeDuplicatesCollapsed.Inc()
			continue
		}
		byID[ev.ID] = struct{}{}

		key := DedupKey(ev)
		if _, seen := groups[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		groups[key] = append(groups[key], ev)
	}

	out := make([]models.CanonicalEvent, 0, len(events))
	for _, key := range keyOrder {
		out = append(out, resolveGroup(groups[key])...)
	}

	ics.SortEvents(out)
	return out
}

// resolveGroup applies precedence within one dedup key group.
func resolveGroup(group []models.CanonicalEvent) []models.CanonicalEvent {
	if len(group) == 1 {
		return group
	}

	// One survivor per external kind: the smallest id for that kind.
	bestByKind := make(map[models.OriginKind]models.CanonicalEvent)
	var locals []models.CanonicalEvent
	for _, ev := range group {
		if ev.OriginKind == models.OriginLocal {
			locals = append(locals, ev)
			continue
		}
		best, ok := bestByKind[ev.OriginKind]
		if !ok || ev.ID < best.ID {
			if ok {
				metrics.MergeDuplicatesCollapsed.Inc()
			}
			bestByKind[ev.OriginKind] = ev
		} else {
			metrics.MergeDuplicatesCollapsed.Inc()
		}
	}

	kinds := make([]models.OriginKind, 0, len(bestByKind))
	for kind := range bestByKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Rank() < kinds[j].Rank() })

	out := make([]models.CanonicalEvent, 0, len(group))
	for _, kind := range kinds {
		out = append(out, bestByKind[kind])
	}

	// A local event sharing a key with any higher-ranked origin is kept
	// but flagged for review.
	for _, local := range locals {
		for _, kind := range kinds {
			if kind.Rank() > local.OriginKind.Rank() {
				if !local.FlaggedDuplicate {
					local.FlaggedDuplicate = true
					metrics.MergeLocalsFlagged.Inc()
				}
				break
			}
		}
		out = append(out, local)
	}

	return out
}
