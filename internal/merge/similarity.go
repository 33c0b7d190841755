// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package merge

import (
	"github.com/agnivade/levenshtein"

	"github.com/nordbook/calsync/internal/models"
)

// SimilarGroup is a set of events a human should review as probable
// duplicates that exact-key dedup could not collapse (slightly
// different titles, overlapping but unequal ranges).
type SimilarGroup struct {
	Score  float64                 `json:"score"`
	Events []models.CanonicalEvent `json:"events"`
}

// FindSimilarGroups scans events pairwise and clusters those whose
// combined title/date similarity meets the threshold. Events already
// linked by an exact DedupKey collision do not need this pass; the scan
// exists for the near misses.
func FindSimilarGroups(events []models.CanonicalEvent, threshold float64) []SimilarGroup {
	n := len(events)
	if n < 2 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		parent[find(i)] = find(j)
	}

	bestScore := make(map[int]float64)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			score := Similarity(events[i], events[j])
			if score < threshold {
				continue
			}
			union(i, j)
			root := find(i)
			if score > bestScore[root] {
				bestScore[root] = score
			}
		}
	}

	members := make(map[int][]int)
	var rootOrder []int
	for i := 0; i < n; i++ {
		root := find(i)
		if _, seen := members[root]; !seen {
			rootOrder = append(rootOrder, root)
		}
		members[root] = append(members[root], i)
	}

	var out []SimilarGroup
	for _, root := range rootOrder {
		idxs := members[root]
		if len(idxs) < 2 {
			continue
		}
		group := SimilarGroup{Score: bestScore[root]}
		for _, idx := range idxs {
			group.Events = append(group.Events, events[idx])
		}
		out = append(out, group)
	}
	return out
}

// Similarity combines title similarity (Levenshtein ratio on normalized
// titles) with date-range overlap. Both factors are in [0,1]; events
// with no overlap at all score zero.
func Similarity(a, b models.CanonicalEvent) float64 {
	return titleRatio(a.Title, b.Title) * rangeOverlap(a, b)
}

func titleRatio(a, b string) float64 {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == nb {
		return 1
	}
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(maxLen)
}

// rangeOverlap is the shared duration divided by the shorter event's
// duration, so a short booking fully inside a long one still counts as
// a full overlap.
func rangeOverlap(a, b models.CanonicalEvent) float64 {
	start := a.StartTime
	if b.StartTime.After(start) {
		start = b.StartTime
	}
	end := a.EndTime
	if b.EndTime.Before(end) {
		end = b.EndTime
	}
	if !end.After(start) {
		return 0
	}

	overlap := end.Sub(start).Seconds()
	shorter := a.EndTime.Sub(a.StartTime).Seconds()
	if d := b.EndTime.Sub(b.StartTime).Seconds(); d < shorter {
		shorter = d
	}
	if shorter <= 0 {
		return 0
	}

	ratio := overlap / shorter
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}
