// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package api

import (
	"net/http"
	"strconv"

	"github.com/nordbook/calsync/internal/merge"
)

// Similar handles GET /api/v1/similar. Admin maintenance surface: it
// runs the batch similarity scan over the user's merged calendar and
// returns groups of probable duplicates for review.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		rw.BadRequest("user_id is required")
		return
	}

	threshold := h.cfg.Merge.SimilarityThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			rw.BadRequest("threshold must be a number between 0 and 1")
			return
		}
		threshold = parsed
	}

	events, err := h.orch.EventsForUser(r.Context(), userID, h.orch.Window())
	if err != nil {
		rw.StoreError(err)
		return
	}

	groups := merge.FindSimilarGroups(events, threshold)
	rw.SuccessWithMeta(groups, &APIMeta{Count: len(groups)})
}
