// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/store"
)

// FeedCreate handles POST /api/v1/feeds.
func (h *Handler) FeedCreate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req CreateFeedRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	feed := req.ToFeed()
	if err := h.feeds.Create(r.Context(), feed); err != nil {
		if errors.Is(err, store.ErrDuplicateFeedURL) {
			rw.Conflict("feed URL already registered")
			return
		}
		rw.StoreError(err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("feed_id", feed.ID).
		Str("kind", string(feed.Kind)).
		Msg("feed registered")
	rw.Created(feed)
}

// FeedList handles GET /api/v1/feeds.
func (h *Handler) FeedList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		rw.BadRequest("user_id is required")
		return
	}

	feeds, err := h.feeds.ListByUser(r.Context(), userID)
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.SuccessWithMeta(feeds, &APIMeta{Count: len(feeds)})
}

// FeedDelete handles DELETE /api/v1/feeds/{id}. The feed's cached
// events are dropped with it.
func (h *Handler) FeedDelete(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	if err := h.feeds.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrFeedNotFound) {
			rw.NotFound("feed not found")
			return
		}
		rw.StoreError(err)
		return
	}
	h.orch.ForgetFeed(id)

	logging.Ctx(r.Context()).Info().Str("feed_id", id).Msg("feed deleted")
	rw.NoContent()
}

// FeedRefresh handles POST /api/v1/feeds/{id}/refresh. Admin-only
// forced refresh: the cache entry is cleared before fetching, so a
// failing upstream leaves the feed empty until it recovers.
func (h *Handler) FeedRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	feed, err := h.feeds.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrFeedNotFound) {
			rw.NotFound("feed not found")
			return
		}
		rw.StoreError(err)
		return
	}

	outcome, err := h.orch.RefreshFeed(r.Context(), *feed, true)
	if err != nil {
		rw.ErrorWithDetails(http.StatusBadGateway, ErrCodeExternalServiceFail, "feed refresh failed", outcome)
		return
	}
	rw.Success(outcome)
}
