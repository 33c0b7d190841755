// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nordbook/calsync/internal/models"
	"github.com/nordbook/calsync/internal/store"
)

// EventCreate handles POST /api/v1/events. Events created here always
// carry local origin.
func (h *Handler) EventCreate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req CreateEventRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	ev, err := req.ToEvent()
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if err := h.events.Create(r.Context(), ev); err != nil {
		rw.StoreError(err)
		return
	}
	rw.Created(ev)
}

// EventUpdate handles PUT /api/v1/events/{id}. Mutating an event that
// was synced from an external feed is rejected; those are corrected at
// the source.
func (h *Handler) EventUpdate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	ev, err := h.events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			rw.NotFound("event not found")
			return
		}
		rw.StoreError(err)
		return
	}

	var req UpdateEventRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}
	if err := req.Apply(ev); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	if err := h.events.Update(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, models.ErrNotLocalOrigin):
			rw.Forbidden("only local-origin events can be edited")
		case errors.Is(err, store.ErrEventNotFound):
			rw.NotFound("event not found")
		default:
			rw.StoreError(err)
		}
		return
	}
	rw.Success(ev)
}

// EventDelete handles DELETE /api/v1/events/{id}. Same origin guard as
// update.
func (h *Handler) EventDelete(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	ev, err := h.events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			rw.NotFound("event not found")
			return
		}
		rw.StoreError(err)
		return
	}
	if !ev.OriginKind.Editable() {
		rw.Forbidden("only local-origin events can be deleted")
		return
	}

	if err := h.events.Delete(r.Context(), id); err != nil {
		rw.StoreError(err)
		return
	}
	rw.NoContent()
}
