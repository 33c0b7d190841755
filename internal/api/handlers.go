// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package api

import (
	"net/http"
	"time"

	"github.com/nordbook/calsync/internal/config"
	"github.com/nordbook/calsync/internal/ics"
	"github.com/nordbook/calsync/internal/store"
	"github.com/nordbook/calsync/internal/sync"
	"github.com/nordbook/calsync/internal/websocket"
)

// Handler carries the engine dependencies for all HTTP endpoints.
type Handler struct {
	cfg       config.Config
	feeds     *store.FeedStore
	events    *store.LocalEventStore
	orch      *sync.Orchestrator
	hub       *websocket.Hub
	startedAt time.Time
}

// NewHandler creates the handler set.
func NewHandler(cfg config.Config, feeds *store.FeedStore, events *store.LocalEventStore, orch *sync.Orchestrator, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:       cfg,
		feeds:     feeds,
		events:    events,
		orch:      orch,
		hub:       hub,
		startedAt: time.Now(),
	}
}

// Calendar handles GET /api/v1/calendar. It refreshes stale feeds on
// demand and returns the merged event list for the user, filtered to
// the requested window.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		rw.BadRequest("user_id is required")
		return
	}

	window := h.orch.Window()
	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err := parseWindowTime(raw, false)
		if err != nil {
			rw.BadRequest("start must be RFC3339 or YYYY-MM-DD")
			return
		}
		window.Start = start
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err := parseWindowTime(raw, true)
		if err != nil {
			rw.BadRequest("end must be RFC3339 or YYYY-MM-DD")
			return
		}
		window.End = end
	}
	if window.End.Before(window.Start) {
		rw.BadRequest("end must not be before start")
		return
	}

	events, err := h.orch.EventsForUser(r.Context(), userID, window)
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.SuccessWithMeta(events, &APIMeta{Count: len(events)})
}

// parseWindowTime accepts RFC3339 or a bare date. A bare end date is
// inclusive, so it maps to the end of that day.
func parseWindowTime(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

// healthStatus is the health endpoint payload.
type healthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(healthStatus{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// HealthLive handles GET /api/v1/health/live. Liveness is process-up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(healthStatus{Status: "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Readiness requires the
// store to answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if _, err := h.feeds.ListEnabled(r.Context()); err != nil {
		rw.ServiceUnavailable("store not ready")
		return
	}
	rw.Success(healthStatus{Status: "ok"})
}

// ExportICS handles GET /api/v1/export/ics. It exports the user's
// local-origin events as an ICS document with stable UIDs.
func (h *Handler) ExportICS(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		rw.BadRequest("user_id is required")
		return
	}

	events, err := h.events.ListByUser(r.Context(), userID)
	if err != nil {
		rw.StoreError(err)
		return
	}
	ics.SortEvents(events)

	body := ics.Export(events, "Calsync Local Events")
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calsync.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
