// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nordbook/calsync/internal/config"
	"github.com/nordbook/calsync/internal/middleware"
)

// Router assembles the HTTP surface.
type Router struct {
	cfg     config.APIConfig
	handler *Handler
}

// NewRouter creates a router around the handler set.
func NewRouter(cfg config.APIConfig, handler *Handler) *Router {
	return &Router{cfg: cfg, handler: handler}
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler so it can be used with r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware stack, applied to all routes in order.
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.corsHandler())

	// Health endpoints stay outside the rate limiter so monitoring is
	// never throttled.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if router.cfg.RateLimitReqs > 0 && router.cfg.RateLimitWindow > 0 {
			r.Use(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow))
		}
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Get("/calendar", router.handler.Calendar)

		r.Route("/feeds", func(r chi.Router) {
			r.Post("/", router.handler.FeedCreate)
			r.Get("/", router.handler.FeedList)
			r.Delete("/{id}", router.handler.FeedDelete)
			r.With(router.requireAdmin).Post("/{id}/refresh", router.handler.FeedRefresh)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", router.handler.EventCreate)
			r.Put("/{id}", router.handler.EventUpdate)
			r.Delete("/{id}", router.handler.EventDelete)
		})

		r.Get("/export/ics", router.handler.ExportICS)
		r.With(router.requireAdmin).Get("/similar", router.handler.Similar)
		r.Get("/ws", router.handler.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (router *Router) corsHandler() func(http.Handler) http.Handler {
	origins := router.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Admin-Token"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// requireAdmin guards the maintenance surface with the configured admin
// token. An empty token disables the surface entirely.
func (router *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if router.cfg.AdminToken == "" {
			NewResponseWriter(w, r).NotFound("not found")
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(router.cfg.AdminToken)) != 1 {
			NewResponseWriter(w, r).Unauthorized("invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
