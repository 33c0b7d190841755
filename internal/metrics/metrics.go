// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package metrics provides Prometheus instrumentation for the engine:
// sync runs, upstream fetches, cache efficiency, circuit breaker state,
// API latency, websocket connections and notification fan-out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Operation Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of per-feed sync runs",
		},
		[]string{"feed_kind", "result"}, // result: "success", "failure", "coalesced"
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of per-feed sync runs in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"feed_kind"},
	)

	SyncEventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_processed_total",
			Help: "Total number of canonical events produced by sync runs",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful sync run",
		},
	)

	// Upstream Fetch Metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of upstream feed fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_errors_total",
			Help: "Total number of upstream fetch errors by category",
		},
		[]string{"category"}, // timeout, not-found, connection-refused, server-error, empty-body
	)

	// Cache Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_hits_total",
			Help: "Total number of feed cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_misses_total",
			Help: "Total number of feed cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_evictions_total",
			Help: "Total number of feed cache evictions (TTL expiry or invalidation)",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_cache_entries",
			Help: "Current number of cached feed entries",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"host"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"host", "from_state", "to_state"},
	)

	// Merge Metrics
	MergeDuplicatesCollapsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merge_duplicates_collapsed_total",
			Help: "Total number of duplicate events collapsed by the merge resolver",
		},
	)

	MergeLocalsFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merge_locals_flagged_total",
			Help: "Total number of local events flagged as duplicating external bookings",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// Notification Metrics
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Total number of notifications published to the fan-out channel",
		},
		[]string{"type"},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Total number of notifications dropped (no receiver or full client buffer)",
		},
	)
)

// RecordSyncRun records the outcome of one per-feed sync run.
func RecordSyncRun(feedKind string, success bool, duration time.Duration, eventCount int) {
	result := "success"
	if !success {
		result = "failure"
	}
	SyncRunsTotal.WithLabelValues(feedKind, result).Inc()
	SyncDuration.WithLabelValues(feedKind).Observe(duration.Seconds())
	if success {
		SyncEventsProcessed.Add(float64(eventCount))
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordFetch records an upstream fetch attempt.
func RecordFetch(host string, duration time.Duration, errCategory string) {
	FetchDuration.WithLabelValues(host).Observe(duration.Seconds())
	if errCategory != "" {
		FetchErrorsTotal.WithLabelValues(errCategory).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
