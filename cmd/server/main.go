// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package main is the entry point for the Calsync server.
//
// Calsync synchronizes external calendar sources (iCal/ICS feeds and
// vendor booking APIs) into a unified per-user calendar for a
// property-booking platform. Feeds are fetched with per-host rate
// limiting and circuit breaking, normalized into canonical events,
// cached with a short TTL, merged with dedup and origin precedence, and
// pushed to connected websocket clients when a sync changes anything.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (defaults, YAML, env)
//  2. Store: BadgerDB for the feed registry and local events
//  3. Fetch clients: iCal fetcher and vendor booking API client
//  4. Orchestrator: per-feed sync with coalescing and merge pipeline
//  5. Notifications: watermill publisher, forwarder, websocket hub
//  6. HTTP server: REST API, ICS export, websocket upgrade, metrics
//
// Everything long-running sits under a suture supervision tree; a crash
// in one layer restarts that layer without taking down the rest.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (CALSYNC_ prefix)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting connections, waits for in-flight requests (10s timeout),
// stops the scheduler and forwarder, and closes the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nordbook/calsync/internal/api"
	"github.com/nordbook/calsync/internal/bookingapi"
	"github.com/nordbook/calsync/internal/cache"
	"github.com/nordbook/calsync/internal/config"
	"github.com/nordbook/calsync/internal/fetch"
	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/notify"
	"github.com/nordbook/calsync/internal/store"
	"github.com/nordbook/calsync/internal/supervisor"
	"github.com/nordbook/calsync/internal/supervisor/services"
	"github.com/nordbook/calsync/internal/sync"
	ws "github.com/nordbook/calsync/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("background_sync", cfg.Sync.BackgroundEnabled).
		Dur("cache_ttl", cfg.Cache.TTL).
		Msg("Configuration loaded")

	db, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	feeds := store.NewFeedStore(db)
	events := store.NewLocalEventStore(db)

	feedCache := cache.New(cfg.Cache.TTL)
	defer feedCache.Close()

	fetcher := fetch.New(cfg.Fetch)
	vendor := bookingapi.NewClient(cfg.Vendor, cfg.Fetch)

	publisher := notify.NewPublisher()
	defer publisher.Close()

	orch := sync.NewOrchestrator(feeds, events, fetcher, vendor, feedCache, publisher, cfg.Sync)

	hub := ws.NewHub()
	forwarder := notify.NewForwarder(publisher.Subscriber(), notify.NoopEmailNotifier{}, hub)

	handler := api.NewHandler(*cfg, feeds, events, orch, hub)
	router := api.NewRouter(cfg.API, handler)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if !cfg.Store.InMemory {
		tree.AddDataService(services.NewStoreGCService(db))
	}

	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(services.NewForwarderService(forwarder))
	if cfg.Sync.BackgroundEnabled {
		scheduler := sync.NewScheduler(orch, cfg.Sync.Interval)
		tree.AddMessagingService(services.NewSchedulerService(scheduler))
		logging.Info().Dur("interval", cfg.Sync.Interval).Msg("Background sync enabled")
	} else {
		logging.Info().Msg("Background sync disabled; feeds refresh on demand only")
	}

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Calsync stopped gracefully")
}
