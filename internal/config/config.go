// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package config defines the Calsync configuration structure and its
// layered loader (struct defaults, optional YAML file, environment
// variables; later layers win).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Calsync server.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Cache   CacheConfig   `koanf:"cache"`
	Sync    SyncConfig    `koanf:"sync"`
	Merge   MergeConfig   `koanf:"merge"`
	Vendor  VendorConfig  `koanf:"vendor"`
	Store   StoreConfig   `koanf:"store"`
	API     APIConfig     `koanf:"api"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// FetchConfig holds outbound HTTP fetch settings for iCal feeds.
type FetchConfig struct {
	// Timeout bounds a single upstream fetch.
	Timeout time.Duration `koanf:"timeout"`

	// UserAgent identifies the client to upstream providers.
	UserAgent string `koanf:"user_agent"`

	// LenientHosts lists provider hosts that serve redirects or
	// soft-404s on valid calendars; non-5xx responses with a body are
	// accepted from them.
	LenientHosts []string `koanf:"lenient_hosts"`

	// RatePerHost is the sustained outbound request rate per host.
	RatePerHost float64 `koanf:"rate_per_host"`

	// Burst is the per-host rate limiter burst size.
	Burst int `koanf:"burst"`

	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// CacheConfig holds per-feed cache settings.
type CacheConfig struct {
	// TTL is the lifetime of a cached feed entry. Kept short so
	// upstream cancellations appear quickly.
	TTL time.Duration `koanf:"ttl"`
}

// SyncConfig holds orchestration settings.
type SyncConfig struct {
	// BackgroundEnabled turns on the periodic all-feed sync schedule.
	BackgroundEnabled bool `koanf:"background_enabled"`

	// Interval between background sync runs.
	Interval time.Duration `koanf:"interval"`

	// MaxConcurrentFetches bounds the per-request feed refresh fan-out.
	MaxConcurrentFetches int `koanf:"max_concurrent_fetches"`

	// HorizonPast / HorizonFuture bound the event window relative to now.
	HorizonPast   time.Duration `koanf:"horizon_past"`
	HorizonFuture time.Duration `koanf:"horizon_future"`
}

// MergeConfig holds dedup and similarity settings.
type MergeConfig struct {
	// SimilarityThreshold is the minimum combined title/date score for
	// two events to be grouped as probable duplicates.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
}

// VendorConfig holds vendor booking API client settings.
type VendorConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// StoreConfig holds BadgerDB settings.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// APIConfig holds API surface settings.
type APIConfig struct {
	// AdminToken guards admin routes (force refresh, similarity scan).
	// Empty disables the admin surface.
	AdminToken      string        `koanf:"admin_token"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Sync.MaxConcurrentFetches < 1 {
		return fmt.Errorf("sync.max_concurrent_fetches must be at least 1, got %d", c.Sync.MaxConcurrentFetches)
	}
	if c.Sync.HorizonPast <= 0 || c.Sync.HorizonFuture <= 0 {
		return fmt.Errorf("sync horizon must be positive, got past=%s future=%s",
			c.Sync.HorizonPast, c.Sync.HorizonFuture)
	}
	if c.Merge.SimilarityThreshold < 0 || c.Merge.SimilarityThreshold > 1 {
		return fmt.Errorf("merge.similarity_threshold must be 0-1, got %f", c.Merge.SimilarityThreshold)
	}
	if c.Sync.BackgroundEnabled && c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive when background sync is enabled, got %s", c.Sync.Interval)
	}
	if c.Store.Path == "" && !c.Store.InMemory {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	return nil
}
