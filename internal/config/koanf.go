// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/calsync/config.yaml",
	"/etc/calsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8094,
			Timeout: 30 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:        15 * time.Second,
			UserAgent:      "calsync/1.0 (+https://github.com/nordbook/calsync)",
			LenientHosts:   []string{},
			RatePerHost:    2.0,
			Burst:          4,
			MaxRetries:     2,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Cache: CacheConfig{
			// Short on purpose: an upstream cancellation must surface on
			// the next calendar read, not hours later.
			TTL: 2 * time.Minute,
		},
		Sync: SyncConfig{
			BackgroundEnabled:    false,
			Interval:             15 * time.Minute,
			MaxConcurrentFetches: 4,
			HorizonPast:          365 * 24 * time.Hour,
			HorizonFuture:        365 * 24 * time.Hour,
		},
		Merge: MergeConfig{
			SimilarityThreshold: 0.8,
		},
		Vendor: VendorConfig{
			Timeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Path:     "/data/calsync",
			InMemory: false,
		},
		API: APIConfig{
			AdminToken:      "",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using koanf v2 with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// FETCH_TIMEOUT -> fetch.timeout, SYNC_BACKGROUND_ENABLED -> sync.background_enabled
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring CONFIG_PATH first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when they arrive as env var strings.
var sliceConfigPaths = []string{
	"fetch.lenient_hosts",
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars come in as plain strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names to koanf config paths.
// Unmapped variables are ignored so random environment noise cannot
// pollute the configuration.
var envMappings = map[string]string{
	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",

	"fetch_timeout":          "fetch.timeout",
	"fetch_user_agent":       "fetch.user_agent",
	"fetch_lenient_hosts":    "fetch.lenient_hosts",
	"fetch_rate_per_host":    "fetch.rate_per_host",
	"fetch_burst":            "fetch.burst",
	"fetch_max_retries":      "fetch.max_retries",
	"fetch_retry_base_delay": "fetch.retry_base_delay",

	"cache_ttl": "cache.ttl",

	"sync_background_enabled":     "sync.background_enabled",
	"sync_interval":               "sync.interval",
	"sync_max_concurrent_fetches": "sync.max_concurrent_fetches",
	"sync_horizon_past":           "sync.horizon_past",
	"sync_horizon_future":         "sync.horizon_future",

	"merge_similarity_threshold": "merge.similarity_threshold",

	"vendor_timeout": "vendor.timeout",

	"store_path":      "store.path",
	"store_in_memory": "store.in_memory",

	"admin_token":         "api.admin_token",
	"cors_origins":        "api.cors_origins",
	"rate_limit_requests": "api.rate_limit_reqs",
	"rate_limit_window":   "api.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf paths.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload. The caller is
// responsible for mutex protection when swapping configuration.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
