// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to the gateway components via constructors.
  - Zero Hidden State: No global variables are used to store config.

The reading-window and retry values are empirical tuning knobs, so every one of
them has a default here and can be overridden per deployment.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Yomira reader gateway.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// PublicURL is the externally visible base of this gateway, used to build Blob URLs.
	PublicURL string `env:"PUBLIC_URL" envDefault:""`

	// Remote library server serving /pages/{book}/{n}
	UpstreamURL string `env:"UPSTREAM_URL,required"`

	// Library catalogue (PostgreSQL, read-only)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Offline status records (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Persistent HTTP cache (SQLite file) and offline shell manifest
	CacheDBPath       string `env:"CACHE_DB_PATH"       envDefault:"./data/cache.sqlite3"`
	ShellManifestPath string `env:"SHELL_MANIFEST_PATH" envDefault:"./data/shell.yaml"`

	// Reading window
	Window ReaderConfig `envPrefix:"READER_"`

	// Offline downloads
	Offline OfflineConfig `envPrefix:"OFFLINE_"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// ReaderConfig tunes the in-memory page cache and the prefetch scheduler.
type ReaderConfig struct {
	EvictBehind      int           `env:"EVICT_BEHIND"      envDefault:"8"`
	EvictAhead       int           `env:"EVICT_AHEAD"       envDefault:"8"`
	PrefetchAhead    int           `env:"PREFETCH_AHEAD"    envDefault:"4"`
	PrefetchBehind   int           `env:"PREFETCH_BEHIND"   envDefault:"2"`
	ProgressDebounce time.Duration `env:"PROGRESS_DEBOUNCE" envDefault:"500ms"`
	ReadyTimeout     time.Duration `env:"READY_TIMEOUT"     envDefault:"10s"`
	SessionIdleTTL   time.Duration `env:"SESSION_IDLE_TTL"  envDefault:"30m"`
}

// OfflineConfig tunes the offline download retry loop.
type OfflineConfig struct {
	Attempts       int           `env:"ATTEMPTS"        envDefault:"3"`
	BaseDelay      time.Duration `env:"BASE_DELAY"      envDefault:"1s"`
	MaxDelay       time.Duration `env:"MAX_DELAY"       envDefault:"5s"`
	StaleThreshold time.Duration `env:"STALE_THRESHOLD" envDefault:"5m"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost:" + cfg.ServerPort
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
