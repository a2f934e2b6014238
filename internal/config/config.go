// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

// Package config loads layered configuration for Shiptrace using Koanf v2:
// built-in defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the tracking engine.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Archive    ArchiveConfig    `koanf:"archive"`
	NATS       NATSConfig       `koanf:"nats"`
	Replay     ReplayConfig     `koanf:"replay"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Logging    LoggingConfig    `koanf:"logging"`
	API        APIConfig        `koanf:"api"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig configures the DuckDB primary store.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:" for tests.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// ArchiveConfig configures the badger-backed archival sink.
type ArchiveConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
	// RetryInterval is how long the sink waits before retrying a failed
	// archival write. Archival errors never propagate to ingestion.
	RetryInterval time.Duration `koanf:"retry_interval"`
	// QueueSize bounds the in-flight archival buffer.
	QueueSize int `koanf:"queue_size"`
}

// NATSConfig configures the optional JetStream mirror of accepted events.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	StreamName     string `koanf:"stream_name"`
	Subject        string `koanf:"subject"`
}

// ReplayConfig bounds the unresolved-shipment replay queue.
type ReplayConfig struct {
	// MaxAge is the window within which unresolved events are retried.
	// Older events are surfaced for manual review instead.
	MaxAge time.Duration `koanf:"max_age"`
	// Interval is the sweep period of the replay loop.
	Interval time.Duration `koanf:"interval"`
}

// DispatcherConfig bounds automation action execution.
type DispatcherConfig struct {
	// ActionTimeout caps each external action call.
	ActionTimeout time.Duration `koanf:"action_timeout"`
	// WebhookRatePerSecond throttles outbound webhook calls; 0 disables.
	WebhookRatePerSecond float64 `koanf:"webhook_rate_per_second"`
	// BreakerMaxFailures opens the webhook circuit breaker after this many
	// consecutive failures.
	BreakerMaxFailures uint32 `koanf:"breaker_max_failures"`
	// BreakerOpenInterval holds the breaker open before probing again.
	BreakerOpenInterval time.Duration `koanf:"breaker_open_interval"`
}

// LoggingConfig configures the zerolog setup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// APIConfig configures the query surface.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
	// RateLimitReqs requests per RateLimitWindow on the ingest endpoint.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Validate checks configuration invariants after loading.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("config: archive path is required when archive is enabled")
	}
	if c.NATS.Enabled && !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("config: nats url is required when not using the embedded server")
	}
	if c.Replay.MaxAge <= 0 {
		return fmt.Errorf("config: replay max_age must be positive")
	}
	if c.Replay.Interval <= 0 {
		return fmt.Errorf("config: replay interval must be positive")
	}
	if c.Dispatcher.ActionTimeout <= 0 {
		return fmt.Errorf("config: dispatcher action_timeout must be positive")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("config: api max_page_size %d below default_page_size %d",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	return nil
}
