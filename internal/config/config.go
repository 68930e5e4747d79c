// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package config loads Waymark configuration with Koanf v2 from layered
// sources (highest priority wins):
//
//  1. Environment variables with the WAYMARK_ prefix
//  2. Optional YAML config file (CONFIG_PATH or ./config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"time"

	"github.com/waymark-io/waymark/internal/validation"
)

// Config is the root configuration for the Waymark server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Events   EventsConfig   `koanf:"events"`
	Security SecurityConfig `koanf:"security"`
	Feed     FeedConfig     `koanf:"feed"`
	Demo     DemoConfig     `koanf:"demo"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// StorageConfig holds Badger store settings.
type StorageConfig struct {
	// Path is the Badger data directory. Ignored when InMemory is set.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// Breaker settings for the storage circuit breaker.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// EventsConfig selects the event bus transport. The in-process gochannel
// bus is the default; NATS JetStream (optionally embedded) supports
// multi-process deployments.
type EventsConfig struct {
	// Transport is "gochannel" or "nats".
	Transport string `koanf:"transport" validate:"oneof=gochannel nats"`

	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
}

// SecurityConfig holds the optional ingestion auth gate and operator
// login settings. Policy beyond single-token verification is out of
// scope; there are no roles.
type SecurityConfig struct {
	// IngestAuth requires a bearer token on the ingestion endpoint when
	// true. The CORS policy is independent of this gate.
	IngestAuth bool `koanf:"ingest_auth"`

	// JWTSecret signs operator tokens (HS256). Required when IngestAuth
	// is enabled; minimum 32 characters.
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// AdminUsername and AdminPasswordHash (bcrypt) guard the login
	// endpoint that issues tokens.
	AdminUsername     string `koanf:"admin_username"`
	AdminPasswordHash string `koanf:"admin_password_hash"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// FeedConfig holds live feed settings.
type FeedConfig struct {
	// JourneyListLimit is the size of the ranked journey list pushed to
	// dashboards.
	JourneyListLimit int `koanf:"journey_list_limit" validate:"min=1"`

	// Modes is the set of device modes accepted by the control channel.
	Modes []string `koanf:"modes" validate:"min=1"`
}

// DemoConfig parameterizes synthetic-mode generation. Defaults reproduce
// the original demo traffic: a slow oscillation around a fixed reference
// point with randomized speed and distance.
type DemoConfig struct {
	BaseLatitude  float64 `koanf:"base_latitude" validate:"min=-90,max=90"`
	BaseLongitude float64 `koanf:"base_longitude" validate:"min=-180,max=180"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in defaults, applied before file and
// environment layers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8331,
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Path:               "/data/waymark",
			InMemory:           false,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 15 * time.Second,
		},
		Events: EventsConfig{
			Transport:      "gochannel",
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
		},
		Security: SecurityConfig{
			IngestAuth:      false,
			SessionTimeout:  24 * time.Hour,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Feed: FeedConfig{
			JourneyListLimit: 10,
			Modes:            []string{"normal", "powersave", "high_frequency"},
		},
		Demo: DemoConfig{
			BaseLatitude:  28.6139,
			BaseLongitude: 77.2090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Security.IngestAuth {
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 characters when ingest_auth is enabled")
		}
		if c.Security.AdminUsername == "" || c.Security.AdminPasswordHash == "" {
			return fmt.Errorf("security.admin_username and security.admin_password_hash are required when ingest_auth is enabled")
		}
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	return nil
}
