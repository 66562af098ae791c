// Copyright (c) 2026 Tidebase. All rights reserved.

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
  - DI-Friendly: Passed to core components (DB, Redis) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Tidebase gateway.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis). Optional; empty disables the read cache.
	RedisURL string `env:"REDIS_URL"`

	// API keys presented by clients in the apikey header.
	AnonKey    string `env:"ANON_KEY,required"`
	ServiceKey string `env:"SERVICE_KEY,required"`

	// JWTSecret verifies bearer tokens (HS256).
	JWTSecret string `env:"JWT_SECRET,required"`

	// ExposedSchemas lists the schemas reachable through profile headers,
	// in addition to public.
	ExposedSchemas []string `env:"EXPOSED_SCHEMAS" envSeparator:","`

	// GuardedTables lists tables denied to anonymous clients when the
	// engine runs without row security roles ("public.orders" or "orders").
	GuardedTables []string `env:"GUARDED_TABLES" envSeparator:","`

	// MaxRows caps the page size of every read. Zero disables the cap.
	MaxRows int `env:"MAX_ROWS" envDefault:"1000"`

	// StatementTimeout bounds each request's database transaction.
	StatementTimeout time.Duration `env:"STATEMENT_TIMEOUT" envDefault:"10s"`

	// CacheTTL is the lifetime of cached anonymous read results.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// Cross-Origin Resource Sharing
	ExtraOrigins []string `env:"EXTRA_ORIGINS" envSeparator:","`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AllowedOrigins returns the browser origins permitted by the CORS policy.
func (c *Config) AllowedOrigins() []string {
	origins := []string{"https://tidebase.dev", "https://app.tidebase.dev"}
	return append(origins, c.ExtraOrigins...)
}
