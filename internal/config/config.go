// Package config provides configuration management for the satpipe pipeline.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Catalog  CatalogConfig  `envPrefix:"CATALOG_"`
	SAR      SARConfig      `envPrefix:"SAR_"`
	Fetch    FetchConfig    `envPrefix:"FETCH_"`
	Stats    StatsConfig    `envPrefix:"STATS_"`
	Data     DataConfig     `envPrefix:"DATA_"`
	Tracking TrackingConfig `envPrefix:"TRACKING_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// CatalogConfig contains STAC catalog client configuration.
type CatalogConfig struct {
	BaseURL      string        `env:"BASE_URL" envDefault:"https://earth-search.aws.element84.com/v1"`
	Collection   string        `env:"COLLECTION" envDefault:"sentinel-2-l2a"`
	TileProperty string        `env:"TILE_PROPERTY" envDefault:"s2:mgrs_tile"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// SARConfig contains the radar measurement source configuration.
type SARConfig struct {
	BaseURL string `env:"BASE_URL" envDefault:"https://sentinel-s1-l1c.s3.amazonaws.com"`
}

// FetchConfig contains blob fetch configuration.
type FetchConfig struct {
	Timeout time.Duration `env:"TIMEOUT" envDefault:"60s"`
	// EnableS3 turns on the aws-sdk-backed fetcher for s3:// asset hrefs.
	EnableS3 bool `env:"ENABLE_S3" envDefault:"false"`
}

// StatsConfig contains sampling configuration for per-band statistics.
type StatsConfig struct {
	SampleFraction float64 `env:"SAMPLE_FRACTION" envDefault:"0.02"`
	Seed           int64   `env:"SEED" envDefault:"42"`
}

// DataConfig contains output layout configuration.
type DataConfig struct {
	RawDir string `env:"RAW_DIR" envDefault:"data/raw"`
}

// TrackingConfig contains run-tracking sidecar configuration.
type TrackingConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"satpipe_runs.db"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		Prefix:          "SATPIPE_",
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base URL is required")
	}
	if c.Catalog.Collection == "" {
		return fmt.Errorf("catalog collection is required")
	}
	if c.Catalog.TileProperty == "" {
		return fmt.Errorf("catalog tile property is required")
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog timeout must be positive, got %s", c.Catalog.Timeout)
	}

	if c.SAR.BaseURL == "" {
		return fmt.Errorf("SAR base URL is required")
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.Fetch.Timeout)
	}

	if c.Stats.SampleFraction <= 0 || c.Stats.SampleFraction > 1 {
		return fmt.Errorf("sample fraction must be in (0, 1], got %g", c.Stats.SampleFraction)
	}

	if c.Tracking.Enabled && c.Tracking.Path == "" {
		return fmt.Errorf("tracking path is required when tracking is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be 'text' or 'json', got %q", c.Logging.Format)
	}

	return nil
}
