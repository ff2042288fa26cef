package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Catalog.BaseURL != "https://earth-search.aws.element84.com/v1" {
		t.Errorf("catalog base URL = %s", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.Collection != "sentinel-2-l2a" {
		t.Errorf("collection = %s", cfg.Catalog.Collection)
	}
	if cfg.Catalog.Timeout != 30*time.Second {
		t.Errorf("catalog timeout = %s", cfg.Catalog.Timeout)
	}
	if cfg.Stats.SampleFraction != 0.02 {
		t.Errorf("sample fraction = %g", cfg.Stats.SampleFraction)
	}
	if cfg.Stats.Seed != 42 {
		t.Errorf("seed = %d", cfg.Stats.Seed)
	}
	if !cfg.Tracking.Enabled {
		t.Error("tracking should default to enabled")
	}
	if cfg.Fetch.EnableS3 {
		t.Error("s3 fetch should default to disabled")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SATPIPE_CATALOG_BASE_URL", "http://localhost:8080/stac")
	t.Setenv("SATPIPE_STATS_SEED", "7")
	t.Setenv("SATPIPE_LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Catalog.BaseURL != "http://localhost:8080/stac" {
		t.Errorf("catalog base URL = %s", cfg.Catalog.BaseURL)
	}
	if cfg.Stats.Seed != 7 {
		t.Errorf("seed = %d", cfg.Stats.Seed)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %s", cfg.Logging.Format)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"zero sample fraction", "SATPIPE_STATS_SAMPLE_FRACTION", "0", "sample fraction"},
		{"fraction above one", "SATPIPE_STATS_SAMPLE_FRACTION", "1.5", "sample fraction"},
		{"negative timeout", "SATPIPE_CATALOG_TIMEOUT", "-1s", "timeout"},
		{"bad log format", "SATPIPE_LOG_FORMAT", "yaml", "log format"},
		{"empty catalog URL", "SATPIPE_CATALOG_BASE_URL", "", "base URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load accepted %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
