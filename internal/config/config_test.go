package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultValidates(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"256MB", 256 << 20, false},
		{"1GB", 1 << 30, false},
		{"4KB", 4 << 10, false},
		{"512B", 512, false},
		{"100", 100, false},
		{"1.5GB", 1610612736, false},
		{"", 0, true},
		{"abcMB", 0, true},
		{"-1MB", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero max entries", func(c *Configuration) { c.Cache.MaxEntries = 0 }},
		{"bad max size", func(c *Configuration) { c.Cache.MaxSize = "lots" }},
		{"zero ttl", func(c *Configuration) { c.Cache.DefaultTTL = 0 }},
		{"negative stale window", func(c *Configuration) { c.Cache.StaleWindow = -time.Second }},
		{"unknown strategy", func(c *Configuration) { c.Cache.PrimaryStrategy = "mru" }},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "TRACE" }},
		{"bad fetch source", func(c *Configuration) { c.Fetch.Source = "ftp" }},
		{"s3 without bucket", func(c *Configuration) { c.Fetch.Source = "s3" }},
		{"http without url", func(c *Configuration) { c.Fetch.Source = "http" }},
		{"zero retry attempts", func(c *Configuration) { c.Fetch.Retry.MaxAttempts = 0 }},
		{"inverted thresholds", func(c *Configuration) {
			c.Optimization.PressureThreshold = 0.95
			c.Optimization.EmergencyThreshold = 0.80
		}},
		{"durable without directory", func(c *Configuration) { c.Durable.Enabled = true }},
	}

	for _, tt := range tests {
		cfg := NewDefault()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assetcache.yaml")

	content := `
cache:
  max_size: 64MB
  max_entries: 500
  primary_strategy: lfu
prefetch:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Cache.MaxSize != "64MB" {
		t.Errorf("expected max_size 64MB, got %s", cfg.Cache.MaxSize)
	}
	if cfg.Cache.MaxEntries != 500 {
		t.Errorf("expected max_entries 500, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.PrimaryStrategy != "lfu" {
		t.Errorf("expected primary_strategy lfu, got %s", cfg.Cache.PrimaryStrategy)
	}
	if cfg.Prefetch.Enabled {
		t.Error("prefetch should be disabled by the file")
	}
	// Untouched fields keep their defaults.
	if cfg.Cache.DefaultTTL != 30*time.Minute {
		t.Errorf("default_ttl default lost, got %v", cfg.Cache.DefaultTTL)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded configuration should validate: %v", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/assetcache.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ASSETCACHE_MAX_SIZE", "128MB")
	t.Setenv("ASSETCACHE_PRIMARY_STRATEGY", "adaptive")
	t.Setenv("ASSETCACHE_PREFETCHING", "false")
	t.Setenv("ASSETCACHE_METRICS_PORT", "9999")

	cfg := NewDefault()
	cfg.LoadFromEnv()

	if cfg.Cache.MaxSize != "128MB" {
		t.Errorf("expected max_size 128MB, got %s", cfg.Cache.MaxSize)
	}
	if cfg.Cache.PrimaryStrategy != "adaptive" {
		t.Errorf("expected primary_strategy adaptive, got %s", cfg.Cache.PrimaryStrategy)
	}
	if cfg.Prefetch.Enabled {
		t.Error("prefetch should be disabled via env")
	}
	if cfg.Monitoring.Port != 9999 {
		t.Errorf("expected metrics port 9999, got %d", cfg.Monitoring.Port)
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "assetcache.yaml")

	cfg := NewDefault()
	cfg.Cache.MaxSize = "99MB"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Cache.MaxSize != "99MB" {
		t.Errorf("round trip lost max_size, got %s", loaded.Cache.MaxSize)
	}
}
