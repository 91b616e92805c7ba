package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Enumerate.Concurrency != 10 || cfg.Enumerate.PageSize != 20 {
		t.Fatalf("unexpected enumerate defaults: %+v", cfg.Enumerate)
	}
	if cfg.Enumerate.BandMin != 15 || cfg.Enumerate.BandMax != 25 {
		t.Fatalf("unexpected band defaults: %+v", cfg.Enumerate)
	}
	if cfg.Reader.BatchSize != 1000 {
		t.Fatalf("expected batch size 1000, got %d", cfg.Reader.BatchSize)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Ledger.Backend != BackendFile || cfg.Ledger.Path != "failed_cntd_items.jsonl" {
		t.Fatalf("unexpected ledger defaults: %+v", cfg.Ledger)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
source:
  base_url: http://localhost:9999
  request_timeout: 5s
  rate_per_second: 0
enumerate:
  max_pages: 40
  concurrency: 4
reader:
  batch_size: 250
backfill:
  concurrency: 3
  fetch_content: false
retry:
  max_attempts: 5
  base_delay: 100ms
  max_delay: 2s
storage:
  backend: sqlite
  sqlite:
    path: /tmp/corpus.db
artifacts:
  backend: gcs
  gcs_bucket: corpus-artifacts
ledger:
  backend: redis
  redis:
    addr: redis:6379
    key: ledger:cntd
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.BaseURL != "http://localhost:9999" || cfg.Source.RequestTimeout != 5*time.Second {
		t.Fatalf("expected source overrides: %+v", cfg.Source)
	}
	if cfg.Enumerate.MaxPages != 40 || cfg.Enumerate.Concurrency != 4 {
		t.Fatalf("expected enumerate overrides: %+v", cfg.Enumerate)
	}
	if cfg.Backfill.FetchContent {
		t.Fatal("expected fetch_content false")
	}
	if cfg.Retry.BaseDelay != 100*time.Millisecond || cfg.Retry.MaxDelay != 2*time.Second {
		t.Fatalf("expected retry durations: %+v", cfg.Retry)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.SQLite.Path != "/tmp/corpus.db" {
		t.Fatalf("expected sqlite storage: %+v", cfg.Storage)
	}
	if cfg.Ledger.Redis.Key != "ledger:cntd" {
		t.Fatalf("expected redis key override: %+v", cfg.Ledger.Redis)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "empty base url", mutate: func(c *Config) { c.Source.BaseURL = "" }, want: "source.base_url"},
		{name: "zero timeout", mutate: func(c *Config) { c.Source.RequestTimeout = 0 }, want: "source.request_timeout"},
		{name: "zero pages", mutate: func(c *Config) { c.Enumerate.MaxPages = 0 }, want: "enumerate.max_pages"},
		{name: "start past end", mutate: func(c *Config) { c.Enumerate.StartPage = 500 }, want: "enumerate.start_page"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Enumerate.Concurrency = 0 }, want: "enumerate.concurrency"},
		{name: "inverted band", mutate: func(c *Config) { c.Enumerate.BandMin = 30 }, want: "enumerate.band_min"},
		{name: "zero batch", mutate: func(c *Config) { c.Reader.BatchSize = 0 }, want: "reader.batch_size"},
		{name: "zero backfill", mutate: func(c *Config) { c.Backfill.Concurrency = 0 }, want: "backfill.concurrency"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, want: "retry.max_attempts"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "mysql" }, want: "storage.backend"},
		{
			name:   "gcs without bucket",
			mutate: func(c *Config) { c.Artifacts.Backend = BackendGCS },
			want:   "artifacts.gcs_bucket",
		},
		{
			name:   "redis without key",
			mutate: func(c *Config) { c.Ledger.Backend = BackendRedis; c.Ledger.Redis.Key = "" },
			want:   "ledger.redis",
		},
		{
			name:   "pubsub without project",
			mutate: func(c *Config) { c.PubSub.Enabled = true },
			want:   "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
