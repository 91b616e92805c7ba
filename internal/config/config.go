// Package config loads and validates reconciler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Enumerate EnumerateConfig `mapstructure:"enumerate"`
	Reader    ReaderConfig    `mapstructure:"reader"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Run       RunConfig       `mapstructure:"run"`
}

// SourceConfig describes the remote listing/document source.
type SourceConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	Headless        bool          `mapstructure:"headless"`
	HeadlessTimeout time.Duration `mapstructure:"headless_timeout"`
	// Date optionally narrows listings to a registration year.
	Date string `mapstructure:"date"`
}

// EnumerateConfig governs listing enumeration.
type EnumerateConfig struct {
	MaxPages    int `mapstructure:"max_pages"`
	StartPage   int `mapstructure:"start_page"`
	Concurrency int `mapstructure:"concurrency"`
	PageSize    int `mapstructure:"page_size"`
	BandMin     int `mapstructure:"band_min"`
	BandMax     int `mapstructure:"band_max"`
}

// ReaderConfig governs ranged corpus reads.
type ReaderConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// ReconcileConfig governs report derivation.
type ReconcileConfig struct {
	SampleSize int `mapstructure:"sample_size"`
}

// BackfillConfig governs the per-document pipeline.
type BackfillConfig struct {
	Concurrency  int  `mapstructure:"concurrency"`
	FetchContent bool `mapstructure:"fetch_content"`
}

// RetryConfig tunes the shared retry policy.
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	RateLimitMultiplier int           `mapstructure:"rate_limit_multiplier"`
}

// StorageConfig selects the corpus store.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls access to the Postgres corpus.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig controls the single-file corpus.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// ArtifactsConfig selects where snapshot reports are written.
type ArtifactsConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// LedgerConfig selects the retry ledger backend.
type LedgerConfig struct {
	Backend              string      `mapstructure:"backend"`
	Path                 string      `mapstructure:"path"`
	Redis                RedisConfig `mapstructure:"redis"`
	ReplayPruneSucceeded bool        `mapstructure:"replay_prune_succeeded"`
}

// RedisConfig holds Redis connection settings for the ledger.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	BatchEvents int           `mapstructure:"batch_events"`
	BatchWait   time.Duration `mapstructure:"batch_wait"`
	LogEvents   bool          `mapstructure:"log_events"`
	PersistRuns bool          `mapstructure:"persist_runs"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// APIKey, when set, is required on every request via X-API-Key.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RunConfig bounds a whole command invocation. Zero means no limit.
type RunConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Supported backend names.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendFile     = "file"
	BackendRedis    = "redis"
)

// Load builds a Config from .env files, the environment and an optional file.
func Load(path string) (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadEnvFiles loads ENV_FILE when set, otherwise .env if present. Values
// already in the environment win.
func loadEnvFiles() error {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://docs.cntd.ru")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (compatible; corpus-reconciler/1.0)")
	v.SetDefault("source.request_timeout", 30*time.Second)
	v.SetDefault("source.rate_per_second", 5.0)
	v.SetDefault("source.burst", 5)
	v.SetDefault("source.headless", false)
	v.SetDefault("source.headless_timeout", 45*time.Second)
	v.SetDefault("source.date", "")

	v.SetDefault("enumerate.max_pages", 100)
	v.SetDefault("enumerate.start_page", 1)
	v.SetDefault("enumerate.concurrency", 10)
	v.SetDefault("enumerate.page_size", 20)
	v.SetDefault("enumerate.band_min", 15)
	v.SetDefault("enumerate.band_max", 25)

	v.SetDefault("reader.batch_size", 1000)
	v.SetDefault("reader.concurrency", 10)
	v.SetDefault("reconcile.sample_size", 10)
	v.SetDefault("backfill.concurrency", 10)
	v.SetDefault("backfill.fetch_content", true)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.rate_limit_multiplier", 4)

	v.SetDefault("storage.backend", BackendPostgres)
	v.SetDefault("storage.postgres.table", "docs_cntd")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("storage.sqlite.path", "corpus.db")
	v.SetDefault("storage.sqlite.table", "docs_cntd")

	v.SetDefault("artifacts.backend", BackendLocal)
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("artifacts.gcs_prefix", "reconciler")

	v.SetDefault("ledger.backend", BackendFile)
	v.SetDefault("ledger.path", "failed_cntd_items.jsonl")
	v.SetDefault("ledger.redis.addr", "localhost:6379")
	v.SetDefault("ledger.redis.key", "reconciler:ledger")
	v.SetDefault("ledger.replay_prune_succeeded", false)

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_events", 500)
	v.SetDefault("progress.batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.persist_runs", false)

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic", "corpus-reconciler-runs")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("run.timeout", time.Duration(0))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Source.RequestTimeout <= 0 {
		return fmt.Errorf("source.request_timeout must be > 0")
	}
	if c.Source.RatePerSecond < 0 {
		return fmt.Errorf("source.rate_per_second must be >= 0")
	}
	if c.Enumerate.MaxPages <= 0 {
		return fmt.Errorf("enumerate.max_pages must be > 0")
	}
	if c.Enumerate.StartPage < 0 || c.Enumerate.StartPage > c.Enumerate.MaxPages {
		return fmt.Errorf("enumerate.start_page must be between 0 and enumerate.max_pages")
	}
	if c.Enumerate.Concurrency <= 0 {
		return fmt.Errorf("enumerate.concurrency must be > 0")
	}
	if c.Enumerate.BandMin > c.Enumerate.BandMax {
		return fmt.Errorf("enumerate.band_min must be <= enumerate.band_max")
	}
	if c.Reader.BatchSize <= 0 {
		return fmt.Errorf("reader.batch_size must be > 0")
	}
	if c.Reader.Concurrency <= 0 {
		return fmt.Errorf("reader.concurrency must be > 0")
	}
	if c.Backfill.Concurrency <= 0 {
		return fmt.Errorf("backfill.concurrency must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}
	if err := oneOf("storage.backend", c.Storage.Backend, BackendPostgres, BackendSQLite, BackendMemory); err != nil {
		return err
	}
	if err := oneOf("artifacts.backend", c.Artifacts.Backend, BackendLocal, BackendGCS, BackendMemory); err != nil {
		return err
	}
	if c.Artifacts.Backend == BackendGCS && c.Artifacts.GCSBucket == "" {
		return fmt.Errorf("artifacts.gcs_bucket must be set when artifacts.backend is gcs")
	}
	if err := oneOf("ledger.backend", c.Ledger.Backend, BackendFile, BackendRedis); err != nil {
		return err
	}
	if c.Ledger.Backend == BackendFile && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path must be set when ledger.backend is file")
	}
	if c.Ledger.Backend == BackendRedis && (c.Ledger.Redis.Addr == "" || c.Ledger.Redis.Key == "") {
		return fmt.Errorf("ledger.redis.addr and ledger.redis.key must be set when ledger.backend is redis")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Run.Timeout < 0 {
		return fmt.Errorf("run.timeout must be >= 0")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}
