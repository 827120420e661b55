// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Harvest HarvestConfig `mapstructure:"harvest"`
	Search  SearchConfig  `mapstructure:"search"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HarvestConfig governs dispatcher and per-location pipeline behavior.
type HarvestConfig struct {
	Datapoint             string              `mapstructure:"datapoint"`
	Synonyms              map[string][]string `mapstructure:"synonyms"`
	Concurrency           int                 `mapstructure:"concurrency"`
	QueueDepth            int                 `mapstructure:"queue_depth"`
	LocationBudgetSeconds int                 `mapstructure:"location_budget_seconds"`
	BucketMode            string              `mapstructure:"bucket_mode"`
	BucketDays            int                 `mapstructure:"bucket_days"`
	ZeroResultRefresh     bool                `mapstructure:"zero_result_refresh"`
	MaxRetries            int                 `mapstructure:"max_retries"`
}

// SearchConfig controls the headless search capability.
type SearchConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	MaxResults        int     `mapstructure:"max_results"`
	RatePerSecond     float64 `mapstructure:"rate_per_second"`
}

// ArchiveConfig controls archival-service submission.
type ArchiveConfig struct {
	SaveURL          string  `mapstructure:"save_url"`
	WebURL           string  `mapstructure:"web_url"`
	AvailableURL     string  `mapstructure:"available_url"`
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	ReuseWithinHours int     `mapstructure:"reuse_within_hours"`
}

// FetchConfig controls content retrieval.
type FetchConfig struct {
	UserAgent       string  `mapstructure:"user_agent"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	RatePerSecond   float64 `mapstructure:"rate_per_second"`
	InlineThreshold int     `mapstructure:"inline_threshold_bytes"`
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // gcs, local, memory
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for change-event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LAWHARVEST")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.datapoint", "sales tax")
	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.queue_depth", 64)
	v.SetDefault("harvest.location_budget_seconds", 600)
	v.SetDefault("harvest.bucket_mode", "calendar")
	v.SetDefault("harvest.bucket_days", 0)
	v.SetDefault("harvest.zero_result_refresh", false)
	v.SetDefault("harvest.max_retries", 3)
	v.SetDefault("search.nav_timeout_seconds", 45)
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.rate_per_second", 0.2)
	v.SetDefault("search.user_agent", "lawharvest/1.0 (municipal code acquisition)")
	v.SetDefault("archive.timeout_seconds", 120)
	v.SetDefault("archive.rate_per_second", 0.1)
	v.SetDefault("archive.reuse_within_hours", 24)
	v.SetDefault("archive.user_agent", "lawharvest/1.0 (municipal code acquisition)")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.rate_per_second", 1)
	v.SetDefault("fetch.inline_threshold_bytes", 1<<20)
	v.SetDefault("fetch.user_agent", "lawharvest/1.0 (municipal code acquisition)")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./data/blobs")
	v.SetDefault("storage.prefix", "payloads")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.migrate", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.QueueDepth <= 0 {
		return fmt.Errorf("harvest.queue_depth must be > 0")
	}
	switch c.Harvest.BucketMode {
	case "calendar":
	case "rolling":
		if c.Harvest.BucketDays <= 0 {
			return fmt.Errorf("harvest.bucket_days must be > 0 in rolling mode")
		}
	default:
		return fmt.Errorf("harvest.bucket_mode must be calendar or rolling, got %q", c.Harvest.BucketMode)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be gcs, local, or memory, got %q", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	return nil
}

// LocationBudget converts the per-location cap to a duration.
func (c Config) LocationBudget() time.Duration {
	return time.Duration(c.Harvest.LocationBudgetSeconds) * time.Second
}

// FetchTimeout converts the live-fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ArchiveTimeout converts the archive submission timeout to a duration.
func (c Config) ArchiveTimeout() time.Duration {
	return time.Duration(c.Archive.TimeoutSeconds) * time.Second
}

// SearchNavTimeout converts the search navigation timeout to a duration.
func (c Config) SearchNavTimeout() time.Duration {
	return time.Duration(c.Search.NavTimeoutSeconds) * time.Second
}
