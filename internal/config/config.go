// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Render    RenderConfig    `mapstructure:"render"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Escalate  EscalateConfig  `mapstructure:"escalate"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the job pipeline.
type CrawlerConfig struct {
	// Concurrency bounds simultaneous items within one job.
	Concurrency int `mapstructure:"concurrency"`
	// Workers is the number of jobs processed at once.
	Workers int `mapstructure:"workers"`
}

// HTTPConfig controls the probe fetch strategy.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RenderConfig controls the headless rendering strategy.
type RenderConfig struct {
	Enabled           bool  `mapstructure:"enabled"`
	MaxParallel       int64 `mapstructure:"max_parallel"`
	NavTimeoutSeconds int   `mapstructure:"nav_timeout_seconds"`
}

// RateLimitConfig controls the per-host fetch spacing.
type RateLimitConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

// Interval returns the per-host spacing as a duration.
func (c RateLimitConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// RetryConfig controls the fetch retry policy.
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelayMs int     `mapstructure:"base_delay_ms"`
	Multiplier  float64 `mapstructure:"multiplier"`
}

// BaseDelay returns the initial backoff as a duration.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// EscalateConfig tunes the needs-JS heuristic.
type EscalateConfig struct {
	MinHTMLBytes int `mapstructure:"min_html_bytes"`
}

// StorageConfig selects the job/profile store backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// BlobConfig selects the raw HTML archive backend.
type BlobConfig struct {
	// Backend is "none", "memory", "local" or "gcs".
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	// Backend is "memory" or "pubsub".
	Backend      string `mapstructure:"backend"`
	Depth        int    `mapstructure:"depth"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// EventsConfig controls completion event publishing.
type EventsConfig struct {
	CompletionTopic string `mapstructure:"completion_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. Environment
// variables use the PROFILECRAWLER_ prefix with underscores for dots.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROFILECRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.nav_timeout_seconds", 45)
	v.SetDefault("ratelimit.interval_ms", 1000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("escalate.min_html_bytes", 1000)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("blob.backend", "none")
	v.SetDefault("blob.dir", "blobs")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.RateLimit.IntervalMs < 0 {
		return fmt.Errorf("ratelimit.interval_ms must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Blob.Backend {
	case "none", "memory":
	case "local":
		if c.Blob.Dir == "" {
			return fmt.Errorf("blob.dir is required for the local backend")
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return fmt.Errorf("blob.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown blob.backend %q", c.Blob.Backend)
	}
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" {
			return fmt.Errorf("queue.project_id and queue.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	return nil
}
