package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Crawler.Concurrency)
	assert.Equal(t, 2, cfg.Crawler.Workers)
	assert.Equal(t, time.Second, cfg.RateLimit.Interval())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay())
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 1000, cfg.Escalate.MinHTMLBytes)
	assert.Equal(t, int64(2), cfg.Render.MaxParallel)
	assert.True(t, cfg.Render.Enabled)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "none", cfg.Blob.Backend)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
crawler:
  concurrency: 5
storage:
  backend: postgres
  dsn: postgres://localhost/crawler
queue:
  backend: pubsub
  project_id: test-project
  topic: crawl-jobs
  subscription: crawl-jobs-sub
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Crawler.Concurrency)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "pubsub", cfg.Queue.Backend)
	assert.Equal(t, "crawl-jobs", cfg.Queue.Topic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }},
		{"zero workers", func(c *Config) { c.Crawler.Workers = 0 }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres"; c.Storage.DSN = "" }},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"gcs without bucket", func(c *Config) { c.Blob.Backend = "gcs" }},
		{"pubsub without topic", func(c *Config) { c.Queue.Backend = "pubsub"; c.Queue.ProjectID = "p" }},
		{"multiplier below one", func(c *Config) { c.Retry.Multiplier = 0.5 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
