package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lorekeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "kb/sources", cfg.Paths.SourceRoot)
	assert.Equal(t, time.Hour, cfg.Refresh.MinInterval.Std())
	assert.Equal(t, 50, cfg.Refresh.ManualBudget)
	assert.Equal(t, "anthropic", cfg.Summarizer.Provider)
	assert.True(t, cfg.Watch.EnableFiles)
}

func TestLoad_OverridesMergeOntoDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
paths:
  source_root: /srv/kb/docs
refresh:
  min_interval: 30m
  tick_budget: 3
  backoff_base: 10s
  backoff_cap: 60s
summarizer:
  provider: openai
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/kb/docs", cfg.Paths.SourceRoot)
	assert.Equal(t, 30*time.Minute, cfg.Refresh.MinInterval.Std())
	assert.Equal(t, 3, cfg.Refresh.TickBudget)
	assert.Equal(t, 10*time.Second, cfg.Refresh.BackoffBase.Std())
	assert.Equal(t, "openai", cfg.Summarizer.Provider)

	// Untouched sections keep defaults.
	assert.Equal(t, "kb/cache.json", cfg.Paths.CacheFile)
	assert.Equal(t, 50, cfg.Refresh.ManualBudget)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadDurationErrors(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "refresh:\n  min_interval: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty source root", func(c *Config) { c.Paths.SourceRoot = "" }},
		{"empty cache file", func(c *Config) { c.Paths.CacheFile = "" }},
		{"cap below base", func(c *Config) {
			c.Refresh.BackoffBase = Duration(time.Minute)
			c.Refresh.BackoffCap = Duration(time.Second)
		}},
		{"unknown provider", func(c *Config) { c.Summarizer.Provider = "delphi" }},
		{"zero tick interval", func(c *Config) { c.Refresh.TickInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
