// Package config loads and validates the Lorekeep engine configuration from
// YAML, providing defaults for every tunable so an empty file is a working
// setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Duration
// =============================================================================

// Duration wraps time.Duration so YAML values can use Go duration syntax
// ("90s", "1h30m") instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// =============================================================================
// Config Sections
// =============================================================================

// Config is the full engine configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Watch      WatchConfig      `yaml:"watch"`
}

// PathsConfig locates the knowledge-base inputs and artifacts.
type PathsConfig struct {
	// SourceRoot is the directory of file sources.
	SourceRoot string `yaml:"source_root"`

	// LinkList is the file of URL sources, one per line, '#' comments.
	LinkList string `yaml:"link_list"`

	// CacheFile is the persisted cache artifact.
	CacheFile string `yaml:"cache_file"`

	// IndexFile is the rendered index artifact.
	IndexFile string `yaml:"index_file"`

	// SearchDir is the directory holding the full-text search index.
	SearchDir string `yaml:"search_dir"`

	// ExcludePatterns are glob patterns for files to skip.
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// RefreshConfig tunes the URL refresh scheduler.
type RefreshConfig struct {
	// MinInterval is the quiet period after a successful fetch.
	MinInterval Duration `yaml:"min_interval"`

	// MaxAge forces refresh eligibility once a fetch is this old.
	MaxAge Duration `yaml:"max_age"`

	// ManualBudget caps URLs processed by a manual or startup run.
	ManualBudget int `yaml:"manual_budget"`

	// TickBudget caps URLs processed per periodic tick.
	TickBudget int `yaml:"tick_budget"`

	// TickInterval is the periodic refresh cadence.
	TickInterval Duration `yaml:"tick_interval"`

	// BackoffBase and BackoffCap bound failure backoff.
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`
}

// FetchConfig tunes HTTP fetching.
type FetchConfig struct {
	Timeout      Duration `yaml:"timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	UserAgent    string   `yaml:"user_agent"`
}

// SummarizerConfig selects and tunes the summarization provider.
type SummarizerConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`

	// Model overrides the provider default model.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeout bounds one summarization call.
	Timeout Duration `yaml:"timeout"`
}

// WatchConfig tunes the filesystem and link-list watchers.
type WatchConfig struct {
	// EnableFiles and EnableLinks toggle the two watchers.
	EnableFiles bool `yaml:"enable_files"`
	EnableLinks bool `yaml:"enable_links"`

	// FileDebounce and LinkDebounce are per-path settle windows.
	FileDebounce Duration `yaml:"file_debounce"`
	LinkDebounce Duration `yaml:"link_debounce"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a complete configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			SourceRoot: "kb/sources",
			LinkList:   "kb/links.txt",
			CacheFile:  "kb/cache.json",
			IndexFile:  "kb/index.txt",
			SearchDir:  "kb/search.bleve",
		},
		Refresh: RefreshConfig{
			MinInterval:  Duration(time.Hour),
			MaxAge:       Duration(7 * 24 * time.Hour),
			ManualBudget: 50,
			TickBudget:   10,
			TickInterval: Duration(15 * time.Minute),
			BackoffBase:  Duration(time.Minute),
			BackoffCap:   Duration(6 * time.Hour),
		},
		Fetch: FetchConfig{
			Timeout:      Duration(30 * time.Second),
			MaxBodyBytes: 2 * 1024 * 1024,
			UserAgent:    "lorekeep/1.0",
		},
		Summarizer: SummarizerConfig{
			Provider:  "anthropic",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:   Duration(60 * time.Second),
		},
		Watch: WatchConfig{
			EnableFiles:  true,
			EnableLinks:  true,
			FileDebounce: Duration(500 * time.Millisecond),
			LinkDebounce: Duration(500 * time.Millisecond),
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads a YAML config file over the defaults. A missing path argument
// yields pure defaults; a missing file is an error so typos surface.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Paths.SourceRoot == "" {
		return errors.New("paths.source_root must be set")
	}
	if c.Paths.CacheFile == "" {
		return errors.New("paths.cache_file must be set")
	}
	if c.Paths.IndexFile == "" {
		return errors.New("paths.index_file must be set")
	}
	if c.Refresh.BackoffBase.Std() <= 0 {
		return errors.New("refresh.backoff_base must be positive")
	}
	if c.Refresh.BackoffCap.Std() < c.Refresh.BackoffBase.Std() {
		return errors.New("refresh.backoff_cap must be at least refresh.backoff_base")
	}
	if c.Refresh.TickInterval.Std() <= 0 {
		return errors.New("refresh.tick_interval must be positive")
	}

	switch c.Summarizer.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("summarizer.provider must be anthropic or openai, got %q", c.Summarizer.Provider)
	}

	return nil
}
