// Package cmd wires the Lorekeep CLI: manual indexing, the watch daemon,
// full-text search over the generated index, and cache status reporting.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lorekeep/core/cache"
	"github.com/adalundhe/lorekeep/core/config"
	"github.com/adalundhe/lorekeep/core/fetch"
	"github.com/adalundhe/lorekeep/core/orchestrator"
	"github.com/adalundhe/lorekeep/core/refresh"
	"github.com/adalundhe/lorekeep/core/sources"
	"github.com/adalundhe/lorekeep/core/summarize"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "lorekeep",
	Short: "Lorekeep - a knowledge-base cache and index engine",
	Long: `Lorekeep keeps an LLM-summarized index of local files and tracked URLs
up to date incrementally: only sources whose content actually changed are
re-summarized, and the cache and index artifacts are rewritten atomically.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger honoring the verbose flag.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildEngine assembles the orchestrator and its collaborators from config.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	enum, err := sources.NewEnumerator(cfg.Paths.SourceRoot, cfg.Paths.LinkList, cfg.Paths.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("source enumerator: %w", err)
	}

	summarizer, err := buildSummarizer(cfg.Summarizer)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.NewHTTPFetcher(fetch.HTTPFetcherConfig{
		Timeout:      cfg.Fetch.Timeout.Std(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
	})

	scheduler := refresh.NewScheduler(refresh.Policy{
		MinInterval: cfg.Refresh.MinInterval.Std(),
		MaxAge:      cfg.Refresh.MaxAge.Std(),
		BackoffBase: cfg.Refresh.BackoffBase.Std(),
		BackoffCap:  cfg.Refresh.BackoffCap.Std(),
	})

	return orchestrator.New(orchestrator.Options{
		Store:      cache.NewStore(cfg.Paths.CacheFile, logger),
		Enumerator: enum,
		Scheduler:  scheduler,
		Fetcher:    fetcher,
		Summarizer: summarizer,
		IndexPath:  cfg.Paths.IndexFile,
		Budgets: orchestrator.Budgets{
			Manual: cfg.Refresh.ManualBudget,
			Tick:   cfg.Refresh.TickBudget,
		},
		Logger: logger,
	}), nil
}

// buildSummarizer selects the configured provider. The API key comes from the
// environment, never from the config file.
func buildSummarizer(cfg config.SummarizerConfig) (summarize.Summarizer, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("summarizer API key environment variable %s is not set", cfg.APIKeyEnv)
	}

	switch cfg.Provider {
	case "anthropic":
		return summarize.NewAnthropicSummarizer(summarize.AnthropicConfig{
			APIKey:  apiKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Std(),
		}), nil
	case "openai":
		return summarize.NewOpenAISummarizer(summarize.OpenAIConfig{
			APIKey:  apiKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Std(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}
}
