package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lorekeep/core/config"
	"github.com/adalundhe/lorekeep/core/orchestrator"
)

var indexPath string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run one update pass over all sources",
	Long: `Index walks the source tree and the link list, re-summarizes sources
whose content changed, refreshes due URLs under the manual budget, and
rewrites the cache and index artifacts if anything changed.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexPath, "path", "p", "", "re-index only this file, relative to the source root")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger()
	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	scope := orchestrator.FullScope()
	if indexPath != "" {
		scope = orchestrator.PathScope(indexPath)
	}

	res, err := engine.Sync(cmd.Context(), scope)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("added %d, updated %d, removed %d, skipped %d (%d summarized, %d fetched)\n",
		res.Added, res.Updated, res.Removed, res.Skipped, res.Summarized, res.Fetched)

	if err := rebuildSearch(cmd.Context(), cfg, res, logger); err != nil {
		logger.Warn("search index rebuild failed", "error", err)
	}

	return nil
}
