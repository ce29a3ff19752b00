package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lorekeep/core/config"
	"github.com/adalundhe/lorekeep/core/index"
	"github.com/adalundhe/lorekeep/core/orchestrator"
	"github.com/adalundhe/lorekeep/core/search"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge-base index",
	Long: `Search runs a full-text query over the indexed source descriptions and
prints matching sources in relevance order.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", search.DefaultLimit, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	idx, err := search.Open(cfg.Paths.SearchDir)
	if err != nil {
		return err
	}
	defer idx.Close()

	res, err := idx.Query(cmd.Context(), args[0], searchLimit)
	if err != nil {
		return err
	}

	if len(res.Hits) == 0 {
		fmt.Println("no matches")
		return nil
	}

	for _, hit := range res.Hits {
		fmt.Printf("%.2f  %s\n      %s\n", hit.Score, hit.SourceID, hit.Description)
	}
	fmt.Printf("%d of %d matches in %s\n", len(res.Hits), res.TotalHits, res.Took)

	return nil
}

// rebuildSearch refreshes the full-text index from the index artifact after a
// pass that rewrote it. A failure here never fails the pass itself.
func rebuildSearch(ctx context.Context, cfg *config.Config, res *orchestrator.Result, logger *slog.Logger) error {
	if !res.IndexRewritten {
		return nil
	}

	data, err := os.ReadFile(cfg.Paths.IndexFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	idx, err := search.Open(cfg.Paths.SearchDir)
	if err != nil {
		return err
	}
	defer idx.Close()

	entries := index.ParseEntries(string(data))
	if err := idx.Rebuild(ctx, entries); err != nil {
		return err
	}

	logger.Debug("search index rebuilt", "entries", len(entries))
	return nil
}
