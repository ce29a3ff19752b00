package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lorekeep/core/cache"
	"github.com/adalundhe/lorekeep/core/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache contents and URL refresh state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store := cache.NewStore(cfg.Paths.CacheFile, newLogger())
	c := store.Load()

	files := c.RecordsOfType(cache.SourceFile)
	urls := c.RecordsOfType(cache.SourceURL)

	fmt.Printf("cache: %s\n", cfg.Paths.CacheFile)
	fmt.Printf("generated: %s\n", c.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("sources: %d files, %d urls\n\n", len(files), len(urls))

	if len(urls) == 0 {
		return nil
	}

	sort.Slice(urls, func(i, j int) bool {
		return urls[i].NextCheckAt.Before(urls[j].NextCheckAt)
	})

	fmt.Println("url refresh state:")
	for _, rec := range urls {
		fmt.Printf("  %-10s fails=%-3d next=%s  %s\n",
			rec.FetchStatus, rec.ConsecutiveFailures,
			rec.NextCheckAt.Format("2006-01-02 15:04"), rec.SourceID)
	}

	return nil
}
