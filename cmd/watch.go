package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/adalundhe/lorekeep/core/config"
	"github.com/adalundhe/lorekeep/core/orchestrator"
	"github.com/adalundhe/lorekeep/core/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the engine as a daemon",
	Long: `Watch runs a full startup pass to catch changes made while the engine
was down, then keeps the knowledge base current: file edits and link-list
edits trigger debounced incremental passes, and a periodic tick refreshes
due URLs under the tick budget. Stops on SIGINT or SIGTERM.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger()
	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Startup pass: reconcile everything that changed while the engine was
	// not running.
	if res, err := engine.Sync(ctx, orchestrator.FullScope()); err != nil {
		return fmt.Errorf("startup sync: %w", err)
	} else if err := rebuildSearch(ctx, cfg, res, logger); err != nil {
		logger.Warn("search index rebuild failed", "error", err)
	}

	daemon := &watchDaemon{cfg: cfg, engine: engine, logger: logger}
	if err := daemon.start(ctx); err != nil {
		return err
	}
	defer daemon.stop()

	logger.Info("watching", "source_root", cfg.Paths.SourceRoot, "link_list", cfg.Paths.LinkList)

	daemon.run(ctx)

	logger.Info("shutting down")
	return nil
}

// =============================================================================
// Daemon
// =============================================================================

// watchDaemon groups the long-running pieces of the watch command.
type watchDaemon struct {
	cfg    *config.Config
	engine *orchestrator.Orchestrator
	logger *slog.Logger

	dirWatcher  *watch.DirWatcher
	linkWatcher *watch.LinkWatcher
	scheduler   gocron.Scheduler

	fileEvents <-chan watch.FileChange
	linkEvents <-chan struct{}
	ticks      chan struct{}
}

// start brings up the watchers and the periodic refresh schedule.
func (d *watchDaemon) start(ctx context.Context) error {
	d.ticks = make(chan struct{}, 1)

	if d.cfg.Watch.EnableFiles {
		if err := d.startDirWatcher(ctx); err != nil {
			return err
		}
	}
	if d.cfg.Watch.EnableLinks {
		if err := d.startLinkWatcher(ctx); err != nil {
			return err
		}
	}

	return d.startTicker()
}

func (d *watchDaemon) startDirWatcher(ctx context.Context) error {
	if _, err := os.Stat(d.cfg.Paths.SourceRoot); os.IsNotExist(err) {
		d.logger.Warn("source root missing, file watching disabled", "path", d.cfg.Paths.SourceRoot)
		return nil
	}

	w, err := watch.NewDirWatcher(watch.DirConfig{
		Root:            d.cfg.Paths.SourceRoot,
		ExcludePatterns: d.cfg.Paths.ExcludePatterns,
		Debounce:        d.cfg.Watch.FileDebounce.Std(),
	})
	if err != nil {
		return fmt.Errorf("file watcher: %w", err)
	}

	events, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("file watcher: %w", err)
	}

	d.dirWatcher = w
	d.fileEvents = events
	return nil
}

func (d *watchDaemon) startLinkWatcher(ctx context.Context) error {
	w, err := watch.NewLinkWatcher(d.cfg.Paths.LinkList, d.cfg.Watch.LinkDebounce.Std())
	if err != nil {
		return fmt.Errorf("link watcher: %w", err)
	}

	events, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("link watcher: %w", err)
	}

	d.linkWatcher = w
	d.linkEvents = events
	return nil
}

// startTicker schedules the periodic URL refresh. Ticks are delivered through
// a channel so passes share the daemon's single event loop.
func (d *watchDaemon) startTicker() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("tick scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(d.cfg.Refresh.TickInterval.Std()),
		gocron.NewTask(func() {
			select {
			case d.ticks <- struct{}{}:
			default:
				// A pending tick already covers this interval.
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("tick job: %w", err)
	}

	scheduler.Start()
	d.scheduler = scheduler
	return nil
}

// run dispatches events to orchestration passes until the context ends.
func (d *watchDaemon) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case change, ok := <-d.fileEvents:
			if !ok {
				d.fileEvents = nil
				continue
			}
			d.sync(ctx, orchestrator.PathScope(change.RelPath))

		case _, ok := <-d.linkEvents:
			if !ok {
				d.linkEvents = nil
				continue
			}
			d.sync(ctx, orchestrator.LinksScope())

		case <-d.ticks:
			d.sync(ctx, orchestrator.TickScope())
		}
	}
}

// sync runs one pass; failures are logged, never fatal to the daemon.
func (d *watchDaemon) sync(ctx context.Context, scope orchestrator.Scope) {
	res, err := d.engine.Sync(ctx, scope)
	if err != nil {
		d.logger.Error("sync pass failed", "scope", scope.Kind.String(), "error", err)
		return
	}
	if err := rebuildSearch(ctx, d.cfg, res, d.logger); err != nil {
		d.logger.Warn("search index rebuild failed", "error", err)
	}
}

// stop tears down the watchers and the tick schedule.
func (d *watchDaemon) stop() {
	if d.dirWatcher != nil {
		d.dirWatcher.Stop()
	}
	if d.linkWatcher != nil {
		d.linkWatcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			d.logger.Warn("tick scheduler shutdown failed", "error", err)
		}
	}
}
