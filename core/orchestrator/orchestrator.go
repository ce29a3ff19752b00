// Package orchestrator ties the knowledge-base engine together: one
// incremental update algorithm shared by manual re-index, startup sync,
// debounced watcher events and periodic refresh ticks. A pass holds the cache
// store's lock from load to persist so "read, decide, write" is a single
// transaction; readers of the persisted artifacts always see the last fully
// committed state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adalundhe/lorekeep/core/cache"
	"github.com/adalundhe/lorekeep/core/content"
	"github.com/adalundhe/lorekeep/core/detect"
	"github.com/adalundhe/lorekeep/core/fetch"
	"github.com/adalundhe/lorekeep/core/index"
	"github.com/adalundhe/lorekeep/core/refresh"
	"github.com/adalundhe/lorekeep/core/sources"
	"github.com/adalundhe/lorekeep/core/summarize"
)

// =============================================================================
// Scope
// =============================================================================

// ScopeKind selects how much of the source set a pass covers.
type ScopeKind int

const (
	// ScopeFull re-syncs every file and URL source (manual command, startup).
	ScopeFull ScopeKind = iota

	// ScopePath re-syncs a single file path (debounced file event).
	ScopePath

	// ScopeLinks re-diffs the link list (debounced link-list event). Added
	// URLs are seeded for the next refresh pass; removed ones are dropped.
	ScopeLinks

	// ScopeTick refreshes due URLs under the tick budget (periodic tick).
	ScopeTick
)

// String returns a readable scope name for logging.
func (k ScopeKind) String() string {
	switch k {
	case ScopeFull:
		return "full"
	case ScopePath:
		return "path"
	case ScopeLinks:
		return "links"
	case ScopeTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Scope parameterizes one orchestration pass.
type Scope struct {
	Kind ScopeKind

	// RelPath is the affected file for ScopePath passes.
	RelPath string
}

// FullScope covers everything.
func FullScope() Scope { return Scope{Kind: ScopeFull} }

// PathScope covers one file, identified by its slash-relative path.
func PathScope(rel string) Scope { return Scope{Kind: ScopePath, RelPath: rel} }

// LinksScope covers the link-list membership diff.
func LinksScope() Scope { return Scope{Kind: ScopeLinks} }

// TickScope covers due URLs under the tick budget.
func TickScope() Scope { return Scope{Kind: ScopeTick} }

// =============================================================================
// Orchestrator
// =============================================================================

// Budgets carries the per-trigger URL processing limits.
type Budgets struct {
	// Manual applies to full passes; Tick applies to periodic ticks.
	// Non-positive means unlimited.
	Manual int
	Tick   int
}

// Orchestrator runs incremental update passes over the cache and index.
type Orchestrator struct {
	store      *cache.Store
	enum       *sources.Enumerator
	sched      *refresh.Scheduler
	fetcher    fetch.Fetcher
	summarizer summarize.Summarizer
	indexPath  string
	budgets    Budgets
	logger     *slog.Logger

	// now is injectable for deterministic scheduling tests.
	now func() time.Time
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Store      *cache.Store
	Enumerator *sources.Enumerator
	Scheduler  *refresh.Scheduler
	Fetcher    fetch.Fetcher
	Summarizer summarize.Summarizer
	IndexPath  string
	Budgets    Budgets
	Logger     *slog.Logger
	Now        func() time.Time
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		store:      opts.Store,
		enum:       opts.Enumerator,
		sched:      opts.Scheduler,
		fetcher:    opts.Fetcher,
		summarizer: opts.Summarizer,
		indexPath:  opts.IndexPath,
		budgets:    opts.Budgets,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// =============================================================================
// Sync
// =============================================================================

// Result reports what one pass did.
type Result struct {
	Added      int
	Updated    int
	Removed    int
	Skipped    int
	Summarized int
	Fetched    int

	// IndexRewritten reports whether the index artifact was regenerated.
	IndexRewritten bool
}

// Sync runs one orchestration pass for the given scope. Per-source failures
// are logged and skipped; only lock acquisition and persist failures abort
// the pass, leaving the previously committed artifacts intact.
func (o *Orchestrator) Sync(ctx context.Context, scope Scope) (*Result, error) {
	unlock, err := o.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c := o.store.Load()
	pass := &passState{cache: c, result: &Result{}}

	o.logger.Info("sync pass started", "scope", scope.Kind.String(), "sources", c.Len())

	switch scope.Kind {
	case ScopeFull:
		err = o.syncFull(ctx, pass)
	case ScopePath:
		err = o.syncPath(ctx, pass, scope.RelPath)
	case ScopeLinks:
		err = o.syncLinks(pass)
	case ScopeTick:
		err = o.syncTick(ctx, pass)
	default:
		err = fmt.Errorf("unknown sync scope %d", scope.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := o.commit(pass); err != nil {
		return nil, err
	}

	res := pass.result
	o.logger.Info("sync pass finished",
		"scope", scope.Kind.String(),
		"added", res.Added,
		"updated", res.Updated,
		"removed", res.Removed,
		"skipped", res.Skipped,
		"summarized", res.Summarized,
		"fetched", res.Fetched,
		"index_rewritten", res.IndexRewritten,
	)

	return res, nil
}

// passState accumulates mutations for one lock-held pass.
type passState struct {
	cache  *cache.Cache
	result *Result

	// cacheDirty marks bookkeeping-only changes; indexDirty additionally
	// forces an index rewrite. indexDirty implies cacheDirty.
	cacheDirty bool
	indexDirty bool
}

func (p *passState) markBookkeeping() {
	p.cacheDirty = true
}

func (p *passState) markIndexChanged() {
	p.cacheDirty = true
	p.indexDirty = true
}

// commit regenerates the index when entries changed and persists the cache
// whenever anything changed, both atomically.
func (o *Orchestrator) commit(pass *passState) error {
	if pass.indexDirty {
		if err := index.WriteAtomic(o.indexPath, index.Render(pass.cache)); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		pass.result.IndexRewritten = true
	}

	if pass.cacheDirty {
		if err := o.store.Persist(pass.cache); err != nil {
			return fmt.Errorf("persist cache: %w", err)
		}
	}

	return nil
}

// =============================================================================
// Full Pass
// =============================================================================

// syncFull reconciles every file and URL source.
func (o *Orchestrator) syncFull(ctx context.Context, pass *passState) error {
	files, err := o.enum.ListFiles()
	if err != nil {
		return err
	}
	urls, err := o.enum.ListURLs()
	if err != nil {
		return err
	}

	o.removeVanishedFiles(pass, files)
	o.reconcileURLSet(pass, urls)

	for _, src := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.syncOneFile(ctx, pass, src)
	}

	o.refreshDueURLs(ctx, pass, o.budgets.Manual)
	return nil
}

// removeVanishedFiles drops cached file records whose source is gone.
func (o *Orchestrator) removeVanishedFiles(pass *passState, files []sources.FileSource) {
	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f.RelPath] = struct{}{}
	}

	for id, rec := range pass.cache.Sources {
		if rec.Type != cache.SourceFile {
			continue
		}
		if _, ok := present[id]; !ok {
			pass.cache.Delete(id)
			pass.result.Removed++
			pass.markIndexChanged()
			o.logger.Info("source removed", "source", id, "type", "file")
		}
	}
}

// reconcileURLSet applies the symmetric difference between the link list and
// cached URL records: removed URLs are dropped, new ones seeded immediately
// eligible with zero failures.
func (o *Orchestrator) reconcileURLSet(pass *passState, urls []string) {
	present := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		present[u] = struct{}{}
	}

	for id, rec := range pass.cache.Sources {
		if rec.Type != cache.SourceURL {
			continue
		}
		if _, ok := present[id]; !ok {
			pass.cache.Delete(id)
			pass.result.Removed++
			pass.markIndexChanged()
			o.logger.Info("source removed", "source", id, "type", "url")
		}
	}

	for _, u := range urls {
		if pass.cache.Get(u) == nil {
			pass.cache.Put(refresh.NewURLRecord(u, o.now()))
			pass.result.Added++
			pass.markIndexChanged()
			o.logger.Info("source added", "source", u, "type", "url")
		}
	}
}

// =============================================================================
// File Sync
// =============================================================================

// syncOneFile classifies one file and applies the outcome.
func (o *Orchestrator) syncOneFile(ctx context.Context, pass *passState, src sources.FileSource) {
	rec := pass.cache.Get(src.RelPath)

	res, err := detect.ClassifyFile(rec, src)
	if err != nil {
		pass.result.Skipped++
		o.logger.Warn("file unreadable, skipped", "source", src.RelPath, "error", err)
		return
	}

	switch res.Class {
	case detect.Unchanged:
		// Fingerprint match: nothing to do, nothing read.

	case detect.MetadataOnly:
		rec.SizeBytes = src.SizeBytes
		rec.MtimeNS = src.MtimeNS
		pass.result.Updated++
		pass.markBookkeeping()
		o.logger.Debug("file fingerprint refreshed", "source", src.RelPath)

	case detect.Unseen:
		summary, err := o.summarizeBounded(ctx, src.RelPath, res.Text)
		if err != nil {
			pass.result.Skipped++
			o.logger.Warn("summarization failed, source deferred", "source", src.RelPath, "error", err)
			return
		}
		pass.cache.Put(&cache.Record{
			SourceID:      src.RelPath,
			Type:          cache.SourceFile,
			ContentHash:   res.Hash,
			SummaryText:   summary,
			RelPath:       src.RelPath,
			SizeBytes:     src.SizeBytes,
			MtimeNS:       src.MtimeNS,
			LastIndexedAt: o.now(),
		})
		pass.result.Added++
		pass.result.Summarized++
		pass.markIndexChanged()
		o.logger.Info("source added", "source", src.RelPath, "type", "file")

	case detect.Changed:
		summary, err := o.summarizeBounded(ctx, src.RelPath, res.Text)
		if err != nil {
			// Leave the record untouched, hash included, so the change is
			// detected and retried on the next pass.
			pass.result.Skipped++
			o.logger.Warn("summarization failed, change deferred", "source", src.RelPath, "error", err)
			return
		}
		rec.ContentHash = res.Hash
		rec.SummaryText = summary
		rec.SizeBytes = src.SizeBytes
		rec.MtimeNS = src.MtimeNS
		rec.LastIndexedAt = o.now()
		pass.result.Updated++
		pass.result.Summarized++
		pass.markIndexChanged()
		o.logger.Info("source updated", "source", src.RelPath, "type", "file")
	}
}

// ErrPathOutsideRoot indicates a path-scoped pass targeted something outside
// the source tree.
var ErrPathOutsideRoot = errors.New("path escapes the source root")

// syncPath reconciles a single file path after a watcher event or a manual
// single-path run. The path must stay inside the source root; only in-tree
// paths are valid source identities.
func (o *Orchestrator) syncPath(ctx context.Context, pass *passState, rel string) error {
	rel, err := cleanSourcePath(rel)
	if err != nil {
		return err
	}

	abs := filepath.Join(o.enum.Root(), filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if pass.cache.Get(rel) != nil {
				pass.cache.Delete(rel)
				pass.result.Removed++
				pass.markIndexChanged()
				o.logger.Info("source removed", "source", rel, "type", "file")
			}
			return nil
		}
		return fmt.Errorf("stat %s: %w", abs, err)
	}

	if info.IsDir() {
		return nil
	}

	o.syncOneFile(ctx, pass, sources.FileSource{
		RelPath:   rel,
		AbsPath:   abs,
		SizeBytes: info.Size(),
		MtimeNS:   info.ModTime().UnixNano(),
	})
	return nil
}

// cleanSourcePath normalizes a slash-relative source path and rejects
// anything that would resolve outside the source root.
func cleanSourcePath(rel string) (string, error) {
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))

	if cleaned == "." || cleaned == ".." ||
		strings.HasPrefix(cleaned, "../") ||
		strings.HasPrefix(cleaned, "/") ||
		filepath.IsAbs(filepath.FromSlash(cleaned)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, rel)
	}

	return cleaned, nil
}

// =============================================================================
// URL Sync
// =============================================================================

// syncLinks re-diffs link-list membership without fetching. New URLs become
// eligible on the next refresh pass.
func (o *Orchestrator) syncLinks(pass *passState) error {
	urls, err := o.enum.ListURLs()
	if err != nil {
		return err
	}
	o.reconcileURLSet(pass, urls)
	return nil
}

// syncTick reconciles the link list and refreshes due URLs under the tick
// budget.
func (o *Orchestrator) syncTick(ctx context.Context, pass *passState) error {
	urls, err := o.enum.ListURLs()
	if err != nil {
		return err
	}
	o.reconcileURLSet(pass, urls)
	o.refreshDueURLs(ctx, pass, o.budgets.Tick)
	return nil
}

// refreshDueURLs processes eligible URL records in ascending next-check
// order, up to budget.
func (o *Orchestrator) refreshDueURLs(ctx context.Context, pass *passState, budget int) {
	now := o.now()
	eligible := o.sched.Eligible(pass.cache.RecordsOfType(cache.SourceURL), now)
	batch := refresh.SelectBatch(eligible, budget)

	if len(eligible) > len(batch) {
		o.logger.Info("refresh budget reached", "eligible", len(eligible), "processed", len(batch))
	}

	for _, rec := range batch {
		if ctx.Err() != nil {
			return
		}
		o.refreshOneURL(ctx, pass, rec)
	}
}

// refreshOneURL performs one conditional fetch and applies the outcome.
func (o *Orchestrator) refreshOneURL(ctx context.Context, pass *passState, rec *cache.Record) {
	res, err := o.fetcher.Fetch(ctx, rec.SourceID, rec.ETag, rec.LastModified)
	pass.result.Fetched++

	if err != nil {
		o.sched.ApplyFailure(rec, o.now(), cache.FetchError)
		pass.markBookkeeping()
		o.logger.Warn("fetch failed", "source", rec.SourceID, "error", err)
		return
	}

	switch res.Status {
	case fetch.StatusNotModified:
		o.sched.ApplyNotModified(rec, o.now(), res.ETag, res.LastModified)
		pass.markBookkeeping()
		o.logger.Debug("source unchanged on server", "source", rec.SourceID)

	case fetch.StatusSuccess:
		o.applyFetchedBody(ctx, pass, rec, res)

	case fetch.StatusTimeout:
		o.sched.ApplyFailure(rec, o.now(), cache.FetchTimeout)
		pass.markBookkeeping()
		o.logger.Warn("fetch timed out", "source", rec.SourceID, "failures", rec.ConsecutiveFailures)

	default:
		o.sched.ApplyFailure(rec, o.now(), cache.FetchError)
		pass.markBookkeeping()
		o.logger.Warn("fetch failed", "source", rec.SourceID, "failures", rec.ConsecutiveFailures)
	}
}

// applyFetchedBody handles a fresh body: hash-gated summarization, then
// success bookkeeping.
func (o *Orchestrator) applyFetchedBody(ctx context.Context, pass *passState, rec *cache.Record, res *fetch.Result) {
	hash := content.HashText(res.BodyText)

	if hash == rec.ContentHash {
		o.sched.ApplySuccess(rec, o.now(), res.ETag, res.LastModified)
		pass.markBookkeeping()
		o.logger.Debug("source content unchanged", "source", rec.SourceID)
		return
	}

	summary, err := o.summarizeBounded(ctx, rec.SourceID, res.BodyText)
	if err != nil {
		// Success bookkeeping without the new validators or hash: the next
		// fetch must see the content as changed again so summarization is
		// retried rather than masked by a 304.
		o.sched.ApplySuccess(rec, o.now(), nil, nil)
		pass.markBookkeeping()
		pass.result.Skipped++
		o.logger.Warn("summarization failed, change deferred", "source", rec.SourceID, "error", err)
		return
	}

	rec.ContentHash = hash
	rec.SummaryText = summary
	rec.LastIndexedAt = o.now()
	o.sched.ApplySuccess(rec, o.now(), res.ETag, res.LastModified)
	pass.result.Updated++
	pass.result.Summarized++
	pass.markIndexChanged()
	o.logger.Info("source updated", "source", rec.SourceID, "type", "url")
}

// summarizeBounded calls the summarizer; the adapters bound the call with
// their own timeout, so a hung provider fails one source, not the pass.
func (o *Orchestrator) summarizeBounded(ctx context.Context, sourceID, text string) (string, error) {
	summary, err := o.summarizer.Summarize(ctx, sourceID, text)
	if err != nil {
		return "", err
	}
	return summary, nil
}
