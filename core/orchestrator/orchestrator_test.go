package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/lorekeep/core/cache"
	"github.com/adalundhe/lorekeep/core/content"
	"github.com/adalundhe/lorekeep/core/fetch"
	"github.com/adalundhe/lorekeep/core/refresh"
	"github.com/adalundhe/lorekeep/core/sources"
	"github.com/adalundhe/lorekeep/core/summarize"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeSummarizer returns deterministic summaries and counts invocations.
type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeSummarizer) Summarize(_ context.Context, sourceID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", fmt.Errorf("%w: provider unavailable", summarize.ErrTransient)
	}
	return "summary of " + sourceID, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFetcher serves scripted results per URL and records fetch order.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*fetch.Result
	order   []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{results: make(map[string]*fetch.Result)}
}

func (f *fakeFetcher) set(url string, res *fetch.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[url] = res
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _, _ *string) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, url)
	if res, ok := f.results[url]; ok {
		return res, nil
	}
	return &fetch.Result{Status: fetch.StatusError}, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	root       string
	linksPath  string
	indexPath  string
	store      *cache.Store
	summarizer *fakeSummarizer
	fetcher    *fakeFetcher
	orch       *Orchestrator
	now        time.Time
}

func newHarness(t *testing.T, budgets Budgets, policy refresh.Policy) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		root:       filepath.Join(dir, "sources"),
		linksPath:  filepath.Join(dir, "links.txt"),
		indexPath:  filepath.Join(dir, "index.txt"),
		store:      cache.NewStore(filepath.Join(dir, "cache.json"), nil),
		summarizer: &fakeSummarizer{},
		fetcher:    newFakeFetcher(),
		now:        time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, os.MkdirAll(h.root, 0755))

	enum, err := sources.NewEnumerator(h.root, h.linksPath, nil)
	require.NoError(t, err)

	h.orch = New(Options{
		Store:      h.store,
		Enumerator: enum,
		Scheduler:  refresh.NewScheduler(policy),
		Fetcher:    h.fetcher,
		Summarizer: h.summarizer,
		IndexPath:  h.indexPath,
		Budgets:    budgets,
		Now:        func() time.Time { return h.now },
	})

	return h
}

func (h *harness) writeFile(t *testing.T, rel, body string) {
	t.Helper()
	path := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func (h *harness) writeLinks(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.linksPath, []byte(body), 0644))
}

func (h *harness) readIndex(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.indexPath)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func (h *harness) sync(t *testing.T, scope Scope) *Result {
	t.Helper()
	res, err := h.orch.Sync(context.Background(), scope)
	require.NoError(t, err)
	return res
}

// =============================================================================
// Full Pass Tests
// =============================================================================

func TestSync_InitialFullPassBuildsCacheAndIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "b.md", "bravo body")
	h.writeFile(t, "a.md", "alpha body")
	h.writeLinks(t, "https://example.test/docs\n")
	h.fetcher.set("https://example.test/docs", &fetch.Result{
		Status:   fetch.StatusSuccess,
		BodyText: "docs body",
	})

	res := h.sync(t, FullScope())

	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 3, res.Summarized)
	assert.True(t, res.IndexRewritten)

	want := "a.md\nsummary of a.md\n\n" +
		"b.md\nsummary of b.md\n\n" +
		"https://example.test/docs\nsummary of https://example.test/docs\n"
	assert.Equal(t, want, h.readIndex(t))

	c := h.store.Load()
	assert.Equal(t, 3, c.Len())
	url := c.Get("https://example.test/docs")
	require.NotNil(t, url)
	assert.Equal(t, cache.FetchSuccess, url.FetchStatus)
	assert.Equal(t, content.HashText("docs body"), url.ContentHash)
}

func TestSync_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{MinInterval: time.Hour})
	h.writeFile(t, "a.md", "alpha")
	h.writeFile(t, "b.md", "bravo")

	h.sync(t, FullScope())
	firstIndex := h.readIndex(t)
	firstCalls := h.summarizer.callCount()

	h.sync(t, FullScope())

	assert.Equal(t, firstIndex, h.readIndex(t), "index must be byte-identical")
	assert.Equal(t, firstCalls, h.summarizer.callCount(), "summarizer must not run again")
}

func TestSync_UnchangedFingerprintNeverSummarizes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "a.md", "alpha")
	h.sync(t, FullScope())
	require.Equal(t, 1, h.summarizer.callCount())

	// Rewrite identical bytes, then restore the original fingerprint so
	// size and mtime are unchanged from the cached record's view.
	c := h.store.Load()
	rec := c.Get("a.md")
	require.NotNil(t, rec)
	info, err := os.Stat(filepath.Join(h.root, "a.md"))
	require.NoError(t, err)
	require.Equal(t, rec.SizeBytes, info.Size())
	mtime := time.Unix(0, rec.MtimeNS)
	require.NoError(t, os.Chtimes(filepath.Join(h.root, "a.md"), mtime, mtime))

	h.sync(t, FullScope())
	assert.Equal(t, 1, h.summarizer.callCount())
}

func TestSync_WhitespaceOnlyEditDoesNotSummarize(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "a.md", "alpha line")
	h.sync(t, FullScope())
	require.Equal(t, 1, h.summarizer.callCount())
	firstIndex := h.readIndex(t)

	// Trailing-whitespace edit: fingerprint moves, normalized digest does not.
	h.writeFile(t, "a.md", "alpha line   \n")
	h.sync(t, FullScope())

	assert.Equal(t, 1, h.summarizer.callCount())
	assert.Equal(t, firstIndex, h.readIndex(t))
}

func TestSync_ContentChangeResummarizes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "a.md", "version one")
	h.sync(t, FullScope())

	h.writeFile(t, "a.md", "version two, rather different")
	res := h.sync(t, FullScope())

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 2, h.summarizer.callCount())

	c := h.store.Load()
	assert.Equal(t, content.HashText("version two, rather different"), c.Get("a.md").ContentHash)
}

func TestSync_DeletedFileLeavesCacheAndIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "keep.md", "keep body")
	h.writeFile(t, "gone.md", "gone body")
	h.sync(t, FullScope())

	require.NoError(t, os.Remove(filepath.Join(h.root, "gone.md")))
	res := h.sync(t, FullScope())

	assert.Equal(t, 1, res.Removed)
	assert.Nil(t, h.store.Load().Get("gone.md"))
	assert.NotContains(t, h.readIndex(t), "gone.md")
	assert.Contains(t, h.readIndex(t), "keep.md")
}

func TestSync_SummarizerFailureDefersSourceNotPass(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "ok.md", "fine")
	h.writeFile(t, "other.md", "also fine")

	h.summarizer.fail = true
	res := h.sync(t, FullScope())
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, h.store.Load().Len())

	// Provider recovers: both sources are picked up on the next pass.
	h.summarizer.fail = false
	res = h.sync(t, FullScope())
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 2, h.store.Load().Len())
}

func TestSync_UndecodableFileSkippedOthersSucceed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "good.md", "text")
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "bad.bin"), []byte{0xff, 0xfe, 0x81}, 0644))

	res := h.sync(t, FullScope())

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Skipped)
	assert.Contains(t, h.readIndex(t), "good.md")
	assert.NotContains(t, h.readIndex(t), "bad.bin")
}

// =============================================================================
// Path Scope Tests
// =============================================================================

func TestSync_PathScopeAddsAndRemovesSingleFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "solo.md", "solo body")

	res := h.sync(t, PathScope("solo.md"))
	assert.Equal(t, 1, res.Added)
	assert.Contains(t, h.readIndex(t), "solo.md")

	require.NoError(t, os.Remove(filepath.Join(h.root, "solo.md")))
	res = h.sync(t, PathScope("solo.md"))
	assert.Equal(t, 1, res.Removed)
	assert.NotContains(t, h.readIndex(t), "solo.md")
}

func TestSync_PathScopeRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})

	// A real file just outside the source root must stay unreachable.
	outside := filepath.Join(filepath.Dir(h.root), "outside.md")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))

	for _, rel := range []string{
		"../outside.md",
		"sub/../../outside.md",
		"..",
		".",
		"/etc/hostname",
	} {
		_, err := h.orch.Sync(context.Background(), PathScope(rel))
		assert.ErrorIs(t, err, ErrPathOutsideRoot, "path %q", rel)
	}

	assert.Equal(t, 0, h.summarizer.callCount())
	assert.Equal(t, 0, h.store.Load().Len())
}

func TestSync_PathScopeLeavesOtherSourcesAlone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "a.md", "a body")
	h.writeFile(t, "b.md", "b body")
	h.sync(t, FullScope())
	require.Equal(t, 2, h.summarizer.callCount())

	h.writeFile(t, "a.md", "a body changed substantially")
	h.sync(t, PathScope("a.md"))

	assert.Equal(t, 3, h.summarizer.callCount())
	assert.NotNil(t, h.store.Load().Get("b.md"))
}

// =============================================================================
// Link and Tick Scope Tests
// =============================================================================

func TestSync_LinksScopeSeedsWithoutFetching(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeLinks(t, "https://new.test/page\n")

	res := h.sync(t, LinksScope())

	assert.Equal(t, 1, res.Added)
	assert.Empty(t, h.fetcher.fetched(), "links scope must not fetch")

	rec := h.store.Load().Get("https://new.test/page")
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.False(t, rec.NextCheckAt.After(h.now), "seeded URL must be immediately eligible")
}

func TestSync_LinksScopeRemovesDroppedURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeLinks(t, "https://a.test\nhttps://b.test\n")
	h.fetcher.set("https://a.test", &fetch.Result{Status: fetch.StatusSuccess, BodyText: "a"})
	h.fetcher.set("https://b.test", &fetch.Result{Status: fetch.StatusSuccess, BodyText: "b"})
	h.sync(t, FullScope())

	h.writeLinks(t, "https://a.test\n")
	res := h.sync(t, LinksScope())

	assert.Equal(t, 1, res.Removed)
	assert.Nil(t, h.store.Load().Get("https://b.test"))
	assert.NotContains(t, h.readIndex(t), "https://b.test")
}

func TestSync_TickBudgetProcessesSmallestNextCheckFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{Tick: 2}, refresh.Policy{MinInterval: time.Hour})

	var links string
	for i := 0; i < 5; i++ {
		links += fmt.Sprintf("https://u%d.test\n", i)
	}
	h.writeLinks(t, links)
	h.sync(t, LinksScope())

	// Stagger next-check times so ordering is observable.
	c := h.store.Load()
	unlock, err := h.store.Lock(context.Background())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("https://u%d.test", i)
		c.Get(id).NextCheckAt = h.now.Add(-time.Duration(i+1) * time.Minute)
	}
	require.NoError(t, h.store.Persist(c))
	unlock()

	for i := 0; i < 5; i++ {
		h.fetcher.set(fmt.Sprintf("https://u%d.test", i), &fetch.Result{
			Status:   fetch.StatusSuccess,
			BodyText: fmt.Sprintf("body %d", i),
		})
	}

	h.sync(t, TickScope())

	// u4 has the oldest next_check_at, then u3.
	assert.Equal(t, []string{"https://u4.test", "https://u3.test"}, h.fetcher.fetched())

	// The other three remain eligible and go on the following tick.
	h.sync(t, TickScope())
	assert.Len(t, h.fetcher.fetched(), 4)
}

func TestSync_NotModifiedNeverSummarizesAndAdvancesSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{MinInterval: 30 * time.Minute})
	h.writeLinks(t, "https://steady.test\n")
	h.fetcher.set("https://steady.test", &fetch.Result{Status: fetch.StatusSuccess, BodyText: "steady body"})
	h.sync(t, FullScope())
	require.Equal(t, 1, h.summarizer.callCount())

	h.now = h.now.Add(time.Hour)
	h.fetcher.set("https://steady.test", &fetch.Result{Status: fetch.StatusNotModified})
	h.sync(t, TickScope())

	assert.Equal(t, 1, h.summarizer.callCount(), "not-modified must not summarize")

	rec := h.store.Load().Get("https://steady.test")
	assert.Equal(t, cache.FetchNotModified, rec.FetchStatus)
	assert.Equal(t, h.now.Add(30*time.Minute), rec.NextCheckAt)
	assert.Equal(t, "summary of https://steady.test", rec.SummaryText)
}

func TestSync_FetchFailureBacksOffAndKeepsSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{
		MinInterval: time.Hour,
		BackoffBase: 10 * time.Second,
		BackoffCap:  60 * time.Second,
	})
	h.writeLinks(t, "https://flaky.test\n")
	h.fetcher.set("https://flaky.test", &fetch.Result{Status: fetch.StatusSuccess, BodyText: "good body"})
	h.sync(t, FullScope())

	wantDelays := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second}
	h.fetcher.set("https://flaky.test", &fetch.Result{Status: fetch.StatusTimeout})

	for i, want := range wantDelays {
		h.now = h.now.Add(2 * time.Hour)
		h.sync(t, TickScope())

		rec := h.store.Load().Get("https://flaky.test")
		assert.Equal(t, i+1, rec.ConsecutiveFailures)
		assert.Equal(t, h.now.Add(want), rec.NextCheckAt, "failure %d", i+1)
		assert.Equal(t, "summary of https://flaky.test", rec.SummaryText, "summary must never regress")
		assert.Equal(t, cache.FetchTimeout, rec.FetchStatus)
	}

	// Recovery resets the failure count.
	h.now = h.now.Add(2 * time.Hour)
	h.fetcher.set("https://flaky.test", &fetch.Result{Status: fetch.StatusNotModified})
	h.sync(t, TickScope())
	assert.Equal(t, 0, h.store.Load().Get("https://flaky.test").ConsecutiveFailures)
}

func TestSync_URLSummarizerFailureDropsValidatorsForRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{MinInterval: time.Hour})
	h.writeLinks(t, "https://changed.test\n")
	h.fetcher.set("https://changed.test", &fetch.Result{Status: fetch.StatusSuccess, BodyText: "v1"})
	h.sync(t, FullScope())
	v1Hash := h.store.Load().Get("https://changed.test").ContentHash

	etag := `"v2"`
	h.fetcher.set("https://changed.test", &fetch.Result{
		Status:   fetch.StatusSuccess,
		BodyText: "v2 content",
		ETag:     &etag,
	})
	h.summarizer.fail = true
	h.now = h.now.Add(2 * time.Hour)
	h.sync(t, TickScope())

	rec := h.store.Load().Get("https://changed.test")
	assert.Equal(t, v1Hash, rec.ContentHash, "new hash must not be committed")
	assert.Nil(t, rec.ETag, "validators must not mask the unsummarized change behind a 304")
	assert.Equal(t, "summary of https://changed.test", rec.SummaryText)
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestSync_ConcurrentTriggersSerialize(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Budgets{}, refresh.Policy{})
	h.writeFile(t, "a.md", "alpha")
	h.writeFile(t, "b.md", "bravo")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Sync(context.Background(), FullScope())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Exactly one pass summarizes; the rest observe a settled cache.
	assert.Equal(t, 2, h.summarizer.callCount())
	assert.Equal(t, 2, h.store.Load().Len())
}
