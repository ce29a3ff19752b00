// Package refresh implements the URL refresh scheduling policy: which URL
// sources are due, in what order, how many per cycle, and how their fetch
// bookkeeping advances on success, not-modified and failure outcomes.
package refresh

import (
	"sort"
	"time"

	"github.com/adalundhe/lorekeep/core/cache"
)

// =============================================================================
// Policy
// =============================================================================

// Default policy values.
const (
	DefaultMinInterval = time.Hour
	DefaultMaxAge      = 7 * 24 * time.Hour
	DefaultBackoffBase = time.Minute
	DefaultBackoffCap  = 6 * time.Hour
)

// Policy holds the operator-tunable refresh parameters.
type Policy struct {
	// MinInterval is how long after a successful or not-modified fetch a URL
	// stays quiet.
	MinInterval time.Duration

	// MaxAge forces a URL back into eligibility once its last fetch is this
	// old, regardless of its scheduled next check.
	MaxAge time.Duration

	// BackoffBase and BackoffCap bound the exponential failure backoff:
	// min(base * 2^(failures-1), cap).
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultPolicy returns the default refresh policy.
func DefaultPolicy() Policy {
	return Policy{
		MinInterval: DefaultMinInterval,
		MaxAge:      DefaultMaxAge,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
	}
}

// Scheduler applies a refresh policy to URL records.
type Scheduler struct {
	policy Policy
}

// NewScheduler creates a scheduler, filling zero policy fields with defaults.
func NewScheduler(policy Policy) *Scheduler {
	if policy.MinInterval <= 0 {
		policy.MinInterval = DefaultMinInterval
	}
	if policy.MaxAge <= 0 {
		policy.MaxAge = DefaultMaxAge
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = DefaultBackoffBase
	}
	if policy.BackoffCap <= 0 {
		policy.BackoffCap = DefaultBackoffCap
	}
	return &Scheduler{policy: policy}
}

// Policy returns the effective policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// =============================================================================
// Selection
// =============================================================================

// Eligible returns the URL records due for a fetch at now, in ascending
// NextCheckAt order. A record is due when its scheduled check has arrived or
// when its last fetch is older than MaxAge (staleness override). Records
// never attempted are always due; never-succeeded records with failures wait
// out their backoff like any other.
func (s *Scheduler) Eligible(recs []*cache.Record, now time.Time) []*cache.Record {
	var due []*cache.Record
	for _, rec := range recs {
		if rec.Type != cache.SourceURL {
			continue
		}
		if s.isDue(rec, now) {
			due = append(due, rec)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextCheckAt.Equal(due[j].NextCheckAt) {
			return due[i].SourceID < due[j].SourceID
		}
		return due[i].NextCheckAt.Before(due[j].NextCheckAt)
	})

	return due
}

// isDue applies the eligibility rule to one record. A record that has never
// been fetched is due only while it has no failures; once attempts start
// failing, its backed-off NextCheckAt governs, so a URL that has never
// succeeded is not retried every cycle. The MaxAge override likewise needs a
// real last fetch to measure staleness from.
func (s *Scheduler) isDue(rec *cache.Record, now time.Time) bool {
	if !rec.NextCheckAt.After(now) {
		return true
	}
	if rec.LastFetchedAt.IsZero() {
		return rec.ConsecutiveFailures == 0
	}
	return now.Sub(rec.LastFetchedAt) > s.policy.MaxAge
}

// SelectBatch truncates an eligible list to the per-cycle budget. A
// non-positive budget means unlimited. Unselected records keep their state
// untouched and stay eligible for the next cycle.
func SelectBatch(eligible []*cache.Record, budget int) []*cache.Record {
	if budget <= 0 || len(eligible) <= budget {
		return eligible
	}
	return eligible[:budget]
}

// =============================================================================
// State Transitions
// =============================================================================

// ApplySuccess records a fresh-content fetch: failures reset, validators
// updated from the response, next check one MinInterval out. Content hash and
// summary are the orchestrator's responsibility and are not touched here.
func (s *Scheduler) ApplySuccess(rec *cache.Record, now time.Time, etag, lastModified *string) {
	rec.FetchStatus = cache.FetchSuccess
	rec.LastFetchedAt = now
	rec.ConsecutiveFailures = 0
	rec.NextCheckAt = now.Add(s.policy.MinInterval)

	if etag != nil {
		rec.ETag = etag
	}
	if lastModified != nil {
		rec.LastModified = lastModified
	}
}

// ApplyNotModified records a server-confirmed unchanged fetch. The failure
// count resets; content, summary and validators stay as they were unless the
// server sent refreshed validators.
func (s *Scheduler) ApplyNotModified(rec *cache.Record, now time.Time, etag, lastModified *string) {
	rec.FetchStatus = cache.FetchNotModified
	rec.LastFetchedAt = now
	rec.ConsecutiveFailures = 0
	rec.NextCheckAt = now.Add(s.policy.MinInterval)

	if etag != nil {
		rec.ETag = etag
	}
	if lastModified != nil {
		rec.LastModified = lastModified
	}
}

// ApplyFailure records a timeout or error: the failure count increments and
// the next check backs off exponentially under the cap. Cached content and
// summary are never regressed.
func (s *Scheduler) ApplyFailure(rec *cache.Record, now time.Time, status cache.FetchStatus) {
	rec.FetchStatus = status
	rec.ConsecutiveFailures++
	rec.NextCheckAt = now.Add(s.backoffDelay(rec.ConsecutiveFailures))
}

// backoffDelay computes min(base * 2^(failures-1), cap).
func (s *Scheduler) backoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	delay := s.policy.BackoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.policy.BackoffCap || delay <= 0 {
			return s.policy.BackoffCap
		}
	}

	if delay > s.policy.BackoffCap {
		return s.policy.BackoffCap
	}
	return delay
}

// NewURLRecord seeds a record for a URL first seen now: zero failures and an
// immediate next check so it is picked up by the very next scheduler pass.
func NewURLRecord(url string, now time.Time) *cache.Record {
	return &cache.Record{
		SourceID:            url,
		Type:                cache.SourceURL,
		ConsecutiveFailures: 0,
		NextCheckAt:         now,
	}
}
