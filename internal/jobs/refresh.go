// SPDX-License-Identifier: MIT
package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sirius-college/attendance-monitoring/internal/cache"
	"github.com/sirius-college/attendance-monitoring/internal/log"
	"github.com/sirius-college/attendance-monitoring/internal/metrics"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

// Options configures the refresher.
type Options struct {
	// WindowWeeks is how far back the fetch window reaches.
	WindowWeeks int
	// CacheTTL bounds how long a fetched feed is reused. Zero disables the
	// cache lookup.
	CacheTTL time.Duration
	// SnapshotEnabled writes a parquet snapshot of the feed after each run.
	SnapshotEnabled bool
	// DataDir is where snapshots land.
	DataDir string
	// SyncReference pulls the reference tables after each successful upsert.
	SyncReference bool
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Refresher runs refresh cycles. At most one cycle runs at a time; a second
// Run while one is active fails fast with ErrRefreshInProgress.
type Refresher struct {
	opts   Options
	client FeedClient
	store  *store.Store
	cache  cache.Cache
	syncer ReferenceSyncer
	logger zerolog.Logger

	running atomic.Bool

	mu     sync.RWMutex
	status Status
}

// NewRefresher wires a refresher. syncer may be nil when reference sync is
// disabled; cache may be a no-op cache.
func NewRefresher(opts Options, client FeedClient, st *store.Store, c cache.Cache, syncer ReferenceSyncer, logger zerolog.Logger) *Refresher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WindowWeeks <= 0 {
		opts.WindowWeeks = 18
	}
	return &Refresher{
		opts:   opts,
		client: client,
		store:  st,
		cache:  c,
		syncer: syncer,
		logger: logger,
	}
}

// Status returns a copy of the latest run outcome.
func (r *Refresher) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Running reports whether a refresh cycle is currently active.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// Run executes one refresh cycle.
func (r *Refresher) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer r.running.Store(false)

	runID := uuid.NewString()
	ctx = log.ContextWithRunID(ctx, runID)
	logger := r.logger.With().Str("run_id", runID).Logger()

	started := r.opts.Now()
	windowStart := seqta.DateOf(started.AddDate(0, 0, -r.opts.WindowWeeks*7))

	logger.Info().
		Str("event", "refresh.start").
		Str("window_start", windowStart.String()).
		Msg("refresh cycle starting")

	st := Status{
		RunID:       runID,
		LastRun:     started,
		WindowStart: windowStart.String(),
	}
	err := r.run(ctx, logger, windowStart, &st)
	finished := r.opts.Now()
	st.Duration = finished.Sub(started).Round(time.Millisecond).String()
	if err != nil {
		st.LastError = err.Error()
		logger.Error().
			Str("event", "refresh.failed").
			Err(err).
			Msg("refresh cycle failed")
	} else {
		st.LastSuccess = finished
		logger.Info().
			Str("event", "refresh.done").
			Int("fetched", st.Fetched).
			Int("upserted", st.Upserted).
			Int("stored", st.Totals.Records).
			Int("unresolved", st.Totals.Unresolved).
			Str("duration", st.Duration).
			Msg("refresh cycle complete")
	}
	metrics.ObserveRefreshDuration(finished.Sub(started).Seconds())

	if logErr := r.store.LogFetch(ctx, runID, started, finished, windowStart, st.Fetched, st.Upserted, err); logErr != nil {
		logger.Warn().Str("event", "refresh.audit_failed").Err(logErr).Msg("fetch log write failed")
	}

	r.mu.Lock()
	prev := r.status
	if st.LastSuccess.IsZero() {
		st.LastSuccess = prev.LastSuccess
	}
	r.status = st
	r.mu.Unlock()

	return err
}

func (r *Refresher) run(ctx context.Context, logger zerolog.Logger, windowStart seqta.Date, st *Status) error {
	feed, fromCache, err := r.fetch(ctx, logger, windowStart)
	if err != nil {
		metrics.IncRefreshFailure("fetch")
		return fmt.Errorf("fetch: %w", err)
	}
	st.Fetched = len(feed.Records)
	st.FromCache = fromCache

	res, err := r.store.UpsertRecords(ctx, feed)
	if err != nil {
		metrics.IncRefreshFailure("store")
		return fmt.Errorf("store: %w", err)
	}
	st.Upserted = res.Changed

	totals, err := r.store.Totals(ctx)
	if err != nil {
		metrics.IncRefreshFailure("store")
		return fmt.Errorf("totals: %w", err)
	}
	st.Totals = totals
	metrics.RecordStoreTotals(totals.Records, totals.Unresolved)

	if r.opts.SyncReference && r.syncer != nil {
		if err := r.syncer.SyncAll(ctx); err != nil {
			// Stale reference data degrades the report but does not
			// invalidate the attendance records themselves.
			metrics.IncRefreshFailure("reference")
			logger.Warn().
				Str("event", "refresh.reference_failed").
				Err(err).
				Msg("reference sync failed, keeping previous tables")
		}
	}

	if r.opts.SnapshotEnabled {
		path := filepath.Join(r.opts.DataDir, "snapshots", "attendance-latest.parquet")
		if err := writeSnapshot(path, feed); err != nil {
			metrics.IncRefreshFailure("snapshot")
			metrics.RecordSnapshot(err)
			logger.Warn().
				Str("event", "refresh.snapshot_failed").
				Err(err).
				Msg("snapshot write failed")
		} else {
			metrics.RecordSnapshot(nil)
		}
	}

	return nil
}

// fetch returns the feed for the window, consulting the cache first.
func (r *Refresher) fetch(ctx context.Context, logger zerolog.Logger, windowStart seqta.Date) (*seqta.Feed, bool, error) {
	key := "feed:" + windowStart.String()

	if r.opts.CacheTTL > 0 {
		if cached, ok := r.cache.Get(key); ok {
			metrics.IncCacheHit()
			logger.Debug().
				Str("event", "refresh.cache_hit").
				Int("records", len(cached.Records)).
				Msg("using cached feed")
			return &cached, true, nil
		}
		metrics.IncCacheMiss()
	}

	start := r.opts.Now()
	feed, err := r.client.Attendance(ctx, windowStart)
	if err != nil {
		metrics.IncFetchError()
		return nil, false, err
	}
	metrics.RecordFetch(len(feed.Records), r.opts.Now().Sub(start).Seconds())

	if r.opts.CacheTTL > 0 {
		r.cache.Set(key, *feed, r.opts.CacheTTL)
	}
	return feed, false, nil
}
