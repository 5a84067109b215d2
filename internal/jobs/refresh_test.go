// SPDX-License-Identifier: MIT
package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirius-college/attendance-monitoring/internal/cache"
	"github.com/sirius-college/attendance-monitoring/internal/log"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

type mockFeedClient struct {
	mu      sync.Mutex
	feed    *seqta.Feed
	err     error
	calls   int
	lastArg seqta.Date
	block   chan struct{} // when set, Attendance blocks until closed
}

func (m *mockFeedClient) Attendance(ctx context.Context, startDate seqta.Date) (*seqta.Feed, error) {
	m.mu.Lock()
	m.calls++
	m.lastArg = startDate
	block := m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.feed, nil
}

func (m *mockFeedClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockSyncer struct {
	calls int
	err   error
}

func (m *mockSyncer) SyncAll(ctx context.Context) error {
	m.calls++
	return m.err
}

func testFeed() *seqta.Feed {
	return &seqta.Feed{
		Timestamp: "2026-03-02 08:15:00",
		Records: []seqta.Record{
			{
				StudentCode:    "STU001",
				AbsenceDate:    seqta.NewDate(2026, time.March, 2),
				PeriodCode:     1,
				AttendanceCode: "unexplained",
				StartTime:      seqta.Clock{Hour: 8, Minute: 50},
				EndTime:        seqta.Clock{Hour: 9, Minute: 40},
			},
		},
	}
}

func newTestRefresher(t *testing.T, opts Options, client FeedClient, syncer ReferenceSyncer) (*Refresher, *store.Store) {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	st, err := store.Open(filepath.Join(opts.DataDir, "attendance.db"), store.DefaultConfig(), log.WithComponent("jobs-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r := NewRefresher(opts, client, st, cache.NewMemoryCache(0), syncer, log.WithComponent("jobs-test"))
	return r, st
}

func TestRunStoresFeed(t *testing.T) {
	client := &mockFeedClient{feed: testFeed()}
	r, st := newTestRefresher(t, Options{WindowWeeks: 18}, client, nil)

	require.NoError(t, r.Run(context.Background()))

	totals, err := st.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Records)

	status := r.Status()
	assert.Equal(t, 1, status.Fetched)
	assert.False(t, status.FromCache)
	assert.Empty(t, status.LastError)
	assert.NotEmpty(t, status.RunID)
	assert.False(t, status.LastSuccess.IsZero())
}

func TestRunWindowStart(t *testing.T) {
	client := &mockFeedClient{feed: testFeed()}
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	r, _ := newTestRefresher(t, Options{
		WindowWeeks: 18,
		Now:         func() time.Time { return now },
	}, client, nil)

	require.NoError(t, r.Run(context.Background()))

	// 18 weeks before 2026-03-02.
	assert.Equal(t, "2025-10-27", client.lastArg.String())
}

func TestRunUsesCacheWithinTTL(t *testing.T) {
	client := &mockFeedClient{feed: testFeed()}
	r, _ := newTestRefresher(t, Options{WindowWeeks: 18, CacheTTL: time.Hour}, client, nil)

	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, client.callCount(), "second run within TTL must reuse the cached feed")
	assert.True(t, r.Status().FromCache)
}

func TestRunReportsUpserted(t *testing.T) {
	client := &mockFeedClient{feed: testFeed()}
	r, _ := newTestRefresher(t, Options{WindowWeeks: 18}, client, nil)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, r.Status().Upserted)

	// Re-fetching an unchanged window stores nothing new, so the audit
	// counts must diverge from the fetch count.
	require.NoError(t, r.Run(context.Background()))
	status := r.Status()
	assert.Equal(t, 1, status.Fetched)
	assert.Equal(t, 0, status.Upserted)
}

func TestRunFetchFailureKeepsLastSuccess(t *testing.T) {
	client := &mockFeedClient{feed: testFeed()}
	r, _ := newTestRefresher(t, Options{WindowWeeks: 18}, client, nil)

	require.NoError(t, r.Run(context.Background()))
	firstSuccess := r.Status().LastSuccess

	client.mu.Lock()
	client.err = errors.New("upstream down")
	client.mu.Unlock()

	err := r.Run(context.Background())
	require.Error(t, err)

	status := r.Status()
	assert.Contains(t, status.LastError, "upstream down")
	assert.Equal(t, firstSuccess, status.LastSuccess, "a failed run must not clear the last success time")
}

func TestRunSerialized(t *testing.T) {
	block := make(chan struct{})
	client := &mockFeedClient{feed: testFeed(), block: block}
	r, _ := newTestRefresher(t, Options{WindowWeeks: 18}, client, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Wait for the first run to be inside the fetch.
	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	close(block)
	require.NoError(t, <-done)
}

func TestRunSyncsReference(t *testing.T) {
	client := &mockFeedClient{feed: testFeed()}
	syncer := &mockSyncer{}
	r, _ := newTestRefresher(t, Options{WindowWeeks: 18, SyncReference: true}, client, syncer)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, syncer.calls)
}

func TestRunReferenceFailureIsNonFatal(t *testing.T) {
	client := &mockFeedClient{feed: testFeed()}
	syncer := &mockSyncer{err: errors.New("drive unavailable")}
	r, _ := newTestRefresher(t, Options{WindowWeeks: 18, SyncReference: true}, client, syncer)

	require.NoError(t, r.Run(context.Background()), "stale reference tables must not fail the refresh")
	assert.Empty(t, r.Status().LastError)
}

func TestRunWritesSnapshot(t *testing.T) {
	dataDir := t.TempDir()
	client := &mockFeedClient{feed: testFeed()}
	r, _ := newTestRefresher(t, Options{
		WindowWeeks:     18,
		SnapshotEnabled: true,
		DataDir:         dataDir,
	}, client, nil)

	require.NoError(t, r.Run(context.Background()))

	path := filepath.Join(dataDir, "snapshots", "attendance-latest.parquet")
	_, err := os.Stat(path)
	require.NoError(t, err)

	rows, err := parquet.ReadFile[snapshotRow](path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "STU001", rows[0].StudentCode)
	assert.Equal(t, "2026-03-02", rows[0].AbsenceDate)
}

func TestRunSnapshotFromCacheKeepsFeedTimestamp(t *testing.T) {
	dataDir := t.TempDir()
	client := &mockFeedClient{feed: testFeed()}
	r, _ := newTestRefresher(t, Options{
		WindowWeeks:     18,
		CacheTTL:        time.Hour,
		SnapshotEnabled: true,
		DataDir:         dataDir,
	}, client, nil)

	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, r.Run(context.Background()))
	require.True(t, r.Status().FromCache)

	path := filepath.Join(dataDir, "snapshots", "attendance-latest.parquet")
	rows, err := parquet.ReadFile[snapshotRow](path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-02 08:15:00", rows[0].FeedTimestamp,
		"a snapshot written from the cached feed must keep its timestamp")
}
