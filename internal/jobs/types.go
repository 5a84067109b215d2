// SPDX-License-Identifier: MIT

// Package jobs runs the periodic refresh cycle: fetch the attendance feed,
// upsert it into the store, sync reference tables and write the snapshot.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/sirius-college/attendance-monitoring/internal/seqta"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

// ErrRefreshInProgress is returned when a refresh is requested while another
// one is still running. Refreshes are strictly serialized.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// FeedClient fetches the attendance feed from the upstream system.
type FeedClient interface {
	Attendance(ctx context.Context, startDate seqta.Date) (*seqta.Feed, error)
}

// ReferenceSyncer pulls the reference tables from their upstream source.
type ReferenceSyncer interface {
	SyncAll(ctx context.Context) error
}

// Status describes the outcome of the most recent refresh run.
type Status struct {
	RunID       string       `json:"run_id,omitempty"`
	LastRun     time.Time    `json:"last_run,omitempty"`
	LastSuccess time.Time    `json:"last_success,omitempty"`
	Duration    string       `json:"duration,omitempty"`
	WindowStart string       `json:"window_start,omitempty"`
	Fetched     int          `json:"fetched"`
	Upserted    int          `json:"upserted"`
	FromCache   bool         `json:"from_cache"`
	Totals      store.Totals `json:"totals"`
	LastError   string       `json:"last_error,omitempty"`
}
