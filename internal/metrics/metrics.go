// SPDX-License-Identifier: MIT

// Package metrics registers and records the attmon Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Business metrics
	recordsFetched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attmon_records_fetched",
		Help: "Number of absence records returned by the last feed fetch",
	})

	recordsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attmon_records_stored",
		Help: "Total number of absence records in the store after the last refresh",
	})

	unresolvedAbsences = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attmon_unresolved_absences",
		Help: "Unresolved, unapproved absences after the last refresh",
	})

	feedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attmon_feed_requests_total",
		Help: "SEQTA feed requests by outcome",
	}, []string{"outcome"}) // outcome=success|error|cache_hit

	feedFetchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attmon_feed_fetch_duration_seconds",
		Help:    "Time spent fetching and decoding the attendance feed",
		Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120},
	})

	// Drive sync metrics
	driveDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attmon_drive_downloads_total",
		Help: "Google Drive table downloads by outcome",
	}, []string{"table", "outcome"}) // outcome=success|failure

	driveBytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attmon_drive_bytes_downloaded_total",
		Help: "Total bytes downloaded from Google Drive",
	})

	// Operational metrics
	refreshFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attmon_refresh_failures_total",
		Help: "Total number of refresh failures by stage",
	}, []string{"stage"}) // stage=fetch|store|reference|snapshot

	refreshDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attmon_refresh_duration_seconds",
		Help:    "Duration of complete refresh cycles",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	snapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attmon_snapshot_writes_total",
		Help: "Parquet snapshot writes by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attmon_fetch_cache_total",
		Help: "Fetch cache lookups by outcome",
	}, []string{"outcome"}) // outcome=hit|miss
)

func RecordFetch(records int, seconds float64) {
	recordsFetched.Set(float64(records))
	feedRequestsTotal.WithLabelValues("success").Inc()
	feedFetchDurationSeconds.Observe(seconds)
}

func IncFetchError() { feedRequestsTotal.WithLabelValues("error").Inc() }

func RecordStoreTotals(total, unresolved int) {
	recordsStored.Set(float64(total))
	unresolvedAbsences.Set(float64(unresolved))
}

func RecordDriveDownload(table string, bytes int64, err error) {
	if err != nil {
		driveDownloadsTotal.WithLabelValues(table, "failure").Inc()
		return
	}
	driveDownloadsTotal.WithLabelValues(table, "success").Inc()
	driveBytesDownloaded.Add(float64(bytes))
}

func IncRefreshFailure(stage string)   { refreshFailuresTotal.WithLabelValues(stage).Inc() }
func ObserveRefreshDuration(s float64) { refreshDurationSeconds.Observe(s) }

func RecordSnapshot(err error) {
	if err != nil {
		snapshotWrites.WithLabelValues("failure").Inc()
		return
	}
	snapshotWrites.WithLabelValues("success").Inc()
}

func IncCacheHit()  { cacheHits.WithLabelValues("hit").Inc(); feedRequestsTotal.WithLabelValues("cache_hit").Inc() }
func IncCacheMiss() { cacheHits.WithLabelValues("miss").Inc() }
