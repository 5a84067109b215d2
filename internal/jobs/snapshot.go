// SPDX-License-Identifier: MIT
package jobs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/sirius-college/attendance-monitoring/internal/seqta"
)

// snapshotRow is the flattened parquet schema for an absence record.
type snapshotRow struct {
	StudentCode        string `parquet:"student_code"`
	AbsenceDate        string `parquet:"absence_date"`
	PeriodCode         int32  `parquet:"period_code"`
	AttendanceCode     string `parquet:"attendance_code"`
	TriggerAbsenteeSMS bool   `parquet:"trigger_absentee_sms"`
	ConsideredLate     bool   `parquet:"considered_late"`
	Resolved           bool   `parquet:"resolved"`
	OnCampus           bool   `parquet:"on_campus"`
	Authorised         bool   `parquet:"authorised"`
	StartTime          string `parquet:"start_time"`
	EndTime            string `parquet:"end_time"`
	Comments           string `parquet:"comments"`
	FeedTimestamp      string `parquet:"feed_timestamp"`
}

// writeSnapshot writes the feed to a parquet file via an atomic rename.
// A crashed write never leaves a truncated snapshot behind.
func writeSnapshot(path string, feed *seqta.Feed) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("snapshot pending file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	w := parquet.NewGenericWriter[snapshotRow](pending)
	rows := make([]snapshotRow, 0, len(feed.Records))
	for _, rec := range feed.Records {
		row := snapshotRow{
			StudentCode:        rec.StudentCode,
			AbsenceDate:        rec.AbsenceDate.String(),
			PeriodCode:         int32(rec.PeriodCode),
			AttendanceCode:     rec.AttendanceCode,
			TriggerAbsenteeSMS: rec.TriggerAbsenteeSMS,
			ConsideredLate:     rec.ConsideredLate,
			Resolved:           rec.Resolved,
			OnCampus:           rec.OnCampus,
			Authorised:         rec.Authorised,
			StartTime:          rec.StartTime.String(),
			EndTime:            rec.EndTime.String(),
			FeedTimestamp:      feed.Timestamp,
		}
		if rec.Comments != nil {
			row.Comments = *rec.Comments
		}
		rows = append(rows, row)
	}
	if _, err := w.Write(rows); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("snapshot close: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}
