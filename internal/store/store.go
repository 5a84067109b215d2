// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirius-college/attendance-monitoring/internal/seqta"
)

const schema = `
CREATE TABLE IF NOT EXISTS attendance_records (
	student_code        TEXT    NOT NULL,
	absence_date        TEXT    NOT NULL,
	period_code         INTEGER NOT NULL,
	start_time          TEXT    NOT NULL,
	end_time            TEXT    NOT NULL,
	attendance_code     TEXT    NOT NULL,
	trigger_absentee_sms INTEGER NOT NULL DEFAULT 0,
	considered_late     INTEGER NOT NULL DEFAULT 0,
	resolved            INTEGER NOT NULL DEFAULT 0,
	on_campus           INTEGER NOT NULL DEFAULT 0,
	authorised          INTEGER NOT NULL DEFAULT 0,
	comments            TEXT,
	feed_timestamp      TEXT    NOT NULL,
	updated_at          TEXT    NOT NULL,
	PRIMARY KEY (student_code, absence_date, period_code, start_time)
);

CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_records(absence_date);
CREATE INDEX IF NOT EXISTS idx_attendance_unresolved
	ON attendance_records(resolved, absence_date);

CREATE TABLE IF NOT EXISTS students (
	student_code   TEXT NOT NULL PRIMARY KEY,
	first_name     TEXT NOT NULL DEFAULT '',
	surname        TEXT NOT NULL DEFAULT '',
	preferred_name TEXT NOT NULL DEFAULT '',
	roll_group     TEXT NOT NULL DEFAULT '',
	year_level     TEXT NOT NULL DEFAULT '',
	campus_code    TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	search_name    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_students_search ON students(search_name);

CREATE TABLE IF NOT EXISTS class_times (
	class_date  TEXT    NOT NULL,
	period_code INTEGER NOT NULL,
	class_code  TEXT    NOT NULL DEFAULT '',
	subject     TEXT    NOT NULL DEFAULT '',
	teacher     TEXT    NOT NULL DEFAULT '',
	room        TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (class_date, period_code, class_code)
);

CREATE TABLE IF NOT EXISTS fetch_log (
	run_id       TEXT NOT NULL PRIMARY KEY,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	window_start TEXT NOT NULL,
	fetched      INTEGER NOT NULL,
	upserted     INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT ''
);
`

// Store wraps the SQLite database behind the attendance domain operations.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens (creating if necessary) the attendance database at path and
// applies the schema.
func Open(path string, cfg Config, logger zerolog.Logger) (*Store, error) {
	db, err := open(path, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema apply failed: %w", err)
	}
	logger.Info().
		Str("event", "store.open").
		Str("path", path).
		Msg("attendance store ready")
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// HealthCheck pings the database within the given context.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertResult reports the outcome of a batch upsert. Changed counts the
// rows the batch actually inserted or modified; a re-run over an unchanged
// window reports zero.
type UpsertResult struct {
	Total   int
	Changed int
}

// UpsertRecords writes feed records inside a single transaction. Records
// sharing a key with an existing row replace its mutable fields, so a
// re-fetch of the same window resolves or reclassifies absences in place.
func (s *Store) UpsertRecords(ctx context.Context, feed *seqta.Feed) (UpsertResult, error) {
	var res UpsertResult
	if feed == nil || len(feed.Records) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("sqlite: begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance_records (
			student_code, absence_date, period_code, start_time, end_time,
			attendance_code, trigger_absentee_sms, considered_late, resolved,
			on_campus, authorised, comments, feed_timestamp, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_code, absence_date, period_code, start_time)
		DO UPDATE SET
			end_time = excluded.end_time,
			attendance_code = excluded.attendance_code,
			trigger_absentee_sms = excluded.trigger_absentee_sms,
			considered_late = excluded.considered_late,
			resolved = excluded.resolved,
			on_campus = excluded.on_campus,
			authorised = excluded.authorised,
			comments = excluded.comments,
			feed_timestamp = excluded.feed_timestamp,
			updated_at = excluded.updated_at
		WHERE
			excluded.attendance_code != attendance_records.attendance_code
			OR excluded.resolved != attendance_records.resolved
			OR excluded.authorised != attendance_records.authorised
			OR excluded.comments IS NOT attendance_records.comments
	`)
	if err != nil {
		return res, fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range feed.Records {
		rec := &feed.Records[i]
		execRes, err := stmt.ExecContext(ctx,
			rec.StudentCode,
			rec.AbsenceDate.String(),
			rec.PeriodCode,
			rec.StartTime.String(),
			rec.EndTime.String(),
			rec.AttendanceCode,
			boolToInt(rec.TriggerAbsenteeSMS),
			boolToInt(rec.ConsideredLate),
			boolToInt(rec.Resolved),
			boolToInt(rec.OnCampus),
			boolToInt(rec.Authorised),
			rec.Comments,
			feed.Timestamp,
			now,
		)
		if err != nil {
			return res, fmt.Errorf("sqlite: upsert record %s: %w", rec.Key(), err)
		}
		res.Total++
		if n, err := execRes.RowsAffected(); err == nil && n > 0 {
			res.Changed++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("sqlite: commit upsert: %w", err)
	}

	s.logger.Debug().
		Str("event", "store.upsert").
		Int("records", res.Total).
		Msg("attendance records upserted")
	return res, nil
}

// Totals reports aggregate row counts for status reporting and metrics.
type Totals struct {
	Records    int
	Unresolved int
	Students   int
	ClassTimes int
}

// Totals counts the stored rows.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM attendance_records),
			(SELECT COUNT(*) FROM attendance_records
				WHERE resolved = 0 AND instr(attendance_code, 'absenceapproved') = 0),
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(*) FROM class_times)
	`)
	if err := row.Scan(&t.Records, &t.Unresolved, &t.Students, &t.ClassTimes); err != nil {
		return t, fmt.Errorf("sqlite: totals query: %w", err)
	}
	return t, nil
}

// LogFetch records a completed refresh run for audit and status queries.
func (s *Store) LogFetch(ctx context.Context, runID string, started, finished time.Time, windowStart seqta.Date, fetched, upserted int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_log (run_id, started_at, finished_at, window_start, fetched, upserted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO NOTHING
	`, runID,
		started.UTC().Format(time.RFC3339),
		finished.UTC().Format(time.RFC3339),
		windowStart.String(),
		fetched, upserted, msg)
	if err != nil {
		return fmt.Errorf("sqlite: log fetch run: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
