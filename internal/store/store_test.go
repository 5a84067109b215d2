// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirius-college/attendance-monitoring/internal/log"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attendance.db")
	s, err := Open(path, DefaultConfig(), log.WithComponent("store-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

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
			{
				StudentCode:    "STU001",
				AbsenceDate:    seqta.NewDate(2026, time.March, 2),
				PeriodCode:     2,
				AttendanceCode: "absent-illness",
				Resolved:       true,
				Authorised:     true,
				StartTime:      seqta.Clock{Hour: 9, Minute: 45},
				EndTime:        seqta.Clock{Hour: 10, Minute: 35},
				Comments:       strPtr("parent phoned office"),
			},
			{
				StudentCode:    "STU002",
				AbsenceDate:    seqta.NewDate(2026, time.March, 1),
				PeriodCode:     1,
				AttendanceCode: "absenceapproved-excursion",
				StartTime:      seqta.Clock{Hour: 8, Minute: 50},
				EndTime:        seqta.Clock{Hour: 9, Minute: 40},
			},
		},
	}
}

func TestUpsertRecordsAndTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Changed)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Records)
	// Resolved and pre-approved records do not count as unresolved.
	assert.Equal(t, 1, totals.Unresolved)
}

func TestUpsertRecordsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)
	res, err := s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 0, res.Changed, "unchanged records must not count as upserted")

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Records, "re-fetching the same window must not duplicate rows")
}

func TestUpsertResolvesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)

	// The office resolves the unexplained absence; the next fetch carries the
	// same key with resolved=1 and a comment.
	feed := testFeed()
	feed.Records[0].Resolved = true
	feed.Records[0].AttendanceCode = "absent-illness"
	feed.Records[0].Comments = strPtr("medical certificate provided")
	res, err := s.UpsertRecords(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed, "only the resolved record changed")

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Records)
	assert.Equal(t, 0, totals.Unresolved)

	abs, err := s.Absences(ctx, AbsenceFilter{StudentCode: "STU001"})
	require.NoError(t, err)
	require.Len(t, abs, 2)
	for _, a := range abs {
		if a.PeriodCode == 1 {
			assert.True(t, a.Resolved)
			require.NotNil(t, a.Comments)
			assert.Equal(t, "medical certificate provided", *a.Comments)
		}
	}
}

func TestAbsencesUnresolvedFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)

	abs, err := s.Absences(ctx, AbsenceFilter{Unresolved: true})
	require.NoError(t, err)
	require.Len(t, abs, 1)
	assert.Equal(t, "STU001", abs[0].StudentCode)
	assert.Equal(t, "unexplained", abs[0].AttendanceCode)
}

func TestAbsencesDateRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)

	abs, err := s.Absences(ctx, AbsenceFilter{
		From: seqta.NewDate(2026, time.March, 2),
		To:   seqta.NewDate(2026, time.March, 2),
	})
	require.NoError(t, err)
	assert.Len(t, abs, 2)
}

func TestAbsencesJoinReferenceData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ImportStudents(ctx, []Student{
		{StudentCode: "STU001", FirstName: "Aylin", PreferredName: "Ayla", Surname: "Demir", RollGroup: "09A", Email: "ademir@example.edu"},
	})
	require.NoError(t, err)
	_, err = s.ImportClassTimes(ctx, []ClassTime{
		{ClassDate: "2026-03-02", PeriodCode: 1, ClassCode: "09MAT1", Subject: "Mathematics", Teacher: "J. Chen", Room: "B12"},
	})
	require.NoError(t, err)
	_, err = s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)

	abs, err := s.Absences(ctx, AbsenceFilter{Unresolved: true})
	require.NoError(t, err)
	require.Len(t, abs, 1)
	assert.Equal(t, "Ayla Demir", abs[0].StudentName, "preferred name wins over first name")
	assert.Equal(t, "Mathematics", abs[0].Subject)
	assert.Equal(t, "B12", abs[0].Room)
	assert.Equal(t, "09A", abs[0].RollGroup)
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, testFeed())
	require.NoError(t, err)

	today := seqta.NewDate(2026, time.March, 2)
	sum, err := s.Summary(ctx, "STU001", today)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Unresolved)
	assert.Equal(t, 1, sum.Authorised)
	assert.Equal(t, 1, sum.AbsentDays)
	assert.Equal(t, 1, sum.RecentDays)
	require.NotNil(t, sum.FirstAbsence)
	assert.Equal(t, "2026-03-02", sum.FirstAbsence.String())
}

func TestSummaryUnknownStudent(t *testing.T) {
	s := newTestStore(t)

	sum, err := s.Summary(context.Background(), "NOPE", seqta.NewDate(2026, time.March, 2))
	require.NoError(t, err)
	assert.Nil(t, sum.Student)
	assert.Zero(t, sum.Total)
}

func TestSearchStudentsFoldsCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ImportStudents(ctx, []Student{
		{StudentCode: "STU001", FirstName: "Aylin", Surname: "Demir"},
		{StudentCode: "STU002", FirstName: "Miles", Surname: "O'Brien"},
		{StudentCode: "STU003", FirstName: "Sofia", Surname: "Álvarez"},
	})
	require.NoError(t, err)

	got, err := s.SearchStudents(ctx, "DEMIR", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "STU001", got[0].StudentCode)

	got, err = s.SearchStudents(ctx, "stu00", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestImportStudentsReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ImportStudents(ctx, []Student{{StudentCode: "OLD01", Surname: "Gone"}})
	require.NoError(t, err)
	n, err := s.ImportStudents(ctx, []Student{{StudentCode: "NEW01", Surname: "Here"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := s.Student(ctx, "OLD01")
	require.NoError(t, err)
	assert.Nil(t, st, "import replaces the whole table")
}

func TestLogFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-2 * time.Second)
	err := s.LogFetch(ctx, "run-1", started, time.Now(),
		seqta.NewDate(2025, time.October, 27), 120, 118, nil)
	require.NoError(t, err)

	// Same run ID is ignored, not an error.
	err = s.LogFetch(ctx, "run-1", started, time.Now(),
		seqta.NewDate(2025, time.October, 27), 120, 118, nil)
	require.NoError(t, err)
}

func TestVerifyIntegrity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertRecords(context.Background(), testFeed())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	problems, err := VerifyIntegrity(s.Path(), "quick")
	require.NoError(t, err)
	assert.Empty(t, problems)
}
