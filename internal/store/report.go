// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirius-college/attendance-monitoring/internal/seqta"
)

// Absence is an attendance record joined with student details and the class
// scheduled for that period. Followup lists only records still needing
// action: resolved records and pre-approved absences are excluded.
type Absence struct {
	StudentCode    string       `json:"student_code"`
	StudentName    string       `json:"student_name,omitempty"`
	RollGroup      string       `json:"roll_group,omitempty"`
	YearLevel      string       `json:"year_level,omitempty"`
	CampusCode     string       `json:"campus_code,omitempty"`
	Email          string       `json:"email,omitempty"`
	AbsenceDate    seqta.Date   `json:"absence_date"`
	PeriodCode     int          `json:"period_code"`
	StartTime      seqta.Clock  `json:"start_time"`
	EndTime        seqta.Clock  `json:"end_time"`
	AttendanceCode string       `json:"attendance_code"`
	ConsideredLate bool         `json:"considered_late"`
	Authorised     bool         `json:"authorised"`
	Resolved       bool         `json:"resolved"`
	Comments       *string      `json:"comments,omitempty"`
	Subject        string       `json:"subject,omitempty"`
	Teacher        string       `json:"teacher,omitempty"`
	Room           string       `json:"room,omitempty"`
}

// AbsenceFilter narrows an absence listing.
type AbsenceFilter struct {
	From        seqta.Date // zero means unbounded
	To          seqta.Date // zero means unbounded
	StudentCode string
	Unresolved  bool // only records still needing followup
	Limit       int
}

const absenceSelect = `
	SELECT
		a.student_code,
		COALESCE(NULLIF(s.preferred_name, ''), s.first_name, '') AS first_name,
		COALESCE(s.surname, '') AS surname,
		COALESCE(s.roll_group, '') AS roll_group,
		COALESCE(s.year_level, '') AS year_level,
		COALESCE(s.campus_code, '') AS campus_code,
		COALESCE(s.email, '') AS email,
		a.absence_date, a.period_code, a.start_time, a.end_time,
		a.attendance_code, a.considered_late, a.authorised, a.resolved, a.comments,
		COALESCE(c.subject, '') AS subject,
		COALESCE(c.teacher, '') AS teacher,
		COALESCE(c.room, '') AS room
	FROM attendance_records a
	LEFT JOIN students s ON s.student_code = a.student_code
	LEFT JOIN class_times c
		ON c.class_date = a.absence_date AND c.period_code = a.period_code
`

// Absences lists records matching the filter, newest first.
func (s *Store) Absences(ctx context.Context, f AbsenceFilter) ([]Absence, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "a.absence_date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "a.absence_date <= ?")
		args = append(args, f.To.String())
	}
	if f.StudentCode != "" {
		where = append(where, "a.student_code = ?")
		args = append(args, f.StudentCode)
	}
	if f.Unresolved {
		where = append(where, "a.resolved = 0")
		where = append(where, "instr(a.attendance_code, 'absenceapproved') = 0")
	}

	q := absenceSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY a.absence_date DESC, a.student_code, a.period_code"
	limit := f.Limit
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: absence query: %w", err)
	}
	defer rows.Close()

	var out []Absence
	for rows.Next() {
		var (
			a                     Absence
			firstName, surname    string
			dateRaw, startRaw     string
			endRaw                string
			late, auth, resolved  int
		)
		if err := rows.Scan(
			&a.StudentCode, &firstName, &surname, &a.RollGroup, &a.YearLevel,
			&a.CampusCode, &a.Email,
			&dateRaw, &a.PeriodCode, &startRaw, &endRaw,
			&a.AttendanceCode, &late, &auth, &resolved, &a.Comments,
			&a.Subject, &a.Teacher, &a.Room,
		); err != nil {
			return nil, fmt.Errorf("sqlite: absence scan: %w", err)
		}
		a.StudentName = strings.TrimSpace(firstName + " " + surname)
		if err := a.AbsenceDate.UnmarshalText([]byte(dateRaw)); err != nil {
			return nil, fmt.Errorf("sqlite: stored absence_date %q: %w", dateRaw, err)
		}
		if err := a.StartTime.UnmarshalText([]byte(startRaw)); err != nil {
			return nil, fmt.Errorf("sqlite: stored start_time %q: %w", startRaw, err)
		}
		if err := a.EndTime.UnmarshalText([]byte(endRaw)); err != nil {
			return nil, fmt.Errorf("sqlite: stored end_time %q: %w", endRaw, err)
		}
		a.ConsideredLate = late != 0
		a.Authorised = auth != 0
		a.Resolved = resolved != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// StudentSummary aggregates a student's attendance history.
type StudentSummary struct {
	Student      *Student   `json:"student,omitempty"`
	StudentCode  string     `json:"student_code"`
	Total        int        `json:"total_records"`
	Unresolved   int        `json:"unresolved"`
	Late         int        `json:"late"`
	Authorised   int        `json:"authorised"`
	AbsentDays   int        `json:"absent_days"`
	RecentDays   int        `json:"absent_days_last_30"`
	FirstAbsence *seqta.Date `json:"first_absence,omitempty"`
	LastAbsence  *seqta.Date `json:"last_absence,omitempty"`
}

// Summary aggregates the stored history for one student. A student with no
// stored records and no reference row yields a summary with zero counts.
func (s *Store) Summary(ctx context.Context, code string, today seqta.Date) (StudentSummary, error) {
	sum := StudentSummary{StudentCode: code}

	st, err := s.Student(ctx, code)
	if err != nil {
		return sum, err
	}
	sum.Student = st

	cutoff := seqta.DateOf(today.AddDate(0, 0, -30))
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE resolved = 0 AND instr(attendance_code, 'absenceapproved') = 0),
			COUNT(*) FILTER (WHERE considered_late = 1),
			COUNT(*) FILTER (WHERE authorised = 1),
			COUNT(DISTINCT absence_date),
			COUNT(DISTINCT CASE WHEN absence_date >= ? THEN absence_date END),
			MIN(absence_date),
			MAX(absence_date)
		FROM attendance_records
		WHERE student_code = ?
	`, cutoff.String(), code)

	var first, last *string
	if err := row.Scan(&sum.Total, &sum.Unresolved, &sum.Late, &sum.Authorised,
		&sum.AbsentDays, &sum.RecentDays, &first, &last); err != nil {
		return sum, fmt.Errorf("sqlite: summary query for %s: %w", code, err)
	}

	if first != nil {
		var d seqta.Date
		if err := d.UnmarshalText([]byte(*first)); err == nil {
			sum.FirstAbsence = &d
		}
	}
	if last != nil {
		var d seqta.Date
		if err := d.UnmarshalText([]byte(*last)); err == nil {
			sum.LastAbsence = &d
		}
	}
	return sum, nil
}
