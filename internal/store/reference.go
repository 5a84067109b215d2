// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Student is one row of the student reference table.
type Student struct {
	StudentCode   string `json:"student_code" parquet:"student_code"`
	FirstName     string `json:"first_name" parquet:"first_name"`
	Surname       string `json:"surname" parquet:"surname"`
	PreferredName string `json:"preferred_name" parquet:"preferred_name"`
	RollGroup     string `json:"roll_group" parquet:"roll_group"`
	YearLevel     string `json:"year_level" parquet:"year_level"`
	CampusCode    string `json:"campus_code" parquet:"campus_code"`
	Email         string `json:"email" parquet:"email"`
}

// DisplayName prefers the preferred name over the legal first name.
func (s Student) DisplayName() string {
	first := s.PreferredName
	if first == "" {
		first = s.FirstName
	}
	return strings.TrimSpace(first + " " + s.Surname)
}

// ClassTime is one scheduled class period, keyed by date and period.
type ClassTime struct {
	ClassDate  string `json:"class_date" parquet:"class_date"`
	PeriodCode int    `json:"period_code" parquet:"period_code"`
	ClassCode  string `json:"class_code" parquet:"class_code"`
	Subject    string `json:"subject" parquet:"subject"`
	Teacher    string `json:"teacher" parquet:"teacher"`
	Room       string `json:"room" parquet:"room"`
}

// foldName normalizes a name for case and accent insensitive matching.
func foldName(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// ImportStudents replaces the student reference table in one transaction.
// A partial import never becomes visible.
func (s *Store) ImportStudents(ctx context.Context, students []Student) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin students tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM students`); err != nil {
		return 0, fmt.Errorf("sqlite: clear students: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO students (
			student_code, first_name, surname, preferred_name,
			roll_group, year_level, campus_code, email, search_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_code) DO UPDATE SET
			first_name = excluded.first_name,
			surname = excluded.surname,
			preferred_name = excluded.preferred_name,
			roll_group = excluded.roll_group,
			year_level = excluded.year_level,
			campus_code = excluded.campus_code,
			email = excluded.email,
			search_name = excluded.search_name
	`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare students insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, st := range students {
		if strings.TrimSpace(st.StudentCode) == "" {
			continue
		}
		search := foldName(st.FirstName + " " + st.PreferredName + " " + st.Surname)
		if _, err := stmt.ExecContext(ctx,
			st.StudentCode, st.FirstName, st.Surname, st.PreferredName,
			st.RollGroup, st.YearLevel, st.CampusCode, st.Email, search,
		); err != nil {
			return 0, fmt.Errorf("sqlite: insert student %s: %w", st.StudentCode, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit students: %w", err)
	}

	s.logger.Info().
		Str("event", "store.import_students").
		Int("students", count).
		Msg("student reference table replaced")
	return count, nil
}

// ImportClassTimes replaces the class schedule reference table.
func (s *Store) ImportClassTimes(ctx context.Context, classes []ClassTime) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin class_times tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM class_times`); err != nil {
		return 0, fmt.Errorf("sqlite: clear class_times: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO class_times (class_date, period_code, class_code, subject, teacher, room)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (class_date, period_code, class_code) DO UPDATE SET
			subject = excluded.subject,
			teacher = excluded.teacher,
			room = excluded.room
	`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare class_times insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, ct := range classes {
		if ct.ClassDate == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			ct.ClassDate, ct.PeriodCode, ct.ClassCode, ct.Subject, ct.Teacher, ct.Room,
		); err != nil {
			return 0, fmt.Errorf("sqlite: insert class time %s/%d: %w", ct.ClassDate, ct.PeriodCode, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit class_times: %w", err)
	}

	s.logger.Info().
		Str("event", "store.import_class_times").
		Int("classes", count).
		Msg("class schedule reference table replaced")
	return count, nil
}

// Student looks up a single student by code. Missing students return nil.
func (s *Store) Student(ctx context.Context, code string) (*Student, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT student_code, first_name, surname, preferred_name,
		       roll_group, year_level, campus_code, email
		FROM students WHERE student_code = ?
	`, code)

	var st Student
	err := row.Scan(&st.StudentCode, &st.FirstName, &st.Surname, &st.PreferredName,
		&st.RollGroup, &st.YearLevel, &st.CampusCode, &st.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: student lookup: %w", err)
	}
	return &st, nil
}

// SearchStudents matches students whose folded name or code contains q.
func (s *Store) SearchStudents(ctx context.Context, q string, limit int) ([]Student, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	needle := "%" + foldName(q) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_code, first_name, surname, preferred_name,
		       roll_group, year_level, campus_code, email
		FROM students
		WHERE search_name LIKE ? OR student_code LIKE ?
		ORDER BY surname, first_name
		LIMIT ?
	`, needle, "%"+strings.TrimSpace(q)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: student search: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.StudentCode, &st.FirstName, &st.Surname, &st.PreferredName,
			&st.RollGroup, &st.YearLevel, &st.CampusCode, &st.Email); err != nil {
			return nil, fmt.Errorf("sqlite: student search scan: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
