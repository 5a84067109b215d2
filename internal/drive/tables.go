// SPDX-License-Identifier: MIT
package drive

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/sirius-college/attendance-monitoring/internal/fsutil"
	"github.com/sirius-college/attendance-monitoring/internal/metrics"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

// Reference table names the syncer understands.
const (
	TableStudents   = "students"
	TableClassTimes = "class_times"
)

// Syncer pulls the reference tables from the shared Drive folder into the
// local store. The registry maps a table name to the Drive file ID that
// holds it; IDs survive renames and in-place re-exports, so the data team
// can update a table without a redeploy.
type Syncer struct {
	client   *Client
	store    *store.Store
	dataDir  string
	registry map[string]string
	logger   zerolog.Logger
}

// NewSyncer builds a reference table syncer.
func NewSyncer(client *Client, st *store.Store, dataDir string, registry map[string]string, logger zerolog.Logger) *Syncer {
	return &Syncer{
		client:   client,
		store:    st,
		dataDir:  dataDir,
		registry: registry,
		logger:   logger,
	}
}

// SyncAll pulls every registered reference table. A failing table does not
// block the others; the first error is returned after all tables were tried.
func (s *Syncer) SyncAll(ctx context.Context) error {
	var firstErr error
	for _, table := range []string{TableStudents, TableClassTimes} {
		if _, ok := s.registry[table]; !ok {
			continue
		}
		if err := s.PullTable(ctx, table); err != nil {
			s.logger.Error().
				Str("event", "drive.sync_table_failed").
				Str("table", table).
				Err(err).
				Msg("reference table sync failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PullTable downloads one registered table by its Drive file ID and imports
// it into the store.
func (s *Syncer) PullTable(ctx context.Context, table string) error {
	fileID, ok := s.registry[table]
	if !ok {
		return fmt.Errorf("table %q is not registered", table)
	}

	f, err := s.client.Metadata(ctx, fileID)
	if err != nil {
		metrics.RecordDriveDownload(table, 0, err)
		return err
	}

	local, err := fsutil.ConfineRelPath(s.dataDir, filepath.Join("reference", f.Name))
	if err != nil {
		return fmt.Errorf("reference path for %q: %w", f.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create reference dir: %w", err)
	}

	n, err := s.client.DownloadTo(ctx, f.ID, local)
	metrics.RecordDriveDownload(table, n, err)
	if err != nil {
		return err
	}

	count, err := s.importTable(ctx, table, local)
	if err != nil {
		return fmt.Errorf("import %s from %s: %w", table, f.Name, err)
	}

	s.logger.Info().
		Str("event", "drive.table_synced").
		Str("table", table).
		Str("file", f.Name).
		Str("file_id", f.ID).
		Int64("bytes", n).
		Int("rows", count).
		Msg("reference table synced")
	return nil
}

func (s *Syncer) importTable(ctx context.Context, table, path string) (int, error) {
	switch table {
	case TableStudents:
		students, err := readStudents(path)
		if err != nil {
			return 0, err
		}
		return s.store.ImportStudents(ctx, students)
	case TableClassTimes:
		classes, err := readClassTimes(path)
		if err != nil {
			return 0, err
		}
		return s.store.ImportClassTimes(ctx, classes)
	default:
		return 0, fmt.Errorf("no importer for table %q", table)
	}
}

func readStudents(path string) ([]store.Student, error) {
	if strings.HasSuffix(path, ".csv") {
		return readStudentsCSV(path)
	}
	return parquet.ReadFile[store.Student](path)
}

func readClassTimes(path string) ([]store.ClassTime, error) {
	if strings.HasSuffix(path, ".csv") {
		return readClassTimesCSV(path)
	}
	return parquet.ReadFile[store.ClassTime](path)
}

// csvHeader maps column names to their index, trimming whitespace.
func csvHeader(row []string) map[string]int {
	idx := make(map[string]int, len(row))
	for i, col := range row {
		idx[strings.TrimSpace(strings.ToLower(col))] = i
	}
	return idx
}

func csvField(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readStudentsCSV(path string) ([]store.Student, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse students csv: %w", err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("students csv is empty")
	}

	idx := csvHeader(rows[0])
	if _, ok := idx["student_code"]; !ok {
		return nil, fmt.Errorf("students csv has no student_code column")
	}

	out := make([]store.Student, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, store.Student{
			StudentCode:   csvField(row, idx, "student_code"),
			FirstName:     csvField(row, idx, "first_name"),
			Surname:       csvField(row, idx, "surname"),
			PreferredName: csvField(row, idx, "preferred_name"),
			RollGroup:     csvField(row, idx, "roll_group"),
			YearLevel:     csvField(row, idx, "year_level"),
			CampusCode:    csvField(row, idx, "campus_code"),
			Email:         csvField(row, idx, "email"),
		})
	}
	return out, nil
}

func readClassTimesCSV(path string) ([]store.ClassTime, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse class_times csv: %w", err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("class_times csv is empty")
	}

	idx := csvHeader(rows[0])
	if _, ok := idx["class_date"]; !ok {
		return nil, fmt.Errorf("class_times csv has no class_date column")
	}

	out := make([]store.ClassTime, 0, len(rows)-1)
	for _, row := range rows[1:] {
		period, _ := strconv.Atoi(csvField(row, idx, "period_code"))
		out = append(out, store.ClassTime{
			ClassDate:  csvField(row, idx, "class_date"),
			PeriodCode: period,
			ClassCode:  csvField(row, idx, "class_code"),
			Subject:    csvField(row, idx, "subject"),
			Teacher:    csvField(row, idx, "teacher"),
			Room:       csvField(row, idx, "room"),
		})
	}
	return out, nil
}
