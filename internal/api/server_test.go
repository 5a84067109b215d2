// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirius-college/attendance-monitoring/internal/cache"
	"github.com/sirius-college/attendance-monitoring/internal/jobs"
	"github.com/sirius-college/attendance-monitoring/internal/log"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

type stubFeed struct {
	feed  *seqta.Feed
	err   error
	block chan struct{}
}

func (f *stubFeed) Attendance(ctx context.Context, _ seqta.Date) (*seqta.Feed, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.feed, nil
}

type testEnv struct {
	server *Server
	store  *store.Store
	feed   *stubFeed
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "attendance.db"), store.DefaultConfig(), log.WithComponent("api-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	feed := &stubFeed{feed: &seqta.Feed{
		Records: []seqta.Record{{
			StudentCode:    "STU001",
			AbsenceDate:    seqta.NewDate(2026, time.March, 2),
			PeriodCode:     1,
			AttendanceCode: "unexplained",
			StartTime:      seqta.Clock{Hour: 8, Minute: 50},
			EndTime:        seqta.Clock{Hour: 9, Minute: 40},
		}},
	}}
	refresher := jobs.NewRefresher(jobs.Options{WindowWeeks: 18, DataDir: t.TempDir()},
		feed, st, cache.NewMemoryCache(0), nil, log.WithComponent("api-test"))

	srv := New(opts, Deps{
		Store:     st,
		Refresher: refresher,
		FeedPing: func(ctx context.Context) error {
			_, err := feed.Attendance(ctx, seqta.Date{})
			return err
		},
	}, log.WithComponent("api-test"))

	return &testEnv{server: srv, store: st, feed: feed}
}

func (e *testEnv) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("X-API-Token", token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Options{Version: "1.2.3"})

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])
}

func TestReadyzStrictFeedDown(t *testing.T) {
	env := newTestEnv(t, Options{ReadyStrict: true})
	env.feed.err = errors.New("connection refused")

	rec := env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "not_ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "unreachable", checks["feed"])
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, Options{APIToken: "secret-token"})

	rec := env.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/status", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/status", "secret-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsLastRun(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/status", "")
		body := decodeBody(t, rec)
		last := body["last_run"].(map[string]any)
		return last["fetched"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshConflictWhileRunning(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.feed.block = make(chan struct{})
	defer close(env.feed.block)

	rec := env.do(t, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return env.do(t, http.MethodPost, "/api/refresh", "").Code == http.StatusConflict
	}, 2*time.Second, 5*time.Millisecond)
}

func seedAbsences(t *testing.T, env *testEnv) {
	t.Helper()
	comment := "parent phoned"
	_, err := env.store.UpsertRecords(context.Background(), &seqta.Feed{
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
				StudentCode:    "STU002",
				AbsenceDate:    seqta.NewDate(2026, time.March, 1),
				PeriodCode:     2,
				AttendanceCode: "absent-illness",
				Resolved:       true,
				Comments:       &comment,
				StartTime:      seqta.Clock{Hour: 9, Minute: 45},
				EndTime:        seqta.Clock{Hour: 10, Minute: 35},
			},
		},
	})
	require.NoError(t, err)
}

func TestAbsencesDefaultsToUnresolved(t *testing.T) {
	env := newTestEnv(t, Options{})
	seedAbsences(t, env)

	rec := env.do(t, http.MethodGet, "/api/absences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestAbsencesAll(t *testing.T) {
	env := newTestEnv(t, Options{})
	seedAbsences(t, env)

	rec := env.do(t, http.MethodGet, "/api/absences?all=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])
}

func TestAbsencesRejectsBadDate(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/api/absences?from=02-03-2026", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStudentSummaryNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/api/students/NOPE/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStudentSummary(t *testing.T) {
	env := newTestEnv(t, Options{})
	seedAbsences(t, env)

	rec := env.do(t, http.MethodGet, "/api/students/STU001/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "STU001", body["student_code"])
	assert.Equal(t, float64(1), body["total_records"])
}

func TestStudentSearchValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/api/students?q=a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStudentSearch(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.store.ImportStudents(context.Background(), []store.Student{
		{StudentCode: "STU001", FirstName: "Aylin", Surname: "Demir"},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/students?q=demir", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "corr-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "corr-123", rec.Header().Get("X-Request-ID"))
}
