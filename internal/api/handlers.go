// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sirius-college/attendance-monitoring/internal/jobs"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealthz reports liveness. It succeeds as long as the process serves.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.opts.Version,
	})
}

// handleReadyz reports readiness: the store must answer, and in strict mode
// the upstream feed must too.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok"}
	ready := true

	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	}

	if s.opts.ReadyStrict && s.deps.FeedPing != nil {
		checks["feed"] = "ok"
		if err := s.deps.FeedPing(ctx); err != nil {
			checks["feed"] = "unreachable"
			ready = false
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

type statusResponse struct {
	Version    string      `json:"version"`
	UptimeSecs int64       `json:"uptime_seconds"`
	Refreshing bool        `json:"refreshing"`
	LastRun    jobs.Status `json:"last_run"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Version:    s.opts.Version,
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
		Refreshing: s.deps.Refresher.Running(),
		LastRun:    s.deps.Refresher.Status(),
	})
}

// handleRefresh starts a refresh cycle in the background. A cycle already in
// flight yields 409 rather than queueing.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher.Running() {
		writeError(w, http.StatusConflict, "refresh already in progress")
		return
	}

	go func() {
		// Detached from the request: the cycle outlives the HTTP exchange.
		if err := s.deps.Refresher.Run(context.Background()); err != nil && !errors.Is(err, jobs.ErrRefreshInProgress) {
			s.logger.Error().
				Str("event", "api.refresh_failed").
				Err(err).
				Msg("manual refresh failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}

func (s *Server) handleAbsences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.AbsenceFilter
	if v := q.Get("from"); v != "" {
		if err := filter.From.UnmarshalText([]byte(v)); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date, want YYYY-MM-DD")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if err := filter.To.UnmarshalText([]byte(v)); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date, want YYYY-MM-DD")
			return
		}
	}
	filter.StudentCode = strings.TrimSpace(q.Get("student"))
	// Default view is the followup list; all=true includes resolved and
	// pre-approved records.
	filter.Unresolved = q.Get("all") != "true"
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	absences, err := s.deps.Store.Absences(r.Context(), filter)
	if err != nil {
		s.logger.Error().Str("event", "api.absences_failed").Err(err).Msg("absence query failed")
		writeError(w, http.StatusInternalServerError, "absence query failed")
		return
	}
	if absences == nil {
		absences = []store.Absence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(absences),
		"absences": absences,
	})
}

func (s *Server) handleStudentSummary(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing student code")
		return
	}

	sum, err := s.deps.Store.Summary(r.Context(), code, seqta.DateOf(time.Now()))
	if err != nil {
		s.logger.Error().Str("event", "api.summary_failed").Err(err).Msg("summary query failed")
		writeError(w, http.StatusInternalServerError, "summary query failed")
		return
	}
	if sum.Student == nil && sum.Total == 0 {
		writeError(w, http.StatusNotFound, "unknown student")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleStudentSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		writeError(w, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	students, err := s.deps.Store.SearchStudents(r.Context(), q, limit)
	if err != nil {
		s.logger.Error().Str("event", "api.search_failed").Err(err).Msg("student search failed")
		writeError(w, http.StatusInternalServerError, "student search failed")
		return
	}
	if students == nil {
		students = []store.Student{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(students),
		"students": students,
	})
}
