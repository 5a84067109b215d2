// SPDX-License-Identifier: MIT
package seqta

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockServer provides a configurable SEQTA feed mock for testing.
type MockServer struct {
	*httptest.Server
	mu       sync.RWMutex
	records  []Record
	username string
	password string
	delay    time.Duration
	failures int // number of 500s before success
	requests int
}

// NewMockServer creates a feed mock with default test data.
func NewMockServer() *MockServer {
	mock := &MockServer{
		username: "mgm",
		password: "test-password",
	}
	mock.SetDefaultData()

	mux := http.NewServeMux()
	mux.HandleFunc("/mgm/attendance", mock.handleAttendance)
	mock.Server = httptest.NewServer(mux)
	return mock
}

// SetDefaultData sets up realistic test data.
func (m *MockServer) SetDefaultData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment := "Parent phoned ahead"
	m.records = []Record{
		{
			StudentCode:    "STU001",
			AbsenceDate:    NewDate(2024, 11, 11),
			PeriodCode:     1,
			AttendanceCode: "unexplained",
			StartTime:      Clock{Hour: 9},
			EndTime:        Clock{Hour: 9, Minute: 50},
		},
		{
			StudentCode:    "STU002",
			AbsenceDate:    NewDate(2024, 11, 11),
			PeriodCode:     3,
			AttendanceCode: "absenceapproved_illness",
			Resolved:       true,
			Authorised:     true,
			StartTime:      Clock{Hour: 11, Minute: 10},
			EndTime:        Clock{Hour: 12},
			Comments:       &comment,
		},
		{
			StudentCode:    "STU001",
			AbsenceDate:    NewDate(2024, 11, 12),
			PeriodCode:     2,
			AttendanceCode: "late",
			ConsideredLate: true,
			OnCampus:       true,
			StartTime:      Clock{Hour: 10},
			EndTime:        Clock{Hour: 10, Minute: 50},
		},
	}
}

// SetRecords replaces the record set served by the mock.
func (m *MockServer) SetRecords(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// SetCredentials changes the basic auth pair the mock accepts.
func (m *MockServer) SetCredentials(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.username, m.password = username, password
}

// SetDelay adds artificial latency to every response.
func (m *MockServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetFailures makes the next n requests fail with HTTP 500.
func (m *MockServer) SetFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Requests reports how many feed requests the mock has served.
func (m *MockServer) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests
}

func (m *MockServer) handleAttendance(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	delay := m.delay
	fail := m.failures > 0
	if fail {
		m.failures--
	}
	username, password := m.username, m.password
	records := make([]Record, len(m.records))
	copy(records, m.records)
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != username || pass != password {
		w.Header().Set("WWW-Authenticate", `Basic realm="seqta"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if fail {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Honour the ?date= filter the way the real feed does.
	var since Date
	if q := r.URL.Query().Get("date"); q != "" {
		if err := since.UnmarshalText([]byte(q)); err != nil {
			http.Error(w, "bad date", http.StatusBadRequest)
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if !rec.AbsenceDate.Before(since.Time) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	wire := wireResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      records,
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, xml.Header)
	if err := xml.NewEncoder(w).Encode(wire); err != nil {
		// Client saw a partial body; nothing more to do.
		return
	}
}
