// SPDX-License-Identifier: MIT

// Package seqta implements the client for the SEQTA attendance feed.
//
// The feed is served as XML: a single <response> element carrying a
// <timestamp> and one <data> child per absence record.
package seqta

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Date is a calendar day in the feed's YYYY-MM-DD wire format.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.Format("2006-01-02")), nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Clock is a time of day in the feed's HH:MM:SS wire format.
type Clock struct {
	Hour, Minute, Second int
}

// UnmarshalText implements encoding.TextUnmarshaler. Both HH:MM:SS and HH:MM
// appear in the wild.
func (c *Clock) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	var h, m, sec int
	switch n, _ := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); n {
	case 3:
	case 2:
		sec = 0
	default:
		return fmt.Errorf("invalid time of day %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return fmt.Errorf("time of day out of range %q", s)
	}
	c.Hour, c.Minute, c.Second = h, m, sec
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Record is one absence entry from the feed.
type Record struct {
	StudentCode        string  `xml:"student_code" json:"student_code"`
	AbsenceDate        Date    `xml:"absence_date" json:"absence_date"`
	PeriodCode         int     `xml:"period_code" json:"period_code"`
	AttendanceCode     string  `xml:"attendance_code" json:"attendance_code"`
	TriggerAbsenteeSMS bool    `xml:"trigger_absentee_sms" json:"trigger_absentee_sms"`
	ConsideredLate     bool    `xml:"considered_late" json:"considered_late"`
	Resolved           bool    `xml:"resolved" json:"resolved"`
	OnCampus           bool    `xml:"on_campus" json:"on_campus"`
	Authorised         bool    `xml:"authorised" json:"authorised"`
	StartTime          Clock   `xml:"start_time" json:"start_time"`
	EndTime            Clock   `xml:"end_time" json:"end_time"`
	Comments           *string `xml:"comments" json:"comments,omitempty"`
}

// Key identifies a record within the store: re-fetching a window must be
// idempotent, so identity excludes the mutable flags and comments.
func (r Record) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s", r.StudentCode, r.AbsenceDate, r.PeriodCode, r.StartTime)
}

// Validate rejects records the store could not key.
func (r Record) Validate() error {
	if strings.TrimSpace(r.StudentCode) == "" {
		return fmt.Errorf("record has empty student_code")
	}
	if r.AbsenceDate.IsZero() {
		return fmt.Errorf("record for student %s has no absence_date", r.StudentCode)
	}
	if r.AttendanceCode == "" {
		return fmt.Errorf("record for student %s on %s has empty attendance_code", r.StudentCode, r.AbsenceDate)
	}
	return nil
}

// Feed is the decoded attendance response.
type Feed struct {
	Timestamp string
	Records   []Record
}

type wireResponse struct {
	XMLName   xml.Name `xml:"response"`
	Timestamp string   `xml:"timestamp"`
	Data      []Record `xml:"data"`
}

// decodeFeed parses the XML body of an attendance response.
func decodeFeed(body []byte) (*Feed, error) {
	var wire wireResponse
	if err := xml.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	for i, rec := range wire.Data {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return &Feed{Timestamp: wire.Timestamp, Records: wire.Data}, nil
}
