// SPDX-License-Identifier: MIT
package seqta

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<response>
  <timestamp>2024-11-18T07:30:00+11:00</timestamp>
  <data>
    <student_code>STU001</student_code>
    <absence_date>2024-11-11</absence_date>
    <period_code>1</period_code>
    <attendance_code>unexplained</attendance_code>
    <trigger_absentee_sms>true</trigger_absentee_sms>
    <considered_late>false</considered_late>
    <resolved>false</resolved>
    <on_campus>false</on_campus>
    <authorised>false</authorised>
    <start_time>09:00:00</start_time>
    <end_time>09:50:00</end_time>
  </data>
  <data>
    <student_code>STU002</student_code>
    <absence_date>2024-11-12</absence_date>
    <period_code>4</period_code>
    <attendance_code>absenceapproved_illness</attendance_code>
    <trigger_absentee_sms>false</trigger_absentee_sms>
    <considered_late>false</considered_late>
    <resolved>true</resolved>
    <on_campus>false</on_campus>
    <authorised>true</authorised>
    <start_time>12:10</start_time>
    <end_time>13:00</end_time>
    <comments>Medical certificate provided</comments>
  </data>
</response>`

func TestDecodeFeed(t *testing.T) {
	feed, err := decodeFeed([]byte(sampleFeed))
	if err != nil {
		t.Fatalf("decodeFeed() error: %v", err)
	}
	if feed.Timestamp != "2024-11-18T07:30:00+11:00" {
		t.Errorf("Timestamp = %q", feed.Timestamp)
	}
	if len(feed.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(feed.Records))
	}

	comment := "Medical certificate provided"
	want := Record{
		StudentCode:    "STU002",
		AbsenceDate:    NewDate(2024, 11, 12),
		PeriodCode:     4,
		AttendanceCode: "absenceapproved_illness",
		Resolved:       true,
		Authorised:     true,
		StartTime:      Clock{Hour: 12, Minute: 10},
		EndTime:        Clock{Hour: 13},
		Comments:       &comment,
	}
	if diff := cmp.Diff(want, feed.Records[1]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	first := feed.Records[0]
	if !first.TriggerAbsenteeSMS {
		t.Error("trigger_absentee_sms not decoded")
	}
	if first.Comments != nil {
		t.Errorf("Comments = %v, want nil when absent", *first.Comments)
	}
}

func TestDecodeFeedRejectsBrokenRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not xml", "{}", ""},
		{
			"missing student code",
			`<response><timestamp>t</timestamp><data><absence_date>2024-01-01</absence_date><attendance_code>x</attendance_code></data></response>`,
			"student_code",
		},
		{
			"missing date",
			`<response><timestamp>t</timestamp><data><student_code>S</student_code><attendance_code>x</attendance_code></data></response>`,
			"absence_date",
		},
		{
			"bad date",
			`<response><timestamp>t</timestamp><data><student_code>S</student_code><absence_date>11/11/2024</absence_date><attendance_code>x</attendance_code></data></response>`,
			"invalid date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFeed([]byte(tt.body))
			if err == nil {
				t.Fatal("decodeFeed() accepted malformed feed")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestClockParsing(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{"09:05:30", Clock{9, 5, 30}, false},
		{"23:59", Clock{23, 59, 0}, false},
		{"24:00:00", Clock{}, true},
		{"nine", Clock{}, true},
		{"09:61", Clock{}, true},
	}
	for _, tt := range tests {
		var c Clock
		err := c.UnmarshalText([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && c != tt.want {
			t.Errorf("UnmarshalText(%q) = %+v, want %+v", tt.in, c, tt.want)
		}
	}
	if got := (Clock{9, 5, 0}).String(); got != "09:05:00" {
		t.Errorf("Clock.String() = %q", got)
	}
}

func TestRecordKeyStability(t *testing.T) {
	rec := Record{
		StudentCode:    "STU001",
		AbsenceDate:    NewDate(2024, 11, 11),
		PeriodCode:     1,
		AttendanceCode: "unexplained",
		StartTime:      Clock{Hour: 9},
	}
	resolved := rec
	resolved.Resolved = true
	resolved.AttendanceCode = "absenceapproved_illness"
	if rec.Key() != resolved.Key() {
		t.Error("Key() must be stable across flag/code changes so upserts resolve in place")
	}
}
