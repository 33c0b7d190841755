// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/nordbook/calsync/internal/models"
)

var testWindow = Window{
	Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
}

var testFeed = models.Feed{
	ID:          "feed1",
	OwnerUserID: "u1",
	Kind:        models.FeedKindICal,
}

func icsDoc(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Test//EN\r\n")
	for _, ev := range events {
		b.WriteString(ev)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain title",
		`semi; comma, back\slash`,
		"line\nbreak",
		`all\; of, it\n together`,
	}
	for _, in := range cases {
		if got := UnescapeText(EscapeText(in)); got != in {
			t.Errorf("round trip %q -> %q", in, got)
		}
	}
}

func TestUnescapeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{`Dinner\, then drinks`, "Dinner, then drinks"},
		{`a\;b`, "a;b"},
		{`a\\b`, `a\b`},
		{`line\nnext`, "line\nnext"},
		{`line\Nnext`, "line\nnext"},
		{`trailing\`, `trailing\`},
		{"none", "none"},
	}
	for _, tt := range tests {
		if got := UnescapeText(tt.in); got != tt.want {
			t.Errorf("UnescapeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseUnescapesText(t *testing.T) {
	body := icsDoc("BEGIN:VEVENT\r\nUID:u1\r\nSUMMARY:Guest stay\\, late arrival\r\nDTSTART:20250610T220000Z\r\nDTEND:20250610T230000Z\r\nEND:VEVENT\r\n")

	events, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Summary != "Guest stay, late arrival" {
		t.Errorf("summary = %q, want unescaped comma", events[0].Summary)
	}
}

func TestParseSkipsEventWithoutUID(t *testing.T) {
	body := icsDoc(
		"BEGIN:VEVENT\r\nSUMMARY:No uid\r\nDTSTART:20250610T220000Z\r\nDTEND:20250610T230000Z\r\nEND:VEVENT\r\n",
		"BEGIN:VEVENT\r\nUID:ok\r\nSUMMARY:Fine\r\nDTSTART:20250611T100000Z\r\nDTEND:20250611T110000Z\r\nEND:VEVENT\r\n",
	)

	events, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].UID != "ok" {
		t.Errorf("got %v, want only the event with a UID", events)
	}
}

func TestParseEmptyBody(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestNormalizeMultiDayTimedSplit(t *testing.T) {
	// 2025-06-10 22:00 UTC through 2025-06-12 02:00 UTC spans three
	// calendar days and must become three occurrences.
	body := icsDoc("BEGIN:VEVENT\r\nUID:stay42\r\nSUMMARY:Long stay\r\nDTSTART:20250610T220000Z\r\nDTEND:20250612T020000Z\r\nEND:VEVENT\r\n")

	events, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(events))
	}

	first, mid, last := events[0], events[1], events[2]

	if first.ID != "feed1-stay42-2025-06-10" {
		t.Errorf("first id = %q", first.ID)
	}
	if !first.StartTime.Equal(time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC)) {
		t.Errorf("first start = %v, want original start", first.StartTime)
	}
	if first.EndTime.Hour() != 23 || first.EndTime.Minute() != 59 || first.EndTime.Second() != 59 {
		t.Errorf("first end = %v, want 23:59:59", first.EndTime)
	}
	if first.Continuation {
		t.Error("first day must not be a continuation")
	}

	if mid.ID != "feed1-stay42-2025-06-11" {
		t.Errorf("mid id = %q", mid.ID)
	}
	if mid.StartTime.Hour() != 0 || mid.EndTime.Hour() != 23 {
		t.Errorf("interior day should span the full day, got %v-%v", mid.StartTime, mid.EndTime)
	}
	if !mid.Continuation {
		t.Error("interior day must be a continuation")
	}

	if last.ID != "feed1-stay42-2025-06-12" {
		t.Errorf("last id = %q", last.ID)
	}
	if last.StartTime.Hour() != 0 {
		t.Errorf("last start = %v, want midnight", last.StartTime)
	}
	if !last.EndTime.Equal(time.Date(2025, 6, 12, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("last end = %v, want original end", last.EndTime)
	}
	if !last.Continuation {
		t.Error("last day must be a continuation")
	}
}

func TestNormalizeAllDayExclusiveEnd(t *testing.T) {
	// DTSTART 2025-07-01, DTEND 2025-07-05 (exclusive): covers the 1st
	// through the 4th, four occurrences.
	body := icsDoc("BEGIN:VEVENT\r\nUID:rental\r\nSUMMARY:Cabin rental\r\nDTSTART;VALUE=DATE:20250701\r\nDTEND;VALUE=DATE:20250705\r\nEND:VEVENT\r\n")

	events, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d occurrences, want 4", len(events))
	}

	wantIDs := []string{
		"feed1-rental-2025-07-01",
		"feed1-rental-2025-07-02",
		"feed1-rental-2025-07-03",
		"feed1-rental-2025-07-04",
	}
	for i, want := range wantIDs {
		if events[i].ID != want {
			t.Errorf("event[%d].ID = %q, want %q", i, events[i].ID, want)
		}
		if !events[i].AllDay {
			t.Errorf("event[%d] should be all-day", i)
		}
		if events[i].Title != "Cabin rental" {
			t.Errorf("event[%d].Title = %q", i, events[i].Title)
		}
	}
	if events[0].Continuation {
		t.Error("first day must not be a continuation")
	}
	if !events[3].Continuation {
		t.Error("last day must be a continuation")
	}
}

func TestNormalizeSingleDayEventUnsplit(t *testing.T) {
	body := icsDoc("BEGIN:VEVENT\r\nUID:short\r\nSUMMARY:Cleaning\r\nDTSTART:20250610T090000Z\r\nDTEND:20250610T110000Z\r\nEND:VEVENT\r\n")

	events, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(events))
	}
	ev := events[0]
	if !ev.StartTime.Equal(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)) ||
		!ev.EndTime.Equal(time.Date(2025, 6, 10, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("times changed for single-day event: %v-%v", ev.StartTime, ev.EndTime)
	}
}

func TestNormalizeMidnightEndBelongsToPreviousDay(t *testing.T) {
	body := icsDoc("BEGIN:VEVENT\r\nUID:m\r\nSUMMARY:Night stay\r\nDTSTART:20250610T180000Z\r\nDTEND:20250611T000000Z\r\nEND:VEVENT\r\n")

	events, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d occurrences, want 1 (midnight end is not a new day)", len(events))
	}
}

func TestNormalizeHorizonFilter(t *testing.T) {
	body := icsDoc(
		"BEGIN:VEVENT\r\nUID:past\r\nSUMMARY:Ancient\r\nDTSTART:20200101T100000Z\r\nDTEND:20200101T110000Z\r\nEND:VEVENT\r\n",
		"BEGIN:VEVENT\r\nUID:future\r\nSUMMARY:Distant\r\nDTSTART:20300101T100000Z\r\nDTEND:20300101T110000Z\r\nEND:VEVENT\r\n",
		"BEGIN:VEVENT\r\nUID:now\r\nSUMMARY:Current\r\nDTSTART:20250610T100000Z\r\nDTEND:20250610T110000Z\r\nEND:VEVENT\r\n",
	)

	events, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Current" {
		t.Errorf("got %v, want only the in-horizon event", events)
	}
}

func TestNormalizeRecurrence(t *testing.T) {
	// Weekly for 4 occurrences, one excluded.
	body := icsDoc("BEGIN:VEVENT\r\nUID:rec\r\nSUMMARY:Weekly clean\r\nDTSTART:20250602T080000Z\r\nDTEND:20250602T090000Z\r\nRRULE:FREQ=WEEKLY;COUNT=4\r\nEXDATE:20250616T080000Z\r\nEND:VEVENT\r\n")

	events, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d occurrences, want 3 (4 minus EXDATE)", len(events))
	}
	for _, ev := range events {
		if ev.StartTime.Weekday() != time.Monday {
			t.Errorf("occurrence on %v, want Monday", ev.StartTime.Weekday())
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	body := icsDoc(
		"BEGIN:VEVENT\r\nUID:b\r\nSUMMARY:B\r\nDTSTART:20250610T100000Z\r\nDTEND:20250610T110000Z\r\nEND:VEVENT\r\n",
		"BEGIN:VEVENT\r\nUID:a\r\nSUMMARY:A\r\nDTSTART:20250610T100000Z\r\nDTEND:20250610T110000Z\r\nEND:VEVENT\r\n",
	)

	first, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	second, err := Normalize(body, testFeed, testWindow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("order differs at %d: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
	// Equal start times tie-break on id.
	if first[0].ID >= first[1].ID {
		t.Errorf("expected id tie-break ordering, got %q before %q", first[0].ID, first[1].ID)
	}
}

func TestExportRoundTrip(t *testing.T) {
	events := []models.CanonicalEvent{
		{
			ID:          "local-1",
			OwnerUserID: "u1",
			Title:       "Family visit, maybe",
			Description: "Check; the heating",
			StartTime:   time.Date(2025, 8, 1, 14, 0, 0, 0, time.UTC),
			EndTime:     time.Date(2025, 8, 1, 18, 0, 0, 0, time.UTC),
			OriginKind:  models.OriginLocal,
		},
	}

	data := Export(events, "My blocks")
	if !strings.Contains(string(data), "BEGIN:VCALENDAR") {
		t.Fatal("expected VCALENDAR output")
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("re-parse exported ICS: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("got %d events, want 1", len(parsed))
	}
	if parsed[0].Summary != "Family visit, maybe" {
		t.Errorf("summary = %q, escaping not symmetric", parsed[0].Summary)
	}
	if parsed[0].Description != "Check; the heating" {
		t.Errorf("description = %q, escaping not symmetric", parsed[0].Description)
	}
	if parsed[0].UID != "local-1@calsync.nordbook.se" {
		t.Errorf("uid = %q, want stable derived uid", parsed[0].UID)
	}
}
