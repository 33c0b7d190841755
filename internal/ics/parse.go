// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package ics normalizes iCal/ICS payloads into canonical events:
// parse, TEXT unescaping, date-window horizon filtering, recurrence
// expansion and per-day multi-day expansion with stable derived ids.
// It also exports local-origin events back to ICS.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/nordbook/calsync/internal/logging"
)

// ParseError wraps any failure turning a feed payload into events.
// Sync runs treat it as a feed-level failure: the feed's previous cache
// entry stays untouched and other feeds are unaffected.
type ParseError struct {
	FeedID string
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.FeedID, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// RawEvent is one VEVENT as parsed, before horizon filtering and
// expansion. Text fields are already unescaped.
type RawEvent struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	RawRRule    string
	ExDates     []time.Time
}

// Parse parses an ICS payload into raw events. A VEVENT that cannot be
// parsed is skipped with a warning; one broken event must not take the
// whole feed down.
func Parse(body []byte) ([]RawEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]RawEvent, 0, len(cal.Events()))
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			logging.Warn().Err(perr).Msg("skipping unparsable VEVENT")
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func parseVEvent(ve *ical.VEvent) (RawEvent, error) {
	var out RawEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = UnescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = UnescapeText(p.Value)
	}

	// All-day when DTSTART carries VALUE=DATE or a date-only value.
	allDay := false
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				allDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			allDay = true
		}
	}
	out.AllDay = allDay

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("event %s: bad DTSTART: %w", out.UID, err)
	}
	out.Start = start

	end, err := ve.GetEndAt()
	if err != nil {
		// DTEND is optional; an all-day event without one covers a
		// single day, a timed one is treated as an instant.
		if allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start
		}
	}
	out.End = end

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// parseICSTime parses a basic ICS date or date-time value. Used for
// EXDATE where full parameter context is not needed.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}
