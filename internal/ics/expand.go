// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package ics

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/models"
)

// maxOccurrencesPerEvent caps recurrence expansion so a malformed or
// hostile RRULE cannot blow up memory.
const maxOccurrencesPerEvent = 5000

// Window is the date horizon events must intersect to be kept.
// Events entirely outside it are dropped before expansion.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the instant t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Span is one contiguous event span prior to per-day expansion.
type Span struct {
	FeedID      string
	UID         string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Normalize turns a raw ICS payload into canonical events for a feed:
// parse, horizon filter, recurrence expansion, per-day splitting.
// The result is sorted by start time then id, so equal inputs always
// produce an identical slice.
func Normalize(body []byte, feed models.Feed, window Window) ([]models.CanonicalEvent, error) {
	raw, err := Parse(body)
	if err != nil {
		return nil, &ParseError{FeedID: feed.ID, Cause: err}
	}

	var out []models.CanonicalEvent
	for _, ev := range raw {
		out = append(out, expandEvent(feed, ev, window)...)
	}

	SortEvents(out)
	return out, nil
}

// SortEvents orders events by start time, then id, for deterministic
// output across runs.
func SortEvents(events []models.CanonicalEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.Before(events[j].StartTime)
		}
		return events[i].ID < events[j].ID
	})
}

// expandEvent produces all per-day occurrences of one raw event that
// fall within the window.
func expandEvent(feed models.Feed, ev RawEvent, window Window) []models.CanonicalEvent {
	spans := eventSpans(feed.ID, ev, window)

	var out []models.CanonicalEvent
	for _, span := range spans {
		out = append(out, ExpandSpan(span, feed.OwnerUserID, feed.Color, models.OriginICal)...)
	}
	return out
}

// eventSpans resolves recurrence into concrete spans within the window.
func eventSpans(feedID string, ev RawEvent, window Window) []Span {
	base := Span{
		FeedID:      feedID,
		UID:         ev.UID,
		Title:       ev.Summary,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
		AllDay:      ev.AllDay,
	}

	if ev.RawRRule == "" {
		// Horizon filter: the span must intersect the window.
		if ev.End.Before(window.Start) || ev.Start.After(window.End) {
			return nil
		}
		return []Span{base}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		logging.Warn().Err(err).
			Str("feed_id", feedID).
			Str("uid", ev.UID).
			Msg("unparsable RRULE, keeping base occurrence only")
		if ev.End.Before(window.Start) || ev.Start.After(window.End) {
			return nil
		}
		return []Span{base}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := window.Start.In(ev.Start.Location())
	rangeEnd := window.End.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	if len(occTimes) > maxOccurrencesPerEvent {
		logging.Warn().
			Str("feed_id", feedID).
			Str("uid", ev.UID).
			Int("cap", maxOccurrencesPerEvent).
			Msg("recurrence expansion truncated at cap")
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	duration := ev.End.Sub(ev.Start)
	spans := make([]Span, 0, len(occTimes))
	for _, occStart := range occTimes {
		span := base
		span.Start = occStart
		span.End = occStart.Add(duration)
		spans = append(spans, span)
	}
	return spans
}

// ExpandSpan splits a span into per-day canonical occurrences with
// stable derived ids (`feedID-uid-YYYY-MM-DD`).
//
// Timed spans split at local calendar-day boundaries: the first day
// keeps the original start and ends 23:59:59, interior days span
// 00:00:00-23:59:59, the last day starts 00:00:00 and keeps the
// original end. All-day spans use DATE semantics with exclusive end
// (DTSTART 07-01 / DTEND 07-05 covers the 1st through the 4th). Days
// after the first carry Continuation.
func ExpandSpan(s Span, ownerUserID, color string, origin models.OriginKind) []models.CanonicalEvent {
	if s.AllDay {
		return expandAllDaySpan(s, ownerUserID, color, origin)
	}
	return expandTimedSpan(s, ownerUserID, color, origin)
}

func expandAllDaySpan(s Span, ownerUserID, color string, origin models.OriginKind) []models.CanonicalEvent {
	loc := s.Start.Location()
	firstDay := dayOf(s.Start)
	// Exclusive DTEND: the last covered day is the day before End.
	lastDay := dayOf(s.End).AddDate(0, 0, -1)
	if lastDay.Before(firstDay) {
		lastDay = firstDay
	}

	var out []models.CanonicalEvent
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		out = append(out, models.CanonicalEvent{
			ID:           occurrenceID(s.FeedID, s.UID, day),
			OwnerUserID:  ownerUserID,
			Title:        s.Title,
			Description:  s.Description,
			StartTime:    time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc),
			EndTime:      time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, loc),
			AllDay:       true,
			Color:        color,
			OriginKind:   origin,
			OriginRef:    s.FeedID,
			Continuation: !day.Equal(firstDay),
		})
	}
	return out
}

func expandTimedSpan(s Span, ownerUserID, color string, origin models.OriginKind) []models.CanonicalEvent {
	loc := s.Start.Location()
	end := s.End
	if end.Before(s.Start) {
		end = s.Start
	}

	firstDay := dayOf(s.Start)
	lastDay := dayOf(end.In(loc))
	// An end exactly at midnight belongs to the previous day.
	if isMidnight(end.In(loc)) && lastDay.After(firstDay) {
		lastDay = lastDay.AddDate(0, 0, -1)
		end = time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), 23, 59, 59, 0, loc)
	}

	var out []models.CanonicalEvent
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		stop := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, loc)
		if day.Equal(firstDay) {
			start = s.Start
		}
		if day.Equal(lastDay) {
			stop = end.In(loc)
		}

		out = append(out, models.CanonicalEvent{
			ID:           occurrenceID(s.FeedID, s.UID, day),
			OwnerUserID:  ownerUserID,
			Title:        s.Title,
			Description:  s.Description,
			StartTime:    start,
			EndTime:      stop,
			Color:        color,
			OriginKind:   origin,
			OriginRef:    s.FeedID,
			Continuation: !day.Equal(firstDay),
		})
	}
	return out
}

// occurrenceID derives the stable per-day id. Re-syncing the same feed
// always reproduces the same ids, which is what makes merge idempotent.
func occurrenceID(feedID, uid string, day time.Time) string {
	return fmt.Sprintf("%s-%s-%s", feedID, uid, day.Format("2006-01-02"))
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
