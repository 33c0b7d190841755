// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/nordbook/calsync/internal/models"
)

const prodID = "-//Nordbook//Calsync//EN"

// Export serializes local-origin events to an ICS document so users can
// subscribe to their own blocks from external calendar apps. UIDs are
// stable across exports (derived from the event id).
func Export(events []models.CanonicalEvent, calendarName string) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	if calendarName != "" {
		cal.SetName(calendarName)
	}

	now := time.Now().UTC()
	for _, ev := range events {
		ve := cal.AddEvent(ev.ID + "@calsync.nordbook.se")
		ve.SetDtStampTime(now)

		if ev.AllDay {
			ve.SetAllDayStartAt(ev.StartTime)
			// Exclusive DTEND: day after the last covered day.
			ve.SetAllDayEndAt(dayOf(ev.EndTime).AddDate(0, 0, 1))
		} else {
			ve.SetStartAt(ev.StartTime)
			ve.SetEndAt(ev.EndTime)
		}

		ve.SetSummary(EscapeText(ev.Title))
		if ev.Description != "" {
			ve.SetDescription(EscapeText(ev.Description))
		}
	}

	return []byte(cal.Serialize())
}
