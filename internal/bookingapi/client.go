// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package bookingapi talks to the vendor booking API. A vendor feed is
// registered like any iCal feed; only the input parser differs. The
// booking list is mapped onto the same per-day expansion path as ICS,
// so merge and display treat both origins uniformly.
package bookingapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"github.com/nordbook/calsync/internal/config"
	"github.com/nordbook/calsync/internal/fetch"
	"github.com/nordbook/calsync/internal/ics"
	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/models"
)

// Booking is one reservation as returned by the vendor API. CheckIn and
// CheckOut are dates (`2006-01-02`, check-out exclusive, hotel-night
// semantics) or RFC 3339 instants for vendors that book by the hour.
type Booking struct {
	ID        string `json:"id"`
	GuestName string `json:"guest_name"`
	CheckIn   string `json:"check_in"`
	CheckOut  string `json:"check_out"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
}

type bookingsResponse struct {
	Bookings []Booking `json:"bookings"`
}

// Client fetches booking lists from the vendor API.
//
// Thread safety: safe for concurrent use.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a vendor API client.
func NewClient(vendorCfg config.VendorConfig, fetchCfg config.FetchConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: vendorCfg.Timeout},
		userAgent:  fetchCfg.UserAgent,
	}
}

// FetchEvents retrieves the booking list for a vendor feed and returns
// canonical per-day occurrences within the window, sorted. The feed's
// URL is the vendor endpoint; APIKey and PropertyID scope the call.
func (c *Client) FetchEvents(ctx context.Context, feed models.Feed, window ics.Window) ([]models.CanonicalEvent, error) {
	bookings, err := c.listBookings(ctx, feed)
	if err != nil {
		return nil, err
	}

	var out []models.CanonicalEvent
	for _, b := range bookings {
		span, ok := bookingSpan(feed, b, window)
		if !ok {
			continue
		}
		out = append(out, ics.ExpandSpan(span, feed.OwnerUserID, feed.Color, models.OriginVendorAPI)...)
	}

	ics.SortEvents(out)
	return out, nil
}

func (c *Client) listBookings(ctx context.Context, feed models.Feed) ([]Booking, error) {
	reqURL, err := url.Parse(feed.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid vendor endpoint %q: %w", feed.URL, err)
	}
	q := reqURL.Query()
	q.Set("property_id", feed.PropertyID)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", feed.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &fetch.FetchError{Category: fetch.CategorizeTransport(err), URL: feed.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fe := &fetch.FetchError{URL: feed.URL, StatusCode: resp.StatusCode}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			fe.Category = fetch.CategoryNotFound
			fe.Err = errors.New("unknown property or endpoint")
		default:
			fe.Category = fetch.CategoryServerError
			fe.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, fe
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read vendor response: %w", err)
	}

	var parsed bookingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ics.ParseError{FeedID: feed.ID, Cause: err}
	}

	return parsed.Bookings, nil
}

// bookingSpan maps a booking onto an expansion span. Only confirmed and
// checked-in bookings block the calendar; every other status (pending,
// declined, cancelled, expired) is dropped, as are bookings entirely
// outside the window.
func bookingSpan(feed models.Feed, b Booking, window ics.Window) (ics.Span, bool) {
	if b.ID == "" {
		return ics.Span{}, false
	}
	switch b.Status {
	case "confirmed", "checked_in":
	default:
		return ics.Span{}, false
	}

	start, startAllDay, err := parseBookingTime(b.CheckIn)
	if err != nil {
		logging.Warn().Err(err).
			Str("feed_id", feed.ID).
			Str("booking_id", b.ID).
			Msg("skipping booking with bad check_in")
		return ics.Span{}, false
	}
	end, _, err := parseBookingTime(b.CheckOut)
	if err != nil {
		logging.Warn().Err(err).
			Str("feed_id", feed.ID).
			Str("booking_id", b.ID).
			Msg("skipping booking with bad check_out")
		return ics.Span{}, false
	}

	if end.Before(window.Start) || start.After(window.End) {
		return ics.Span{}, false
	}

	title := b.GuestName
	if title == "" {
		title = "Booking " + b.ID
	}

	return ics.Span{
		FeedID:      feed.ID,
		UID:         b.ID,
		Title:       title,
		Description: b.Notes,
		Start:       start,
		End:         end,
		AllDay:      startAllDay,
	}, true
}

// parseBookingTime accepts a date (all-day, check-out exclusive) or an
// RFC 3339 instant.
func parseBookingTime(v string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("unparsable booking time %q", v)
	}
	return t, false, nil
}
