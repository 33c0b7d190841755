// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nordbook/calsync/internal/models"
	"github.com/nordbook/calsync/internal/validation"
)

// maxRequestBody bounds request body reads.
const maxRequestBody = 1 << 20

// CreateFeedRequest registers a new external calendar feed.
type CreateFeedRequest struct {
	UserID      string `json:"userId" validate:"required"`
	URL         string `json:"url" validate:"required,url"`
	DisplayName string `json:"displayName" validate:"max=120"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
	Kind        string `json:"kind" validate:"required,oneof=ical vendor-api"`
	APIKey      string `json:"apiKey" validate:"required_if=Kind vendor-api"`
	PropertyID  string `json:"propertyId" validate:"required_if=Kind vendor-api"`
	Enabled     *bool  `json:"enabled"`
}

// ToFeed converts the request into a feed with a fresh ID. Feeds are
// enabled unless the request says otherwise.
func (req *CreateFeedRequest) ToFeed() *models.Feed {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &models.Feed{
		ID:          uuid.New().String(),
		OwnerUserID: req.UserID,
		URL:         req.URL,
		DisplayName: req.DisplayName,
		Color:       req.Color,
		Kind:        models.FeedKind(req.Kind),
		APIKey:      req.APIKey,
		PropertyID:  req.PropertyID,
		Enabled:     enabled,
	}
}

// CreateEventRequest creates a local calendar event.
type CreateEventRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"max=5000"`
	Start       string `json:"start" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	End         string `json:"end" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	AllDay      bool   `json:"allDay"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
}

// ToEvent converts the request into a local-origin canonical event.
func (req *CreateEventRequest) ToEvent() (*models.CanonicalEvent, error) {
	start, end, err := parseEventTimes(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	return &models.CanonicalEvent{
		OwnerUserID: req.UserID,
		Title:       req.Title,
		Description: req.Description,
		StartTime:   start,
		EndTime:     end,
		AllDay:      req.AllDay,
		Color:       req.Color,
		OriginKind:  models.OriginLocal,
	}, nil
}

// UpdateEventRequest mutates an existing local event. The owner and
// origin of the stored event are preserved.
type UpdateEventRequest struct {
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"max=5000"`
	Start       string `json:"start" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	End         string `json:"end" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	AllDay      bool   `json:"allDay"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
}

// Apply overlays the request onto a stored event.
func (req *UpdateEventRequest) Apply(ev *models.CanonicalEvent) error {
	start, end, err := parseEventTimes(req.Start, req.End)
	if err != nil {
		return err
	}
	ev.Title = req.Title
	ev.Description = req.Description
	ev.StartTime = start
	ev.EndTime = end
	ev.AllDay = req.AllDay
	ev.Color = req.Color
	return nil
}

var errEndBeforeStart = errors.New("end must not be before start")

func parseEventTimes(startRaw, endRaw string) (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errEndBeforeStart
	}
	return start, end, nil
}

// decodeAndValidate reads a JSON request body into dst and runs struct
// validation. On failure it writes the error response and returns false.
func decodeAndValidate(rw *ResponseWriter, r *http.Request, dst interface{}) bool {
	body := io.LimitReader(r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		rw.BadRequest("invalid JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return false
	}
	return true
}
