// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package testinfra provides test infrastructure shared by integration
// style tests: a fake upstream server that plays the role of an iCal
// provider and a vendor booking API, with controllable failure modes
// and request capture.
package testinfra

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Capture records one request received by the fake upstream.
type Capture struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
}

// FeedServer is a fake calendar upstream. Register ICS documents under
// paths and booking payloads under property IDs, then point feeds at
// URL(). Paths can be forced to fail with a fixed status to exercise
// retry and circuit breaker behavior.
type FeedServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	icsDocs  map[string][]byte
	bookings map[string][]byte
	failures map[string]int
	captures []Capture
}

// NewFeedServer starts the fake upstream. It is closed automatically
// when the test finishes.
func NewFeedServer(t *testing.T) *FeedServer {
	t.Helper()

	f := &FeedServer{
		icsDocs:  make(map[string][]byte),
		bookings: make(map[string][]byte),
		failures: make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

// URL returns the upstream base URL.
func (f *FeedServer) URL() string {
	return f.srv.URL
}

// ServeICS registers an ICS document under a path.
func (f *FeedServer) ServeICS(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.icsDocs[path] = body
	delete(f.failures, path)
}

// ServeBookings registers a vendor booking payload for a property.
// Payloads are served from /bookings keyed by the property_id query
// parameter.
func (f *FeedServer) ServeBookings(propertyID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[propertyID] = payload
}

// FailWith makes a path answer with a fixed status until it is
// re-registered.
func (f *FeedServer) FailWith(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = status
}

// Requests returns a copy of all captured requests.
func (f *FeedServer) Requests() []Capture {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Capture, len(f.captures))
	copy(out, f.captures)
	return out
}

// RequestCount returns the number of requests seen for a path.
func (f *FeedServer) RequestCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.captures {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (f *FeedServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
	}

	query := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}

	f.mu.Lock()
	f.captures = append(f.captures, Capture{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  query,
		Header: r.Header.Clone(),
	})
	status, failing := f.failures[r.URL.Path]
	icsBody, hasICS := f.icsDocs[r.URL.Path]
	var bookingBody []byte
	var hasBookings bool
	if r.URL.Path == "/bookings" {
		bookingBody, hasBookings = f.bookings[query["property_id"]]
	}
	f.mu.Unlock()

	switch {
	case failing:
		w.WriteHeader(status)
	case hasICS:
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		_, _ = w.Write(icsBody)
	case hasBookings:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(bookingBody)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
