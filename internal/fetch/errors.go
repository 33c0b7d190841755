// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCategory classifies upstream fetch failures for metrics and for
// user-facing sync status.
type ErrorCategory string

const (
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryNotFound          ErrorCategory = "not-found"
	CategoryConnectionRefused ErrorCategory = "connection-refused"
	CategoryServerError       ErrorCategory = "server-error"
	CategoryEmptyBody         ErrorCategory = "empty-body"
)

// FetchError is a categorized upstream fetch failure. StatusCode is zero
// when the request never produced an HTTP response.
type FetchError struct {
	Category   ErrorCategory
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Category, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CategorizeTransport maps an error from the HTTP transport itself
// (no response received) to a fetch category. Anything that is not a
// timeout counts as a connection failure.
func CategorizeTransport(err error) ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	return CategoryConnectionRefused
}
