// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package fetch downloads raw calendar payloads from upstream
// providers. Each host gets its own rate limiter and circuit breaker so
// one slow or failing provider cannot starve the rest.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nordbook/calsync/internal/config"
	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/metrics"
)

// maxBodySize caps how much of an upstream response is read. Calendar
// feeds are text; anything past this is a broken or hostile endpoint.
const maxBodySize = 10 << 20

// Fetcher downloads feed payloads over HTTP.
//
// Thread safety: safe for concurrent use. Limiters and breakers are
// created lazily per host under a mutex.
type Fetcher struct {
	client         *http.Client
	userAgent      string
	lenientHosts   map[string]struct{}
	ratePerHost    rate.Limit
	burst          int
	maxRetries     int
	retryBaseDelay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

// New creates a Fetcher from fetch configuration.
func New(cfg config.FetchConfig) *Fetcher {
	lenient := make(map[string]struct{}, len(cfg.LenientHosts))
	for _, h := range cfg.LenientHosts {
		lenient[h] = struct{}{}
	}

	perHost := rate.Inf
	if cfg.RatePerHost > 0 {
		perHost = rate.Limit(cfg.RatePerHost)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Fetcher{
		client:         &http.Client{Timeout: cfg.Timeout},
		userAgent:      cfg.UserAgent,
		lenientHosts:   lenient,
		ratePerHost:    perHost,
		burst:          burst,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		limiters:       make(map[string]*rate.Limiter),
		breakers:       make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// Fetch downloads the payload at rawURL. It waits on the host's rate
// limiter, runs the request through the host's circuit breaker, and
// returns a categorized *FetchError on failure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid feed URL %q: %w", rawURL, err)
	}
	host := u.Hostname()

	if err := f.limiterFor(host).Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := f.breakerFor(host).Execute(func() ([]byte, error) {
		return f.doWithRetry(ctx, rawURL, host)
	})
	duration := time.Since(start)

	category := ""
	var fe *FetchError
	if errors.As(err, &fe) {
		category = string(fe.Category)
	}
	metrics.RecordFetch(host, duration, category)

	if err != nil {
		logging.Warn().Err(err).
			Str("host", host).
			Dur("duration", duration).
			Msg("upstream fetch failed")
		return nil, err
	}

	logging.Debug().
		Str("host", host).
		Int("bytes", len(body)).
		Dur("duration", duration).
		Msg("upstream fetch succeeded")
	return body, nil
}

// doWithRetry performs the HTTP request with retries for rate limiting
// (HTTP 429, honoring Retry-After), server errors and transport
// failures. Delays double each attempt starting at retryBaseDelay.
func (f *Fetcher) doWithRetry(ctx context.Context, rawURL, host string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "text/calendar, application/json;q=0.8, text/plain;q=0.5")

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = &FetchError{Category: CategorizeTransport(err), URL: rawURL, Err: err}
			if attempt == f.maxRetries {
				break
			}
			if waitErr := f.backoff(ctx, attempt, ""); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = &FetchError{Category: CategoryConnectionRefused, URL: rawURL, StatusCode: resp.StatusCode, Err: readErr}
			if attempt == f.maxRetries {
				break
			}
			if waitErr := f.backoff(ctx, attempt, ""); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if f.accepted(host, resp.StatusCode) {
			if len(bytes.TrimSpace(body)) == 0 {
				return nil, &FetchError{
					Category:   CategoryEmptyBody,
					URL:        rawURL,
					StatusCode: resp.StatusCode,
					Err:        errors.New("empty response body"),
				}
			}
			return body, nil
		}

		fe := &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			fe.Category = CategoryNotFound
			fe.Err = errors.New("feed not found upstream")
		default:
			fe.Category = CategoryServerError
			fe.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		lastErr = fe

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable || attempt == f.maxRetries {
			break
		}
		if waitErr := f.backoff(ctx, attempt, resp.Header.Get("Retry-After")); waitErr != nil {
			return nil, waitErr
		}
	}

	return nil, lastErr
}

// backoff waits for the exponential delay of the given attempt, or for
// the upstream's Retry-After if one was sent.
func (f *Fetcher) backoff(ctx context.Context, attempt int, retryAfter string) error {
	delay := f.retryBaseDelay * time.Duration(1<<uint(attempt))
	if retryAfter != "" {
		if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
			delay = d
		}
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accepted reports whether a response status is usable. Strict hosts
// must answer 200. Hosts listed as lenient may answer any non-5xx; some
// providers serve valid calendars behind redirects or soft 404s.
func (f *Fetcher) accepted(host string, status int) bool {
	if _, ok := f.lenientHosts[host]; ok {
		return status < 500
	}
	return status == http.StatusOK
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.ratePerHost, f.burst)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) breakerFor(host string) *gobreaker.CircuitBreaker[[]byte] {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[host]
	if !ok {
		cb = newHostBreaker(host)
		f.breakers[host] = cb
	}
	return cb
}

// newHostBreaker creates the per-host circuit breaker: 1 minute
// measurement window, 2 minute recovery timeout, opens at a 60% failure
// rate once at least 10 requests were seen.
func newHostBreaker(host string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(host).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        host,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().
					Str("host", host).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening circuit for host")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)

			logging.Info().
				Str("host", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
