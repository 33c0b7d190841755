// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type mockHTTPServer struct {
	listenErr   error
	started     chan struct{}
	release     chan struct{}
	shutdowns   atomic.Int64
	shutdownErr error
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	close(m.started)
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.release
	return nil
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdowns.Add(1)
	close(m.release)
	return m.shutdownErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newMockHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-server.started:
	case <-time.After(2 * time.Second):
		t.Fatal("server never started")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if n := server.shutdowns.Load(); n != 1 {
		t.Errorf("shutdown calls = %d, want 1", n)
	}
}

func TestHTTPServiceListenFailure(t *testing.T) {
	server := newMockHTTPServer()
	server.listenErr = errors.New("address in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Errorf("Serve returned %v, want wrapped listen error", err)
	}
}

type mockScheduler struct {
	startErr error
	starts   atomic.Int64
	stops    atomic.Int64
}

func (m *mockScheduler) Start() error {
	m.starts.Add(1)
	return m.startErr
}

func (m *mockScheduler) Stop() {
	m.stops.Add(1)
}

func TestSchedulerServiceLifecycle(t *testing.T) {
	sched := &mockScheduler{}
	svc := NewSchedulerService(sched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if sched.starts.Load() != 1 || sched.stops.Load() != 1 {
		t.Errorf("starts=%d stops=%d, want 1/1", sched.starts.Load(), sched.stops.Load())
	}
}

func TestSchedulerServiceStartFailure(t *testing.T) {
	sched := &mockScheduler{startErr: errors.New("bad spec")}
	svc := NewSchedulerService(sched)

	if err := svc.Serve(context.Background()); err == nil {
		t.Error("Serve returned nil, want start error")
	}
	if sched.stops.Load() != 0 {
		t.Error("Stop called after failed Start")
	}
}

type mockGC struct {
	calls atomic.Int64
	errs  []error
}

func (m *mockGC) RunValueLogGC(ratio float64) error {
	n := m.calls.Add(1)
	if int(n) <= len(m.errs) {
		return m.errs[n-1]
	}
	return badger.ErrNoRewrite
}

func TestStoreGCServiceRunsUntilNoRewrite(t *testing.T) {
	gc := &mockGC{errs: []error{nil, nil}}
	svc := NewStoreGCService(gc)
	svc.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for gc.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("gc calls = %d, want at least 3", gc.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServiceNames(t *testing.T) {
	if got := NewHTTPServerService(newMockHTTPServer(), 0).String(); got != "http-server" {
		t.Errorf("http name = %q", got)
	}
	if got := NewSchedulerService(&mockScheduler{}).String(); got != "sync-scheduler" {
		t.Errorf("scheduler name = %q", got)
	}
	if got := NewStoreGCService(&mockGC{}).String(); got != "store-gc" {
		t.Errorf("gc name = %q", got)
	}
}
