// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/nordbook/calsync/internal/models"
)

func newHubClient(hub *Hub, buffer int) *Client {
	client := &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, buffer),
	}
	hub.addClient(client)
	return client
}

func TestNotifyUserReachesOnlyThatUser(t *testing.T) {
	hub := NewHub()
	alice := newHubClient(hub, 4)
	bob := newHubClient(hub, 4)
	hub.authenticate(alice, "alice")
	hub.authenticate(bob, "bob")

	hub.NotifyUser("alice", models.Notification{Type: models.NotificationSyncChanged, Title: "Beach house"})

	select {
	case msg := <-alice.send:
		if msg.Type != MessageTypeNotification || msg.Notification.Title != "Beach house" {
			t.Errorf("alice got %+v", msg)
		}
	default:
		t.Error("alice received nothing")
	}

	select {
	case msg := <-bob.send:
		t.Errorf("bob received %+v", msg)
	default:
	}
}

func TestNotifyUserSkipsUnauthenticated(t *testing.T) {
	hub := NewHub()
	client := newHubClient(hub, 4)

	hub.NotifyUser("alice", models.Notification{Type: models.NotificationSyncChanged})

	select {
	case msg := <-client.send:
		t.Errorf("unauthenticated client received %+v", msg)
	default:
	}
}

func TestNotifyUserDropsOnFullBuffer(t *testing.T) {
	hub := NewHub()
	client := newHubClient(hub, 1)
	hub.authenticate(client, "alice")

	hub.NotifyUser("alice", models.Notification{Title: "first"})

	// Buffer now full; this must drop without blocking.
	done := make(chan struct{})
	go func() {
		hub.NotifyUser("alice", models.Notification{Title: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyUser blocked on full client buffer")
	}

	if got := len(client.send); got != 1 {
		t.Errorf("buffered messages = %d, want 1", got)
	}
	if msg := <-client.send; msg.Notification.Title != "first" {
		t.Errorf("kept message = %+v, want the first", msg)
	}
}

func TestUnregisterRemovesUserIndex(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	client := newHubClient(hub, 4)
	hub.authenticate(client, "alice")
	if n := hub.UserClientCount("alice"); n != 1 {
		t.Fatalf("user clients = %d, want 1", n)
	}

	hub.Unregister <- client

	deadline := time.Now().Add(2 * time.Second)
	for hub.UserClientCount("alice") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("user index not cleaned up after unregister")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEndToEndAuthAndPush(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	upgrader := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(hub, conn)
		hub.Register <- client
		client.Start()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Message{Type: MessageTypeAuth, UserID: "u1"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	var ack Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != MessageTypeAuthAck || ack.UserID != "u1" {
		t.Fatalf("ack = %+v", ack)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.UserClientCount("u1") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection never authenticated in hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.NotifyUser("u1", models.Notification{
		Type:    models.NotificationSyncChanged,
		Title:   "Beach house",
		Message: "1 added, 0 removed, 0 changed",
	})

	var push Message
	if err := conn.ReadJSON(&push); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if push.Type != MessageTypeNotification || push.Notification == nil || push.Notification.Title != "Beach house" {
		t.Fatalf("push = %+v", push)
	}
}
