// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package websocket pushes calendar change notifications to connected
// clients. Connections authenticate with an auth message naming their
// user; pushes are per-user, transient and best-effort. A client whose
// send buffer is full loses the message rather than blocking the hub.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/nordbook/calsync/internal/logging"
	"github.com/nordbook/calsync/internal/metrics"
	"github.com/nordbook/calsync/internal/models"
)

// Message types exchanged with clients.
const (
	MessageTypeAuth         = "auth"
	MessageTypeAuthAck      = "auth_ack"
	MessageTypeNotification = "notification"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message is the websocket wire shape in both directions.
type Message struct {
	Type         string               `json:"type"`
	UserID       string               `json:"userId,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// Hub maintains the per-user registry of active connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// RunWithContext processes client lifecycle events until the context is
// cancelled, then closes all connections. Designed for suture
// supervision: a restart resumes with an empty registry and clients
// reconnect.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().Str("component", "websocket-hub").Msg("websocket hub stopped")
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		h.dropFromUserIndex(client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// authenticate binds a connection to a user after a valid auth message.
// Called from the client's read pump.
func (h *Hub) authenticate(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	h.dropFromUserIndex(client)
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Client]bool)
	}
	h.byUser[userID][client] = true
	client.userID = userID
}

// dropFromUserIndex must be called with mu held.
func (h *Hub) dropFromUserIndex(client *Client) {
	if client.userID == "" {
		return
	}
	if set, ok := h.byUser[client.userID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byUser, client.userID)
		}
	}
}

// NotifyUser pushes a notification to every authenticated connection of
// one user. Implements notify.Sink. Clients in sorted id order for
// reproducible delivery; full client buffers drop the message.
func (h *Hub) NotifyUser(userID string, n models.Notification) {
	msg := Message{Type: MessageTypeNotification, Notification: &n}

	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.byUser[userID]
	if len(set) == 0 {
		metrics.NotificationsDropped.Inc()
		return
	}

	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		select {
		case client.send <- msg:
			metrics.WSMessagesSent.Inc()
		default:
			metrics.NotificationsDropped.Inc()
			logging.Warn().
				Str("user_id", userID).
				Uint64("client_id", client.id).
				Msg("client send buffer full, dropping notification")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserClientCount returns the number of authenticated connections for a
// user.
func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		h.dropFromUserIndex(client)
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
}
