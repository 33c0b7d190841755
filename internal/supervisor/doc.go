// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package supervisor builds the suture supervision tree that keeps the
// engine's long-running components alive: the HTTP server, the
// websocket hub, the notification forwarder, the background sync
// scheduler and store maintenance. Service wrappers live in the
// services subpackage.
package supervisor
