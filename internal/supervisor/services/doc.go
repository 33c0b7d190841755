// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

// Package services adapts the engine's long-running components to the
// suture.Service interface. Each wrapper takes a narrow interface
// rather than the concrete type, so the wrappers stay testable and free
// of dependency cycles.
package services
