// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authbus is the process-wide notification fabric for credential
// changes.
//
// Two trigger sources feed the same Bus:
//
//   - in-process emissions from the token store (SourceLocal)
//   - filesystem changes to the durable credential file made by any ezy
//     process, observed through fsnotify (SourceCrossProcess)
//
// Subscribers receive one normalized Event type and never need to know
// where a change came from.
//
// # Key Types
//
//   - Bus: synchronous publish point with per-kind subscriptions
//   - Event: kind, source and timestamp of a signal
//   - Watcher: fsnotify bridge that emits cross-process KindChanged events
//
// # Usage
//
//	bus := authbus.New(logger)
//	unsubscribe := bus.Subscribe(authbus.KindChanged, func(e authbus.Event) {
//	    refreshFromStore()
//	})
//	defer unsubscribe()
//
// # Delivery
//
// Emit runs every handler registered before the call, in registration
// order, before it returns. Delivery is at-least-once per emission: the
// Watcher also reports this process's own writes to the durable file, so
// handlers must be idempotent. Nothing is replayed to late subscribers;
// they recompute their initial state from the token store.
package authbus
