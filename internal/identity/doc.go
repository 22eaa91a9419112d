// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity resolves the current user from the stored credential.
//
// A Resolver re-resolves on every authbus.KindChanged event. Each resolve
// takes a new generation number; a fetch result is applied only while its
// generation is still the latest, so a slow response for an old credential
// can never overwrite the state for a newer one. Fetches are not aborted
// when they go stale.
//
// Subscribers run on a single delivery goroutine and always receive the
// latest state. Rapid transitions may coalesce into one callback.
package identity
