// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokenstore persists the session credential in one of two tiers.
//
// The Durable tier survives restarts and is shared by every ezy process of
// the same user (a 0600 file, or a SQLite row). The Ephemeral tier lives in
// process memory and disappears with the process. At most one tier holds a
// credential at any time: every write places the token in one tier and
// removes it from the other.
//
// # Key Types
//
//   - Store: the only component that touches credential storage
//   - Tier: storage backend contract (MemoryTier, FileTier, SQLiteTier)
//   - Credential: the opaque token plus the tier it was read from
//
// # Usage
//
//	store := tokenstore.New(tokenstore.NewFileTier(path), tokenstore.NewMemoryTier(), bus, logger)
//	store.Write(token, tokenstore.WriteOptions{Persist: true})
//	if cred, ok := store.Read(); ok {
//	    req.Header.Set("Authorization", "Bearer "+cred.Value)
//	}
//	store.Clear()
//
// # Failure Policy
//
// Storage failures never reach callers of Read or Clear. A tier that cannot
// be read is treated as empty. Every Write whose primary tier accepted the
// token and every Clear emits exactly one authbus.KindChanged event before
// returning.
package tokenstore
