// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the ezy packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//
// Display:
//   - TruncateWidth: column-aware truncation for terminal tables
//   - Fingerprint: short, non-reversible label for secrets in logs
//
// # Usage
//
//	// Persist a credential without ever leaving a half-written file
//	err := util.AtomicWriteFile(path, []byte(token), 0600)
//
//	// Log which token was used without logging the token
//	logger.Info("credential stored", "fingerprint", util.Fingerprint(token))
package util
