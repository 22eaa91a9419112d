// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the data types exchanged with the EZY Skills API.
//
// # Key Types
//
//   - User: the authenticated identity as reported by the server
//   - Role: student, teacher or admin
//   - AuthResponse / MeResponse: auth endpoint payloads
//   - Course, Enrollment, Notification: catalog and inbox payloads
//
// The server is the source of truth for every value here. The client never
// derives roles or ids locally.
package model
