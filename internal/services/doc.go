// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package services wraps the REST endpoints used by the EZY Skills client.
//
// Each service is a thin typed layer over api.Client. AuthService is the
// only one with side effects beyond the request: a successful login or
// registration stores the returned token, and logout always clears it.
// Login and register payloads are validated before they are sent.
package services
