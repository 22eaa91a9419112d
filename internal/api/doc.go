// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the EZY Skills REST API.
//
// Every request passes through a chain of interceptors. Two are installed
// by default:
//
//   - Outbound: the current credential from the token store is attached as
//     a bearer token unless the caller already set an Authorization header.
//   - Inbound: a 401 response clears the token store and emits an
//     authbus.KindUnauthorized signal. The caller still receives the error.
//
// Requests that get no response at all (DNS, refused connection, timeout)
// return the transport error unchanged and never clear the credential.
//
// # Key Types
//
//   - Client: interceptor-driven JSON client rooted at <origin>/api
//   - APIError: non-2xx response with the server's message and field errors
//
// # Usage
//
//	client := api.NewClient("https://ezy.example", store, bus)
//	var me model.MeResponse
//	if err := client.Get(ctx, "/auth/me", nil, &me); err != nil {
//	    fmt.Println(api.ErrorMessage(err))
//	}
package api
