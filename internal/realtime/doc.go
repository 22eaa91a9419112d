// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package realtime subscribes to private broadcast channels on a
// Pusher-compatible server (Laravel Reverb).
//
// A Manager owns at most one Connection. The connection dials lazily,
// reconnects with exponential backoff, and authorizes each private channel
// through POST /broadcasting/auth before sending pusher:subscribe. A channel
// whose authorization fails is marked Failed and is not retried.
//
// # Key Types
//
//   - Manager: lazy connection owner and role-gated notification channel
//   - Connection: one socket plus its channel subscriptions
//   - Transport: wire protocol; PusherTransport speaks Pusher protocol 7
//   - Authorizer: channel authorization; HTTPAuthorizer posts to the API
//
// # Usage
//
//	m := realtime.NewManager(realtime.Options{AppKey: key, Host: host, Port: 8080}, authz)
//	m.OnNotification(func(ev realtime.Event) { fmt.Println(ev.Channel) })
//	_ = m.SyncIdentity(ctx, user)
package realtime
