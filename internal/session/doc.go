// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session wires the client together for one process.
//
// A Manager owns the token store, the auth signal bus, the cross-process
// watcher, the API client and services, the identity resolver and the
// realtime manager, and connects them:
//
//   - identity changes drive realtime.Manager.SyncIdentity, latest wins
//   - authbus.KindUnauthorized disposes the realtime connection
//   - realtime notifications bump PendingPings and emit
//     authbus.KindEnrollmentsChanged
//
// # Usage
//
//	mgr, err := session.New(session.Options{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	_, err = mgr.Login(ctx, services.LoginPayload{Email: e, Password: p}, tokenstore.DefaultWriteOptions())
package session
