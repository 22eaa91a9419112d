// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instruments for the session client.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics handle without branching.
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	client := api.NewClient(baseURL, store, bus).WithMetrics(m)
package metrics
