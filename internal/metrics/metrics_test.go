// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	require.Equal(t, "network", StatusClass(0))
	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "4xx", StatusClass(401))
	require.Equal(t, "5xx", StatusClass(503))
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("GET", 200)
	m.ObserveRequest("GET", 204)
	m.ObserveRequest("POST", 401)
	m.ObserveUnauthorized()
	m.ObserveIdentityFetch("ok")
	m.ObserveChannelAuth("failed")
	m.ObserveReconnect()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	require.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "2xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "4xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.unauthorizedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.identityFetches.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.channelAuth.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reconnectsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.connections))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveRequest("GET", 200)
		m.ObserveUnauthorized()
		m.ObserveIdentityFetch("ok")
		m.ObserveChannelAuth("ok")
		m.ObserveReconnect()
		m.ConnectionOpened()
		m.ConnectionClosed()
	})
}
