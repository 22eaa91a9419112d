// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "ezy"

// Metrics holds the client's Prometheus instruments.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	unauthorizedTotal prometheus.Counter
	identityFetches   *prometheus.CounterVec
	channelAuth       *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter
	connections       prometheus.Gauge
}

// New registers the instruments on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by method and status class (2xx, 4xx, 5xx, network)",
		}, []string{"method", "class"}),

		unauthorizedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "api",
			Name:      "unauthorized_total",
			Help:      "Responses that rejected the credential and cleared it",
		}),

		identityFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "identity",
			Name:      "fetches_total",
			Help:      "Identity fetches by outcome (ok, error, stale)",
		}, []string{"result"}),

		channelAuth: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "realtime",
			Name:      "channel_authorizations_total",
			Help:      "Private channel authorization handshakes by outcome",
		}, []string{"result"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Realtime transport reconnect attempts",
		}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live realtime connections (0 or 1)",
		}),
	}
}

// StatusClass maps an HTTP status to its label. Zero means no response.
func StatusClass(status int) string {
	if status <= 0 {
		return "network"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ObserveRequest counts one API request.
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, StatusClass(status)).Inc()
}

// ObserveUnauthorized counts one rejected credential.
func (m *Metrics) ObserveUnauthorized() {
	if m == nil {
		return
	}
	m.unauthorizedTotal.Inc()
}

// ObserveIdentityFetch counts one identity fetch outcome.
func (m *Metrics) ObserveIdentityFetch(result string) {
	if m == nil {
		return
	}
	m.identityFetches.WithLabelValues(result).Inc()
}

// ObserveChannelAuth counts one channel authorization outcome.
func (m *Metrics) ObserveChannelAuth(result string) {
	if m == nil {
		return
	}
	m.channelAuth.WithLabelValues(result).Inc()
}

// ObserveReconnect counts one reconnect attempt.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// ConnectionOpened increments the live connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the live connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
