// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package telemetry exposes the gateway's operational counters. Metrics are
// registered on a private registry so embedding applications keep control of
// what they serve.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	// EnvelopesRouted counts envelopes forwarded, by kind.
	EnvelopesRouted *prometheus.CounterVec
	// EnvelopesDenied counts capability-check denials.
	EnvelopesDenied prometheus.Counter
	// EnvelopesRejected counts structurally invalid inbound frames, by error class.
	EnvelopesRejected *prometheus.CounterVec
	// ConnectedParticipants tracks the number of live connections.
	ConnectedParticipants prometheus.Gauge
	// QueueOverflows counts recipients disconnected for backpressure.
	QueueOverflows prometheus.Counter
}

// NewMetrics creates the gateway instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EnvelopesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mew_gateway_envelopes_routed_total",
			Help: "Envelopes forwarded by the router, by kind.",
		}, []string{"kind"}),
		EnvelopesDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "mew_gateway_envelopes_denied_total",
			Help: "Envelopes refused by the capability check.",
		}),
		EnvelopesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mew_gateway_envelopes_rejected_total",
			Help: "Inbound frames rejected before routing, by error class.",
		}, []string{"class"}),
		ConnectedParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mew_gateway_connected_participants",
			Help: "Currently connected participants.",
		}),
		QueueOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "mew_gateway_queue_overflows_total",
			Help: "Recipients disconnected because their outbound queue overflowed.",
		}),
	}
}

// Handler serves the metrics in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
