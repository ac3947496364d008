// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing setup for the gateway.
//
// # Description
//
// Metrics cover both entry points of the gateway:
//   - Analysis counters by transport, kind and status
//   - Scorer latency histograms
//   - Open WebSocket connections, heartbeats and disconnect reasons
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// A nil *Metrics is valid and records nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "probr"
	gatewaySubsystem = "gateway"
)

// Transport labels the entry point an analysis arrived on.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

// Status labels the result of one analysis.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusInvalid     Status = "invalid"
	StatusUnavailable Status = "unavailable"
	StatusMalformed   Status = "malformed"
)

// DisconnectReason labels why a WebSocket connection ended.
type DisconnectReason string

const (
	ReasonClientClosed     DisconnectReason = "client_closed"
	ReasonHeartbeatTimeout DisconnectReason = "heartbeat_timeout"
	ReasonProtocolError    DisconnectReason = "protocol_error"
	ReasonScorerError      DisconnectReason = "scorer_error"
	ReasonShutdown         DisconnectReason = "shutdown"
)

// Metrics holds all Prometheus metrics for the gateway.
//
// # Fields
//
//   - AnalysesTotal: analyses by transport, kind (full, statistics) and status
//   - ScorerDurationSeconds: upstream scorer latency by kind
//   - SharedResultsTotal: results reused from an identical in-flight call
//   - ActiveConnections: open WebSocket connections
//   - HeartbeatsTotal: heartbeats acknowledged
//   - DisconnectsTotal: closed connections by reason
type Metrics struct {
	AnalysesTotal         *prometheus.CounterVec
	ScorerDurationSeconds *prometheus.HistogramVec
	SharedResultsTotal    prometheus.Counter
	ActiveConnections     prometheus.Gauge
	HeartbeatsTotal       prometheus.Counter
	DisconnectsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway metrics on reg.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "analyses_total",
				Help:      "Total analyses by transport, kind and status",
			},
			[]string{"transport", "kind", "status"},
		),

		ScorerDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "scorer_duration_seconds",
				Help:      "Scoring service latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"kind"},
		),

		SharedResultsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "shared_results_total",
				Help:      "Analyses answered from an identical in-flight scorer call",
			},
		),

		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_connections",
				Help:      "Number of open WebSocket connections",
			},
		),

		HeartbeatsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "heartbeats_total",
				Help:      "Total heartbeats acknowledged",
			},
		),

		DisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "disconnects_total",
				Help:      "Total closed WebSocket connections by reason",
			},
			[]string{"reason"},
		),
	}
}

// =============================================================================
// Recording Methods
// =============================================================================

func kind(full bool) string {
	if full {
		return "full"
	}
	return "statistics"
}

// RecordAnalysis counts one finished analysis.
func (m *Metrics) RecordAnalysis(t Transport, full bool, status Status) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(string(t), kind(full), string(status)).Inc()
}

// RecordScorerDuration observes one upstream call.
func (m *Metrics) RecordScorerDuration(full bool, seconds float64) {
	if m == nil {
		return
	}
	m.ScorerDurationSeconds.WithLabelValues(kind(full)).Observe(seconds)
}

// RecordShared counts a result reused from an in-flight call.
func (m *Metrics) RecordShared() {
	if m == nil {
		return
	}
	m.SharedResultsTotal.Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge and counts the
// reason.
func (m *Metrics) ConnectionClosed(reason DisconnectReason) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	m.DisconnectsTotal.WithLabelValues(string(reason)).Inc()
}

// RecordHeartbeat counts one acknowledged heartbeat.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.Inc()
}
