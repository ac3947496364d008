// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the writing
// assistant.
//
// # Description
//
// Metrics cover the request lifecycle (issued, applied, stale, malformed,
// failed), round trip latency, card actions and connection state. Spans
// cover one analysis round trip each, from issue to delivery.
//
// A nil *Metrics or *Tracker is valid and records nothing, so components can
// run uninstrumented in tests.
//
// # Thread Safety
//
// All operations are thread-safe.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "probr"
	assistantSubsystem = "assistant"
)

// Outcome labels a delivered response.
type Outcome string

const (
	// OutcomeApplied is a fresh response that was acted upon.
	OutcomeApplied Outcome = "applied"

	// OutcomeStale is a response dropped by the freshness rule.
	OutcomeStale Outcome = "stale"

	// OutcomeMalformed is a response missing expected fields.
	OutcomeMalformed Outcome = "malformed"

	// OutcomeTransportFailure is a request the transport could not complete.
	OutcomeTransportFailure Outcome = "transport_failure"

	// OutcomeIntegrity is a response whose issues did not fit the text.
	OutcomeIntegrity Outcome = "region_integrity"
)

// Metrics holds the assistant's Prometheus metrics.
type Metrics struct {
	// RequestsTotal counts issued requests.
	// Labels: kind (statistics, full)
	RequestsTotal *prometheus.CounterVec

	// ResponsesTotal counts deliveries by outcome.
	// Labels: outcome
	ResponsesTotal *prometheus.CounterVec

	// RoundTripSeconds measures issue-to-delivery time of applied responses.
	// Labels: kind
	RoundTripSeconds *prometheus.HistogramVec

	// CardsCreatedTotal counts suggestion cards created.
	CardsCreatedTotal prometheus.Counter

	// AcceptedTotal counts applied replacements.
	// Labels: mode (single, correct_all)
	AcceptedTotal *prometheus.CounterVec

	// IgnoredTotal counts ignore actions.
	// Labels: scope (single, rule)
	IgnoredTotal *prometheus.CounterVec

	// Connected is 1 while the transport is connected.
	Connected prometheus.Gauge

	// HeartbeatLatencySeconds is the last measured transport latency.
	HeartbeatLatencySeconds prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// means the default registerer.
//
// # Limitations
//
//   - Panics if the metrics are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "requests_total",
				Help:      "Total analysis requests issued by kind",
			},
			[]string{"kind"},
		),

		ResponsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "responses_total",
				Help:      "Total analysis deliveries by outcome",
			},
			[]string{"outcome"},
		),

		RoundTripSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "round_trip_seconds",
				Help:      "Time from request issue to applied response in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),

		CardsCreatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "cards_created_total",
				Help:      "Total suggestion cards created",
			},
		),

		AcceptedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "suggestions_accepted_total",
				Help:      "Total replacements applied by mode",
			},
			[]string{"mode"},
		),

		IgnoredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "suggestions_ignored_total",
				Help:      "Total ignore actions by scope",
			},
			[]string{"scope"},
		),

		Connected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "connected",
				Help:      "1 while the analysis transport is connected",
			},
		),

		HeartbeatLatencySeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "latency_seconds",
				Help:      "Last measured transport round trip in seconds",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

func kind(full bool) string {
	if full {
		return "full"
	}
	return "statistics"
}

// RecordRequest records an issued request.
func (m *Metrics) RecordRequest(full bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind(full)).Inc()
}

// RecordOutcome records a delivery outcome.
func (m *Metrics) RecordOutcome(outcome Outcome) {
	if m == nil {
		return
	}
	m.ResponsesTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordRoundTrip records the latency of an applied response.
func (m *Metrics) RecordRoundTrip(full bool, seconds float64) {
	if m == nil {
		return
	}
	m.RoundTripSeconds.WithLabelValues(kind(full)).Observe(seconds)
}

// RecordCards records created cards.
func (m *Metrics) RecordCards(n int) {
	if m == nil {
		return
	}
	m.CardsCreatedTotal.Add(float64(n))
}

// RecordAccepted records applied replacements.
func (m *Metrics) RecordAccepted(n int, correctAll bool) {
	if m == nil {
		return
	}
	mode := "single"
	if correctAll {
		mode = "correct_all"
	}
	m.AcceptedTotal.WithLabelValues(mode).Add(float64(n))
}

// RecordIgnored records an ignore action.
func (m *Metrics) RecordIgnored(rule bool) {
	if m == nil {
		return
	}
	scope := "single"
	if rule {
		scope = "rule"
	}
	m.IgnoredTotal.WithLabelValues(scope).Inc()
}

// RecordConnection records the transport state and latency.
func (m *Metrics) RecordConnection(connected bool, latencySeconds float64) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
	if latencySeconds > 0 {
		m.HeartbeatLatencySeconds.Set(latencySeconds)
	}
}
