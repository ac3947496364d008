// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/AleutianAI/probr/services/assistant"

// maxOpenSpans bounds the spans kept for unanswered requests. Superseded
// requests may never be answered, so older spans are ended as abandoned.
const maxOpenSpans = 32

// Tracker keeps one span per analysis round trip, keyed by request token.
type Tracker struct {
	tracer trace.Tracer

	mu    sync.Mutex
	open  map[uint64]trace.Span
	order []uint64
}

// NewTracker creates a tracker. A nil tp means the global tracer provider;
// with no provider installed the spans are no-ops.
func NewTracker(tp trace.TracerProvider) *Tracker {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracker{
		tracer: tp.Tracer(tracerName),
		open:   make(map[uint64]trace.Span),
	}
}

// Begin starts the span for token.
func (t *Tracker) Begin(ctx context.Context, token uint64, full bool, textLen int) {
	if t == nil {
		return
	}
	_, span := t.tracer.Start(ctx, "assistant.analyze",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("probr.token", int64(token)),
			attribute.Bool("probr.full_analysis", full),
			attribute.Int("probr.text_length", textLen),
		))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[token] = span
	t.order = append(t.order, token)
	for len(t.order) > maxOpenSpans {
		oldest := t.order[0]
		t.order = t.order[1:]
		if s, ok := t.open[oldest]; ok {
			s.SetAttributes(attribute.String("probr.outcome", "abandoned"))
			s.End()
			delete(t.open, oldest)
		}
	}
}

// End finishes the span for token with outcome. err marks the span as
// failed when it is not nil.
func (t *Tracker) End(token uint64, outcome Outcome, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	span, ok := t.open[token]
	delete(t.open, token)
	t.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("probr.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Open returns the number of unfinished spans.
func (t *Tracker) Open() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
