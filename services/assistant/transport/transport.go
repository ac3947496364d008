// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport carries analysis requests to the scoring service and
// delivers the responses back as events.
//
// # Description
//
// Two implementations are provided: a WebSocket transport speaking the op
// envelope protocol with heartbeats, and an HTTP transport that POSTs each
// request. Both are asynchronous: Send hands the request off and returns,
// and the outcome arrives later through the Sink given to Start.
//
// The transport owns the reconnect policy. Whatever it does, it reports the
// connection state through Sink.StatusChanged so the caller can stop issuing
// requests while disconnected.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotConnected is returned by Send while no connection is usable.
	ErrNotConnected = errors.New("transport not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
)

// StatusError is a non-success HTTP answer from the service.
type StatusError struct {
	Code int
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analysis service returned status %d", e.Code)
	}
	return fmt.Sprintf("analysis service returned status %d: %s", e.Code, e.Body)
}

// =============================================================================
// Connection Status
// =============================================================================

// State is the connectivity of a transport.
type State int

const (
	// Disconnected means requests cannot be sent.
	Disconnected State = iota

	// Connecting means a connection attempt is under way.
	Connecting

	// Connected means requests can be sent.
	Connected
)

// String returns the display name of the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// Status is a connectivity change reported by a transport.
//
// Latency is the last measured round trip, zero until one was measured. Err
// carries the cause of a Disconnected status when there is one.
type Status struct {
	State   State
	Latency time.Duration
	Err     error
}

// =============================================================================
// Delivery
// =============================================================================

// Delivery is the asynchronous outcome of a request.
//
// Exactly one of Response and Err is set. Token is the echoed unique_id; it
// is zero when a failure cannot be tied to a request (a dropped connection,
// an undecodable frame).
type Delivery struct {
	Token    int64
	Response *datatypes.AnalysisResponse
	Err      error
}

// Sink receives transport events. Implementations must not block for long;
// the orchestrator's sink only enqueues.
type Sink interface {
	Deliver(d Delivery)
	StatusChanged(s Status)
}

// Transport is the wire collaborator.
type Transport interface {
	// Start begins connecting and returns immediately. Events flow to sink
	// until Close is called or ctx is done.
	Start(ctx context.Context, sink Sink) error

	// Send hands req off for delivery. A nil error means the request left
	// the process; it does not mean a response will arrive.
	Send(ctx context.Context, req *datatypes.AnalysisRequest) error

	// Close stops the transport and releases its connection.
	Close() error
}

// SinkFuncs adapts two functions to a Sink. Nil fields are ignored.
type SinkFuncs struct {
	OnDeliver func(Delivery)
	OnStatus  func(Status)
}

// Deliver implements Sink.
func (s SinkFuncs) Deliver(d Delivery) {
	if s.OnDeliver != nil {
		s.OnDeliver(d)
	}
}

// StatusChanged implements Sink.
func (s SinkFuncs) StatusChanged(st Status) {
	if s.OnStatus != nil {
		s.OnStatus(st)
	}
}
