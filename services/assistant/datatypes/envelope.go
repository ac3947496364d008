// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// WebSocket Envelope
// =============================================================================

// Opcode identifies the payload carried by a WebSocket frame.
type Opcode int

const (
	// OpDispatch carries an AnalysisRequest (client to service) or an
	// AnalysisResponse (service to client).
	OpDispatch Opcode = 0

	// OpHeartbeat is a client liveness ping. It has no payload.
	OpHeartbeat Opcode = 1

	// OpHello is the first frame the service sends. Payload: Hello.
	OpHello Opcode = 10

	// OpHeartbeatAck answers an OpHeartbeat. It has no payload.
	OpHeartbeatAck Opcode = 11
)

// String returns the opcode name for logging.
func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Envelope is the frame format of the WebSocket protocol: {"op": n, "d": {...}}.
type Envelope struct {
	Op   Opcode          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Hello advertises the heartbeat interval the service expects, in milliseconds.
type Hello struct {
	HeartbeatMillis int `json:"heartbeat" validate:"gt=0"`
}

// NewEnvelope wraps a payload in an envelope. A nil payload produces a frame
// without a "d" field.
func NewEnvelope(op Opcode, payload any) (Envelope, error) {
	env := Envelope{Op: op}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", op, err)
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s frame has no payload", ErrMalformedResponse, e.Op)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrMalformedResponse, e.Op, err)
	}
	return nil
}
