// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

// SuppressionState is the state of a Suppression token.
type SuppressionState int

const (
	// Armed is the resting state: change notifications are user edits.
	Armed SuppressionState = iota

	// Suppressed means the next change notification was caused by the engine.
	Suppressed
)

// String returns the state name for logging.
func (s SuppressionState) String() string {
	if s == Suppressed {
		return "suppressed"
	}
	return "armed"
}

// Suppression is a two-state token that lets a change handler tell its own
// programmatic edits apart from user edits.
//
// # Contract
//
//  1. The engine calls Suppress immediately before a programmatic mutation.
//  2. The change handler calls Consume first thing. Consume returns true and
//     returns the token to Armed if the notification was self-inflicted.
//  3. After the mutating call returns, the engine calls Release. If the
//     editor produced no notification (an identical replacement, say) the
//     token would otherwise stay Suppressed and swallow the next user edit.
//
// Suppress while already Suppressed is a reentrant mutation and panics; it
// means two programmatic edits are interleaved and one of them would be
// reported as a user edit.
type Suppression struct {
	state SuppressionState
}

// Suppress marks the next change notification as self-inflicted.
func (s *Suppression) Suppress() {
	if s.state == Suppressed {
		panic("editor: reentrant programmatic mutation")
	}
	s.state = Suppressed
}

// Consume reports whether the current notification was self-inflicted and
// resets the token.
func (s *Suppression) Consume() bool {
	if s.state == Suppressed {
		s.state = Armed
		return true
	}
	return false
}

// Release returns the token to Armed.
func (s *Suppression) Release() {
	s.state = Armed
}

// State returns the current state.
func (s *Suppression) State() SuppressionState {
	return s.state
}
