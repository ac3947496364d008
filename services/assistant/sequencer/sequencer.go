// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sequencer issues analysis requests and decides which responses are
// fresh enough to act on.
//
// # Description
//
// Every request gets the next Token. A response is acted upon only if its
// token is the latest one issued and was issued after the last local
// mutation of the text. Everything else is stale and dropped on the
// receiving side; nothing is cancelled on the wire.
//
// # Thread Safety
//
// Not safe for concurrent use. The orchestrator calls the sequencer from its
// event loop only.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fortio.org/safecast"

	"github.com/AleutianAI/probr/services/assistant/clock"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// maxPending bounds the bookkeeping kept for unanswered requests.
const maxPending = 32

// =============================================================================
// Errors
// =============================================================================

// ErrStaleResponse is returned by Deliver for a response that must not be
// applied.
var ErrStaleResponse = errors.New("stale response")

// ErrTransportFailure is matched by every TransportFailure.
var ErrTransportFailure = errors.New("transport failure")

// TransportFailure is a request that could not be sent, or a transport
// reported error. Token is zero when the failure is not tied to a request.
type TransportFailure struct {
	Token Token
	Err   error
}

// Error implements error.
func (e *TransportFailure) Error() string {
	if e.Token == 0 {
		return fmt.Sprintf("%s: %v", ErrTransportFailure, e.Err)
	}
	return fmt.Sprintf("%s: request %d: %v", ErrTransportFailure, e.Token, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *TransportFailure) Unwrap() []error {
	return []error{ErrTransportFailure, e.Err}
}

// =============================================================================
// Types
// =============================================================================

// Token identifies one issued request. Tokens start at 1 and are never
// reused, including tokens whose request failed to send.
type Token uint64

// Sender is the part of a transport the sequencer needs.
type Sender interface {
	Send(ctx context.Context, req *datatypes.AnalysisRequest) error
}

// Result is a fresh, validated response.
type Result struct {
	Token    Token
	Response *datatypes.AnalysisResponse

	// Full is the fullAnalysis flag the request was issued with.
	Full bool

	// TextLen is the rune length of the text that was analyzed.
	TextLen int

	// RTT is the time from send to delivery.
	RTT time.Duration
}

type pending struct {
	full    bool
	textLen int
	sentAt  time.Time
}

// Sequencer owns the request token counter.
type Sequencer struct {
	sender    Sender
	clock     clock.Clock
	last      Token
	watermark Token

	// answered is the latest token that has received a delivery; a second
	// one for it is a duplicate.
	answered Token

	// abandoned is the latest token at the last transport drop.
	abandoned Token

	pending map[Token]pending
}

// New creates a sequencer sending through sender. A nil clk means
// clock.System.
func New(sender Sender, clk clock.Clock) *Sequencer {
	if clk == nil {
		clk = clock.System
	}
	return &Sequencer{
		sender:  sender,
		clock:   clk,
		pending: make(map[Token]pending),
	}
}

// =============================================================================
// Issuing
// =============================================================================

// Issue sends text for analysis under a new token.
//
// # Description
//
// The token is allocated and recorded as the latest before the send, so a
// failed send burns it: a late response carrying that token, should one ever
// arrive, can never be mistaken for a later request's.
//
// # Outputs
//
//   - Token: the issued token; zero if the request was rejected before a
//     token was allocated.
//   - error: datatypes.ErrInvalidRequest for text the service would reject,
//     or a *TransportFailure if the transport refused the request.
func (s *Sequencer) Issue(ctx context.Context, text string, fullAnalysis bool) (Token, error) {
	tok := s.last + 1
	id, err := safecast.Conv[int64](uint64(tok))
	if err != nil {
		return 0, fmt.Errorf("token space exhausted: %w", err)
	}

	req := &datatypes.AnalysisRequest{
		UniqueID:        id,
		ProcessLanguage: fullAnalysis,
		Message:         text,
	}
	if err := datatypes.ValidateRequest(req); err != nil {
		return 0, err
	}

	s.last = tok
	s.pending[tok] = pending{
		full:    fullAnalysis,
		textLen: len([]rune(text)),
		sentAt:  s.clock.Now(),
	}
	s.prune()

	if err := s.sender.Send(ctx, req); err != nil {
		delete(s.pending, tok)
		return tok, &TransportFailure{Token: tok, Err: err}
	}
	return tok, nil
}

func (s *Sequencer) prune() {
	if s.last <= maxPending {
		return
	}
	floor := s.last - maxPending
	for tok := range s.pending {
		if tok <= floor {
			delete(s.pending, tok)
		}
	}
}

// =============================================================================
// Delivery
// =============================================================================

// Deliver classifies a transport delivery.
//
// # Description
//
// The token is resolved before anything else, so every delivery settles its
// request whatever the outcome: a failed or malformed answer to the latest
// request ends the wait for it just like a good one.
//
// # Outputs
//
//   - Result: set only when error is nil.
//   - error: a *TransportFailure for transport errors,
//     datatypes.ErrMalformedResponse for payloads missing required fields,
//     ErrStaleResponse for anything but the first answer to the latest
//     request issued after the last mutation.
func (s *Sequencer) Deliver(d transport.Delivery) (Result, error) {
	token, ok := deliveryToken(d)
	if !ok {
		if d.Err != nil {
			return Result{}, deliveryError(0, d.Err)
		}
		return Result{}, fmt.Errorf("%w: no usable unique_id", datatypes.ErrMalformedResponse)
	}

	duplicate := token == s.answered
	p, known := s.pending[token]
	delete(s.pending, token)
	if token == s.last {
		s.answered = token
	}

	if d.Err != nil {
		return Result{}, deliveryError(token, d.Err)
	}
	if err := datatypes.ValidateResponse(d.Response); err != nil {
		return Result{}, err
	}
	if d.Token != 0 && d.Response.UniqueID != d.Token {
		return Result{}, fmt.Errorf("%w: unique_id %d answers request %d",
			datatypes.ErrMalformedResponse, d.Response.UniqueID, d.Token)
	}

	if !s.IsFresh(token) {
		return Result{}, fmt.Errorf("%w: token %d, latest %d, last mutation at %d",
			ErrStaleResponse, token, s.last, s.watermark)
	}
	if duplicate {
		return Result{}, fmt.Errorf("%w: duplicate response for token %d", ErrStaleResponse, token)
	}

	res := Result{
		Token:    token,
		Response: d.Response,
	}
	if known {
		res.Full = p.full
		res.TextLen = p.textLen
		res.RTT = s.clock.Now().Sub(p.sentAt)
	}
	return res, nil
}

// deliveryToken returns the request a delivery answers: the transport's
// token when it has one, the echoed unique_id otherwise.
func deliveryToken(d transport.Delivery) (Token, bool) {
	id := d.Token
	if id == 0 && d.Response != nil {
		id = d.Response.UniqueID
	}
	if id <= 0 {
		return 0, false
	}
	tok, err := safecast.Conv[uint64](id)
	if err != nil {
		return 0, false
	}
	return Token(tok), true
}

func deliveryError(tok Token, err error) error {
	if errors.Is(err, datatypes.ErrMalformedResponse) {
		return err
	}
	return &TransportFailure{Token: tok, Err: err}
}

// IsFresh reports whether a response for tok may be applied.
func (s *Sequencer) IsFresh(tok Token) bool {
	return tok == s.last && tok > s.watermark
}

// =============================================================================
// Mutations
// =============================================================================

// MarkMutation records that the text was mutated locally, which makes every
// token issued so far stale.
//
// # Outputs
//
//   - inFlight: the latest request was still unanswered.
//   - full: its fullAnalysis flag, so the caller can re-issue the same kind
//     of request once the mutation is complete.
func (s *Sequencer) MarkMutation() (inFlight bool, full bool) {
	p, ok := s.pending[s.last]
	inFlight = ok && s.last > s.watermark
	s.watermark = s.last
	return inFlight, p.full
}

// Abandon stops waiting for every unanswered request. Used when the
// transport drops. Their bookkeeping is kept: a transport that recovers may
// still deliver the latest response, and it is applied like any other.
func (s *Sequencer) Abandon() {
	s.abandoned = s.last
}

// =============================================================================
// Accessors
// =============================================================================

// Latest returns the last issued token, zero before the first request.
func (s *Sequencer) Latest() Token {
	return s.last
}

// Watermark returns the latest token issued before the last local mutation.
func (s *Sequencer) Watermark() Token {
	return s.watermark
}

// Awaiting reports whether the latest request is unanswered and still
// eligible to be applied, and whether it asked for a full analysis.
func (s *Sequencer) Awaiting() (awaiting bool, full bool) {
	p, ok := s.pending[s.last]
	if !ok || s.last <= s.watermark || s.last <= s.abandoned {
		return false, false
	}
	return true, p.full
}
