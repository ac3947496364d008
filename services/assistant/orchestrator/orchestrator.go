// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives the suggestion synchronization cycle.
//
// # Description
//
// The Orchestrator wires editor changes to the request sequencer, fresh
// responses to the offset index and the card deck, and card actions back
// into editor mutations. It owns every piece of mutable assistant state:
// the sequencer, the index, the deck, the suppression token and the last
// connection status.
//
// # Concurrency
//
// All state transitions happen on one goroutine, the event loop started by
// Run. Transport callbacks are posted into the loop through Sink. Renderers
// and front ends run their actions with Do, and must also make user edits to
// the editor inside Do, so that the change notification reaches the
// orchestrator on the loop goroutine.
//
// The exported action methods (Analyze, Accept, Ignore, ...) are not safe
// for concurrent use on their own. Tests call them directly; everything else
// calls them through Do.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/clock"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/editor"
	"github.com/AleutianAI/probr/services/assistant/ignore"
	"github.com/AleutianAI/probr/services/assistant/observability"
	"github.com/AleutianAI/probr/services/assistant/offsets"
	"github.com/AleutianAI/probr/services/assistant/sequencer"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrDisconnected is returned by Analyze while the transport is not
	// connected. Requests stay disabled until it reports Connected again.
	ErrDisconnected = errors.New("analysis service disconnected")

	// ErrStopped is returned by Do once the event loop has exited.
	ErrStopped = errors.New("orchestrator stopped")
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures an Orchestrator.
type Config struct {
	// Deck configures the suggestion cards.
	Deck cards.Config

	// EventBuffer is the capacity of the event queue.
	EventBuffer int

	// Clock defaults to clock.System.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics and Tracker are optional.
	Metrics *observability.Metrics
	Tracker *observability.Tracker
}

// DefaultConfig returns the settings of the browser client.
func DefaultConfig() Config {
	return Config{
		Deck:        cards.DefaultConfig(),
		EventBuffer: 64,
	}
}

// Orchestrator is the assistant's control loop.
type Orchestrator struct {
	editor    editor.Editor
	transport transport.Transport
	ignored   *ignore.Set

	seq      *sequencer.Sequencer
	index    *offsets.Index
	deck     *cards.Deck
	suppress editor.Suppression

	status    transport.Status
	stats     *datatypes.TextStatistics
	lastError error

	clock   clock.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	tracker *observability.Tracker

	ctx       context.Context
	events    chan func()
	done      chan struct{}
	listeners []func(View)
}

// New creates an orchestrator for ed, sending through tr and filtering
// through ignored. A nil ignored means a session-only set.
//
// New registers the orchestrator's change handler on ed.
func New(ed editor.Editor, tr transport.Transport, ignored *ignore.Set, cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Deck.Clock == nil {
		cfg.Deck.Clock = cfg.Clock
	}
	if ignored == nil {
		ignored = ignore.NewSet()
	}

	o := &Orchestrator{
		editor:    ed,
		transport: tr,
		ignored:   ignored,
		seq:       sequencer.New(tr, cfg.Clock),
		index:     offsets.NewIndex(len([]rune(ed.PlainText()))),
		deck:      cards.NewDeck(cfg.Deck),
		status:    transport.Status{State: transport.Disconnected},
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracker:   cfg.Tracker,
		ctx:       context.Background(),
		events:    make(chan func(), cfg.EventBuffer),
		done:      make(chan struct{}),
	}
	ed.OnChange(o.handleChange)
	return o
}

// =============================================================================
// Event Loop
// =============================================================================

// Run starts the transport and processes events until ctx is done. It
// closes the transport before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	if err := o.transport.Start(ctx, o.Sink()); err != nil {
		close(o.done)
		return fmt.Errorf("start transport: %w", err)
	}
	defer func() {
		close(o.done)
		if err := o.transport.Close(); err != nil {
			o.logger.Warn("Failed to close transport", "error", err)
		}
	}()

	o.logger.Info("Assistant event loop started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Assistant event loop stopped")
			return nil
		case fn := <-o.events:
			fn()
			o.notify()
		}
	}
}

// Sink returns the transport sink that posts deliveries and status changes
// into the event loop.
func (o *Orchestrator) Sink() transport.Sink {
	return transport.SinkFuncs{
		OnDeliver: func(d transport.Delivery) {
			o.post(func() { o.HandleDelivery(d) })
		},
		OnStatus: func(s transport.Status) {
			o.post(func() { o.HandleStatus(s) })
		},
	}
}

// Do runs fn on the event loop and waits for it.
func (o *Orchestrator) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !o.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnUpdate registers a listener called with a fresh View after every event
// the loop processes. Listeners run on the loop goroutine and must not call
// Do.
func (o *Orchestrator) OnUpdate(listener func(View)) {
	o.listeners = append(o.listeners, listener)
}

func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.events <- fn:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) notify() {
	if len(o.listeners) == 0 {
		return
	}
	v := o.View()
	for _, l := range o.listeners {
		l(v)
	}
}

// target bundles what a card transition mutates.
func (o *Orchestrator) target() cards.Target {
	return cards.Target{Index: o.index, Editor: o.editor, Suppression: &o.suppress}
}

// connected reports whether requests are enabled.
func (o *Orchestrator) connected() bool {
	return o.status.State == transport.Connected
}
