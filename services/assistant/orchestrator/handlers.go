// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"sort"

	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/editor"
	"github.com/AleutianAI/probr/services/assistant/observability"
	"github.com/AleutianAI/probr/services/assistant/offsets"
	"github.com/AleutianAI/probr/services/assistant/sequencer"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// =============================================================================
// Editor Events
// =============================================================================

// handleChange is the editor change handler. Notifications caused by the
// orchestrator's own replacements consume the suppression token and stop
// here.
func (o *Orchestrator) handleChange(editor.Change) {
	if o.suppress.Consume() {
		return
	}
	o.HandleTextChange()
}

// HandleTextChange reacts to a user edit: every card and highlight is
// cleared, since their offsets describe text that no longer exists, and a
// statistics-only request is issued.
func (o *Orchestrator) HandleTextChange() {
	o.seq.MarkMutation()
	o.deck.Clear()
	o.index.Clear(o.textLen())
	o.editor.ClearHighlights()
	o.lastError = nil

	if !o.connected() {
		o.logger.Debug("Skipping statistics request while disconnected")
		return
	}
	if err := o.issue(false); err != nil {
		o.logger.Warn("Statistics request not sent", "error", err)
	}
}

// Analyze issues a full request that also asks for grammar and style
// matches.
func (o *Orchestrator) Analyze() error {
	if !o.connected() {
		return ErrDisconnected
	}
	return o.issue(true)
}

// issue sends the current text. A transport refusal is turned into a
// Disconnected status; only a request the service would reject is returned.
func (o *Orchestrator) issue(full bool) error {
	text := o.editor.PlainText()
	tok, err := o.seq.Issue(o.ctx, text, full)
	if err != nil {
		var tf *sequencer.TransportFailure
		if errors.As(err, &tf) {
			o.metrics.RecordOutcome(observability.OutcomeTransportFailure)
			o.HandleStatus(transport.Status{State: transport.Disconnected, Err: err})
			return nil
		}
		return err
	}

	o.metrics.RecordRequest(full)
	o.tracker.Begin(o.ctx, uint64(tok), full, len([]rune(text)))
	o.logger.Debug("Issued analysis request", "token", tok, "full_analysis", full)
	return nil
}

// =============================================================================
// Transport Events
// =============================================================================

// HandleStatus records a connectivity change. Leaving Connected stops the
// wait for unanswered requests; the latest one is still applied if its
// response arrives after a reconnect.
func (o *Orchestrator) HandleStatus(s transport.Status) {
	prev := o.status.State
	o.status = s
	o.metrics.RecordConnection(s.State == transport.Connected, s.Latency.Seconds())

	if s.State != transport.Connected {
		o.seq.Abandon()
	}
	if prev != s.State {
		if s.Err != nil {
			o.logger.Info("Analysis service status changed", "status", s.State.String(), "error", s.Err)
		} else {
			o.logger.Info("Analysis service status changed", "status", s.State.String())
		}
	}
}

// HandleDelivery processes a transport delivery.
//
// # Description
//
// Stale responses are dropped without any visible change. Malformed
// responses are logged and skipped. Transport failures switch the status to
// Disconnected. A fresh response always updates the statistics; when it
// carries a grammar pass it replaces the whole suggestion set.
func (o *Orchestrator) HandleDelivery(d transport.Delivery) {
	res, err := o.seq.Deliver(d)
	tok := uint64(d.Token)
	switch {
	case err == nil:
	case errors.Is(err, sequencer.ErrStaleResponse):
		o.logger.Debug("Dropping stale response", "detail", err)
		o.metrics.RecordOutcome(observability.OutcomeStale)
		o.tracker.End(tok, observability.OutcomeStale, nil)
		return
	case errors.Is(err, sequencer.ErrTransportFailure):
		o.metrics.RecordOutcome(observability.OutcomeTransportFailure)
		o.tracker.End(tok, observability.OutcomeTransportFailure, err)
		o.HandleStatus(transport.Status{State: transport.Disconnected, Latency: o.status.Latency, Err: err})
		return
	default:
		o.logger.Warn("Dropping malformed response", "error", err)
		o.metrics.RecordOutcome(observability.OutcomeMalformed)
		o.tracker.End(tok, observability.OutcomeMalformed, err)
		return
	}

	o.metrics.RecordRoundTrip(res.Full, res.RTT.Seconds())
	o.stats = res.Response.TextStatistics

	if !res.Response.HasGrammar() {
		o.metrics.RecordOutcome(observability.OutcomeApplied)
		o.tracker.End(uint64(res.Token), observability.OutcomeApplied, nil)
		return
	}

	if err := o.applyIssues(res.Response.LanguageTool); err != nil {
		o.lastError = err
		o.logger.Error("Rejected analysis response", "token", res.Token, "error", err)
		o.metrics.RecordOutcome(observability.OutcomeIntegrity)
		o.tracker.End(uint64(res.Token), observability.OutcomeIntegrity, err)
		return
	}
	o.lastError = nil
	o.metrics.RecordOutcome(observability.OutcomeApplied)
	o.tracker.End(uint64(res.Token), observability.OutcomeApplied, nil)
}

// applyIssues replaces the region set and the cards with a new generation.
// If any issue does not fit the live text, no card is created and the old
// generation is cleared.
func (o *Orchestrator) applyIssues(issues []datatypes.Issue) error {
	surviving := o.ignored.Filter(issues)
	sort.SliceStable(surviving, func(i, j int) bool {
		return surviving[i].Offset < surviving[j].Offset
	})

	text := []rune(o.editor.PlainText())
	regions, err := o.index.Rebuild(surviving, len(text))
	if err != nil {
		o.deck.Clear()
		o.index.Clear(len(text))
		o.editor.ClearHighlights()
		return err
	}

	generation := make([]*cards.Card, len(regions))
	for i, r := range regions {
		generation[i] = cards.New(surviving[i], r, string(text[r.Start:r.End()]))
	}
	o.deck.Replace(generation)
	o.renderHighlights()
	o.metrics.RecordCards(len(generation))
	return nil
}

// =============================================================================
// Card Actions
// =============================================================================

// Expand expands a card and collapses the previously expanded one.
func (o *Orchestrator) Expand(cardID string) error {
	_, err := o.deck.Expand(cardID)
	return err
}

// Collapse collapses a card.
func (o *Orchestrator) Collapse(cardID string) error {
	return o.deck.Collapse(cardID)
}

// Accept applies replacement choice of an expanded card.
func (o *Orchestrator) Accept(cardID string, choice int) error {
	_, err := o.deck.Accept(cardID, choice, o.target())
	if err != nil {
		o.afterRejectedAccept(err)
		return err
	}
	o.metrics.RecordAccepted(1, false)
	o.afterMutation()
	return nil
}

// CorrectAll accepts the first replacement of every card that has one and
// dismisses the rest. It returns the number of replacements applied.
func (o *Orchestrator) CorrectAll() (int, error) {
	applied, err := o.deck.CorrectAll(o.target())
	if len(applied) > 0 {
		o.metrics.RecordAccepted(len(applied), true)
		o.afterMutation()
	} else {
		o.renderHighlights()
	}
	if err != nil {
		o.afterRejectedAccept(err)
		return len(applied), err
	}
	return len(applied), nil
}

// Ignore dismisses a single card without touching the text.
func (o *Orchestrator) Ignore(cardID string) error {
	if _, err := o.deck.Ignore(cardID, o.index); err != nil {
		return err
	}
	o.metrics.RecordIgnored(false)
	o.renderHighlights()
	return nil
}

// IgnoreRule adds a rule to the ignore set and dismisses every card of that
// rule. Ignoring a rule twice has the same effect as ignoring it once. A
// failure to persist the rule is logged; the rule is ignored for the session
// regardless.
func (o *Orchestrator) IgnoreRule(ruleID string) {
	if _, err := o.ignored.Add(o.ctx, ruleID); err != nil {
		o.logger.Warn("Ignored rule not persisted", "rule_id", ruleID, "error", err)
	}
	dismissed := o.deck.IgnoreRule(ruleID, o.index)
	o.metrics.RecordIgnored(true)
	o.renderHighlights()
	o.logger.Debug("Ignored rule", "rule_id", ruleID, "dismissed", len(dismissed))
}

// afterMutation runs once after one or more accepted replacements. Every
// request issued so far described the old text, so it is made stale; if
// one was still in flight, the same kind of request is issued again for the
// new text.
func (o *Orchestrator) afterMutation() {
	inFlight, full := o.seq.MarkMutation()
	o.renderHighlights()
	if !inFlight || !o.connected() {
		return
	}
	o.logger.Debug("Re-issuing request superseded by a local mutation", "full_analysis", full)
	if err := o.issue(full); err != nil {
		o.logger.Warn("Re-issued request not sent", "error", err)
	}
}

func (o *Orchestrator) afterRejectedAccept(err error) {
	if !errors.Is(err, offsets.ErrRegionIntegrity) {
		return
	}
	o.lastError = err
	o.logger.Error("Replacement rejected", "error", err)
	o.metrics.RecordOutcome(observability.OutcomeIntegrity)
	o.renderHighlights()
}

// renderHighlights repaints one highlight per tracked region.
func (o *Orchestrator) renderHighlights() {
	o.editor.ClearHighlights()
	for _, r := range o.index.Regions() {
		if err := o.editor.ApplyHighlight(r.Start, r.Length, editor.StyleSuggestion); err != nil {
			o.logger.Error("Highlight out of range", "rule_id", r.RuleID, "start", r.Start, "length", r.Length, "error", err)
		}
	}
}

func (o *Orchestrator) textLen() int {
	return len([]rune(o.editor.PlainText()))
}
