// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cards implements the suggestion card state machine.
//
// # Description
//
// A Card is created for every issue that survives the ignore filter. It
// starts Collapsed, may be Expanded (at most one card at a time), and ends
// Dismissed when it is accepted, ignored, bulk-ignored by rule, or
// invalidated by an overlapping accept. Dismissed cards stay visible for a
// short removal delay so a renderer can play an exit transition.
//
// The Deck owns the cards of one response generation. A new generation
// replaces the whole deck at once; cards are never diffed.
//
// # Thread Safety
//
// Not safe for concurrent use. The orchestrator drives the deck from its
// event loop only.
package cards

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/offsets"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrCardNotFound is returned for an id that is not in the deck.
	ErrCardNotFound = errors.New("card not found")

	// ErrCardDismissed is returned for a transition out of Dismissed.
	ErrCardDismissed = errors.New("card already dismissed")

	// ErrCardNotExpanded is returned when accepting a card the user has not
	// opened.
	ErrCardNotExpanded = errors.New("card is not expanded")

	// ErrNoReplacement is returned when accepting a card without the
	// requested replacement.
	ErrNoReplacement = errors.New("card has no such replacement")

	// ErrRegionRemoved is returned when a card's region is no longer in the
	// offset index.
	ErrRegionRemoved = errors.New("card region no longer tracked")
)

// =============================================================================
// State
// =============================================================================

// State is the lifecycle state of a card.
type State int

const (
	// Collapsed is the initial list presentation.
	Collapsed State = iota

	// Expanded shows the message and the replacements.
	Expanded

	// Dismissed is terminal.
	Dismissed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Collapsed:
		return "collapsed"
	case Expanded:
		return "expanded"
	case Dismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// =============================================================================
// Card
// =============================================================================

// Card is one suggestion shown to the user.
type Card struct {
	ID           string
	Region       *offsets.Region
	RuleID       string
	Category     string
	Message      string
	Replacements []string

	// Phrase is the flagged text as it was when the card was created.
	Phrase string

	state       State
	dismissedAt time.Time
}

// New creates a collapsed card for issue, tracked by region. phrase is the
// text under the region at creation time.
func New(issue datatypes.Issue, region *offsets.Region, phrase string) *Card {
	replacements := make([]string, len(issue.Replacements))
	copy(replacements, issue.Replacements)
	return &Card{
		ID:           uuid.NewString(),
		Region:       region,
		RuleID:       issue.RuleID,
		Category:     issue.Category,
		Message:      issue.Message,
		Replacements: replacements,
		Phrase:       phrase,
	}
}

// State returns the card state.
func (c *Card) State() State {
	return c.state
}

// HasReplacement reports whether the card offers at least one replacement.
func (c *Card) HasReplacement() bool {
	return len(c.Replacements) > 0
}

// Shown returns the replacements a renderer may offer, at most limit of them.
// A limit of zero or less means no limit.
func (c *Card) Shown(limit int) []string {
	if limit <= 0 || len(c.Replacements) <= limit {
		return c.Replacements
	}
	return c.Replacements[:limit]
}
