// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cards

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/probr/services/assistant/clock"
	"github.com/AleutianAI/probr/services/assistant/editor"
	"github.com/AleutianAI/probr/services/assistant/offsets"
)

// Config configures a Deck.
type Config struct {
	// RemovalDelay keeps dismissed cards visible for an exit transition.
	RemovalDelay time.Duration

	// ReplacementLimit caps the replacements offered per card. Zero means
	// no limit.
	ReplacementLimit int

	// Clock defaults to clock.System.
	Clock clock.Clock
}

// DefaultConfig returns the deck settings of the browser client.
func DefaultConfig() Config {
	return Config{
		RemovalDelay:     500 * time.Millisecond,
		ReplacementLimit: 5,
	}
}

// Target is what a card transition mutates: the offset index and the editor
// text, kept in step with each other.
type Target struct {
	Index       *offsets.Index
	Editor      editor.Editor
	Suppression *editor.Suppression
}

// Accepted describes one applied replacement.
type Accepted struct {
	Card     *Card
	Start    int
	Removed  int
	Inserted string
	Delta    int

	// Invalidated holds other cards whose regions overlapped the replaced
	// span and were dismissed with it.
	Invalidated []*Card
}

// Deck is the card collection of the current response generation.
type Deck struct {
	cfg      Config
	clock    clock.Clock
	cards    []*Card
	expanded *Card
}

// NewDeck creates an empty deck.
func NewDeck(cfg Config) *Deck {
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	return &Deck{cfg: cfg, clock: cfg.Clock}
}

// =============================================================================
// Generations
// =============================================================================

// Replace discards every card, whatever its state, and installs cards as the
// new generation in document order.
func (d *Deck) Replace(cards []*Card) {
	next := make([]*Card, len(cards))
	copy(next, cards)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Region.Start < next[j].Region.Start
	})
	d.cards = next
	d.expanded = nil
}

// Clear discards every card.
func (d *Deck) Clear() {
	d.cards = nil
	d.expanded = nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns the card with id.
func (d *Deck) Get(id string) (*Card, error) {
	for _, c := range d.cards {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
}

// Active returns the cards that are not dismissed, in document order.
func (d *Deck) Active() []*Card {
	var out []*Card
	for _, c := range d.cards {
		if c.state != Dismissed {
			out = append(out, c)
		}
	}
	return out
}

// Visible returns the active cards plus the dismissed cards still inside
// their removal delay. Dismissed cards past the delay are dropped from the
// deck.
func (d *Deck) Visible() []*Card {
	now := d.clock.Now()
	var out []*Card
	kept := d.cards[:0]
	for _, c := range d.cards {
		if c.state == Dismissed && now.Sub(c.dismissedAt) >= d.cfg.RemovalDelay {
			continue
		}
		kept = append(kept, c)
		out = append(out, c)
	}
	for i := len(kept); i < len(d.cards); i++ {
		d.cards[i] = nil
	}
	d.cards = kept
	return out
}

// ByRule returns the active cards of a rule.
func (d *Deck) ByRule(ruleID string) []*Card {
	var out []*Card
	for _, c := range d.cards {
		if c.state != Dismissed && c.RuleID == ruleID {
			out = append(out, c)
		}
	}
	return out
}

// Expanded returns the expanded card, or nil.
func (d *Deck) Expanded() *Card {
	return d.expanded
}

// CanCorrectAll reports whether "correct all" has anything to do: at least
// one active card offers a replacement.
func (d *Deck) CanCorrectAll() bool {
	for _, c := range d.cards {
		if c.state != Dismissed && c.HasReplacement() {
			return true
		}
	}
	return false
}

// ReplacementLimit returns the configured replacement cap.
func (d *Deck) ReplacementLimit() int {
	return d.cfg.ReplacementLimit
}

// =============================================================================
// Transitions
// =============================================================================

// Expand moves a card to Expanded and collapses the previously expanded one.
func (d *Deck) Expand(id string) (*Card, error) {
	c, err := d.live(id)
	if err != nil {
		return nil, err
	}
	if d.expanded != nil && d.expanded != c && d.expanded.state == Expanded {
		d.expanded.state = Collapsed
	}
	c.state = Expanded
	d.expanded = c
	return c, nil
}

// Collapse moves an expanded card back to Collapsed.
func (d *Deck) Collapse(id string) error {
	c, err := d.live(id)
	if err != nil {
		return err
	}
	c.state = Collapsed
	if d.expanded == c {
		d.expanded = nil
	}
	return nil
}

// Ignore dismisses one card and forgets its region. The text is untouched.
func (d *Deck) Ignore(id string, idx *offsets.Index) (*Card, error) {
	c, err := d.live(id)
	if err != nil {
		return nil, err
	}
	idx.Remove(c.Region)
	d.dismiss(c)
	return c, nil
}

// IgnoreRule dismisses every active card of a rule and forgets their
// regions. Calling it again for the same rule is a no-op.
func (d *Deck) IgnoreRule(ruleID string, idx *offsets.Index) []*Card {
	idx.RemoveByRule(ruleID)
	dismissed := d.ByRule(ruleID)
	for _, c := range dismissed {
		d.dismiss(c)
	}
	return dismissed
}

// Accept replaces the card's span with one of its replacements.
//
// # Description
//
// The transition runs in this order:
//
//  1. The card must be Expanded, its region tracked, and choice must name
//     one of the offered replacements.
//  2. The index and the editor must agree on the text length. If they do
//     not, the texts have diverged and nothing is applied.
//  3. The card's region, and any region overlapping the replaced span, are
//     removed; every later region is shifted by the length change.
//  4. The editor text is replaced with the change notification suppressed,
//     and the suppression token is released once the editor returns.
//
// # Outputs
//
//   - Accepted: the applied replacement.
//   - error: ErrCardNotFound, ErrCardDismissed, ErrCardNotExpanded,
//     ErrNoReplacement, ErrRegionRemoved, or an offsets.IntegrityError. On an
//     integrity error the card is dismissed and the text is not changed.
func (d *Deck) Accept(id string, choice int, t Target) (Accepted, error) {
	c, err := d.live(id)
	if err != nil {
		return Accepted{}, err
	}
	if c.state != Expanded {
		return Accepted{}, fmt.Errorf("%w: %s", ErrCardNotExpanded, id)
	}
	return d.accept(c, choice, t)
}

// accept applies a replacement for a live card in any state.
func (d *Deck) accept(c *Card, choice int, t Target) (Accepted, error) {
	if !t.Index.Contains(c.Region) {
		d.dismiss(c)
		return Accepted{}, fmt.Errorf("%w: card %s", ErrRegionRemoved, c.ID)
	}
	shown := c.Shown(d.cfg.ReplacementLimit)
	if choice < 0 || choice >= len(shown) {
		return Accepted{}, fmt.Errorf("%w: card %s offers %d, wanted index %d",
			ErrNoReplacement, c.ID, len(shown), choice)
	}
	replacement := shown[choice]

	start, length := c.Region.Start, c.Region.Length
	end := start + length
	if textLen := len([]rune(t.Editor.PlainText())); textLen != t.Index.TextLen() {
		d.dismiss(c)
		return Accepted{}, &offsets.IntegrityError{
			Op: "accept", RuleID: c.RuleID, Start: start, Length: length, TextLen: textLen,
			Reason: fmt.Sprintf("editor text length %d differs from tracked length %d", textLen, t.Index.TextLen()),
		}
	}
	delta := len([]rune(replacement)) - length

	removed := t.Index.RemoveOverlapping(start, end)
	invalidated := d.cardsFor(removed, c)
	if err := t.Index.Shift(start, delta); err != nil {
		d.dismiss(c)
		for _, other := range invalidated {
			d.dismiss(other)
		}
		return Accepted{}, err
	}

	t.Suppression.Suppress()
	err := t.Editor.ApplyReplacement(start, end, replacement)
	t.Suppression.Release()
	if err != nil {
		// The index already reflects a mutation the editor refused, so no
		// region can be trusted any more.
		t.Index.Clear(len([]rune(t.Editor.PlainText())))
		for _, other := range d.Active() {
			d.dismiss(other)
		}
		return Accepted{}, fmt.Errorf("apply replacement for card %s: %w", c.ID, err)
	}

	d.dismiss(c)
	for _, other := range invalidated {
		d.dismiss(other)
	}
	return Accepted{
		Card:        c,
		Start:       start,
		Removed:     length,
		Inserted:    replacement,
		Delta:       delta,
		Invalidated: invalidated,
	}, nil
}

// CorrectAll accepts the first replacement of every active card that has
// one, top to bottom. Each accept shifts the regions after it, so every later
// card is applied at its already corrected start.
//
// Cards are accepted whether collapsed or expanded. Cards without
// replacements have nothing to apply; they are dismissed and their regions
// forgotten so the batch leaves no suggestion behind. Cards invalidated by an
// overlapping accept earlier in the batch are skipped. The batch stops at the
// first integrity error.
func (d *Deck) CorrectAll(t Target) ([]Accepted, error) {
	var applied []Accepted
	for _, c := range d.Active() {
		if c.state == Dismissed {
			continue
		}
		if !c.HasReplacement() {
			t.Index.Remove(c.Region)
			d.dismiss(c)
			continue
		}
		acc, err := d.accept(c, 0, t)
		if err != nil {
			if errors.Is(err, ErrRegionRemoved) {
				continue
			}
			return applied, err
		}
		applied = append(applied, acc)
	}
	return applied, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (d *Deck) live(id string) (*Card, error) {
	c, err := d.Get(id)
	if err != nil {
		return nil, err
	}
	if c.state == Dismissed {
		return nil, fmt.Errorf("%w: %s", ErrCardDismissed, id)
	}
	return c, nil
}

func (d *Deck) dismiss(c *Card) {
	if c.state == Dismissed {
		return
	}
	c.state = Dismissed
	c.dismissedAt = d.clock.Now()
	if d.expanded == c {
		d.expanded = nil
	}
}

// cardsFor returns the live cards tracking any of regions, except self.
func (d *Deck) cardsFor(regions []*offsets.Region, self *Card) []*Card {
	var out []*Card
	for _, r := range regions {
		for _, c := range d.cards {
			if c != self && c.Region == r && c.state != Dismissed {
				out = append(out, c)
			}
		}
	}
	return out
}
