// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the suggestion card state machine

package cards

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/probr/services/assistant/clock"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/editor"
	"github.com/AleutianAI/probr/services/assistant/offsets"
)

// fixture builds a document, an index and a deck from a list of issues.
type fixture struct {
	doc   *editor.Document
	idx   *offsets.Index
	deck  *Deck
	clock *clock.Fake
	sup   *editor.Suppression
	cards []*Card

	userEdits int
}

func newFixture(t *testing.T, text string, issues ...datatypes.Issue) *fixture {
	t.Helper()
	f := &fixture{
		doc:   editor.NewDocument(text),
		idx:   offsets.NewIndex(0),
		clock: clock.NewFake(time.Unix(0, 0)),
		sup:   &editor.Suppression{},
	}
	cfg := DefaultConfig()
	cfg.Clock = f.clock
	f.deck = NewDeck(cfg)
	f.doc.OnChange(func(editor.Change) {
		if !f.sup.Consume() {
			f.userEdits++
		}
	})

	regions, err := f.idx.Rebuild(issues, f.doc.Len())
	require.NoError(t, err)
	runes := []rune(text)
	for i, r := range regions {
		f.cards = append(f.cards, New(issues[i], r, string(runes[r.Start:r.End()])))
	}
	f.deck.Replace(f.cards)
	return f
}

func (f *fixture) target() Target {
	return Target{Index: f.idx, Editor: f.doc, Suppression: f.sup}
}

// accept opens c and accepts its replacement at choice.
func (f *fixture) accept(t *testing.T, c *Card, choice int) (Accepted, error) {
	t.Helper()
	_, err := f.deck.Expand(c.ID)
	require.NoError(t, err)
	return f.deck.Accept(c.ID, choice, f.target())
}

func iss(rule string, offset, length int, replacements ...string) datatypes.Issue {
	return datatypes.Issue{
		RuleID:       rule,
		Offset:       offset,
		ErrorLength:  length,
		Category:     "TYPOS",
		Message:      "Possible spelling mistake found.",
		Replacements: replacements,
	}
}

// =============================================================================
// Accept
// =============================================================================

func TestAccept_ReplacesTextWithoutUserEdit(t *testing.T) {
	f := newFixture(t, "Teh cat sat.", iss("R1", 0, 3, "The"))
	card := f.cards[0]
	assert.Equal(t, "Teh", card.Phrase)

	_, err := f.deck.Expand(card.ID)
	require.NoError(t, err)

	acc, err := f.deck.Accept(card.ID, 0, f.target())
	require.NoError(t, err)
	assert.Equal(t, 0, acc.Delta)
	assert.Equal(t, "The cat sat.", f.doc.PlainText())
	assert.Equal(t, 0, f.idx.Len())
	assert.Equal(t, Dismissed, card.State())
	assert.Nil(t, f.deck.Expanded())
	assert.Equal(t, 0, f.userEdits, "programmatic edit is not reported as a user edit")
	assert.Equal(t, editor.Armed, f.sup.State())
}

func TestAccept_ShiftsLaterRegion(t *testing.T) {
	f := newFixture(t, "Teh cat teh mat.",
		iss("R1", 0, 3, "Thee"),
		iss("R2", 8, 3, "the"),
	)
	first, second := f.cards[0], f.cards[1]

	acc, err := f.accept(t, first, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.Delta)
	assert.Equal(t, "Thee cat teh mat.", f.doc.PlainText())
	assert.Equal(t, 9, second.Region.Start)
	assert.LessOrEqual(t, second.Region.End(), f.doc.Len())

	_, err = f.accept(t, second, 0)
	require.NoError(t, err)
	assert.Equal(t, "Thee cat the mat.", f.doc.PlainText())
}

func TestAccept_ChosenReplacement(t *testing.T) {
	f := newFixture(t, "I has a cat.", iss("AGREEMENT", 2, 3, "have", "had"))
	_, err := f.accept(t, f.cards[0], 1)
	require.NoError(t, err)
	assert.Equal(t, "I had a cat.", f.doc.PlainText())
}

func TestAccept_Rejections(t *testing.T) {
	f := newFixture(t, "Teh cat sat.",
		iss("R1", 0, 3, "The"),
		iss("STYLE", 4, 3),
	)

	_, err := f.deck.Accept(f.cards[0].ID, 0, f.target())
	assert.ErrorIs(t, err, ErrCardNotExpanded, "a collapsed card cannot be accepted")
	assert.Equal(t, Collapsed, f.cards[0].State())
	assert.Equal(t, "Teh cat sat.", f.doc.PlainText())

	_, err = f.accept(t, f.cards[1], 0)
	assert.ErrorIs(t, err, ErrNoReplacement)

	_, err = f.accept(t, f.cards[0], 3)
	assert.ErrorIs(t, err, ErrNoReplacement)

	_, err = f.deck.Accept("missing", 0, f.target())
	assert.ErrorIs(t, err, ErrCardNotFound)

	_, err = f.deck.Accept(f.cards[0].ID, 0, f.target())
	require.NoError(t, err)
	_, err = f.deck.Accept(f.cards[0].ID, 0, f.target())
	assert.ErrorIs(t, err, ErrCardDismissed, "a dismissed card cannot be accepted twice")
	assert.Equal(t, "The cat sat.", f.doc.PlainText())
}

func TestAccept_ReplacementLimit(t *testing.T) {
	f := newFixture(t, "wrd", iss("R1", 0, 3, "a", "b", "c", "d", "e", "word"))
	_, err := f.accept(t, f.cards[0], 5)
	assert.ErrorIs(t, err, ErrNoReplacement, "only the displayed replacements can be chosen")
	assert.Len(t, f.cards[0].Shown(f.deck.ReplacementLimit()), 5)
}

func TestAccept_DivergedTextIsIntegrityViolation(t *testing.T) {
	f := newFixture(t, "Teh cat sat.", iss("R1", 0, 3, "The"))

	// The user typed without the index being told.
	require.NoError(t, f.doc.Insert(12, " Then"))

	_, err := f.accept(t, f.cards[0], 0)
	require.ErrorIs(t, err, offsets.ErrRegionIntegrity)
	assert.Equal(t, "Teh cat sat. Then", f.doc.PlainText(), "text is not touched")
	assert.Equal(t, Dismissed, f.cards[0].State())
}

func TestAccept_InvalidatesOverlappingCards(t *testing.T) {
	f := newFixture(t, "a the the cat",
		iss("DOUBLE", 2, 7, "the"),
		iss("ARTICLE", 6, 3, "a"),
		iss("NOUN", 10, 3, "dog"),
	)
	acc, err := f.accept(t, f.cards[0], 0)
	require.NoError(t, err)
	assert.Equal(t, "a the cat", f.doc.PlainText())
	require.Len(t, acc.Invalidated, 1)
	assert.Equal(t, "ARTICLE", acc.Invalidated[0].RuleID)
	assert.Equal(t, Dismissed, f.cards[1].State())

	assert.Equal(t, 6, f.cards[2].Region.Start)
	_, err = f.accept(t, f.cards[2], 0)
	require.NoError(t, err)
	assert.Equal(t, "a the dog", f.doc.PlainText())
}

// =============================================================================
// Ignore
// =============================================================================

func TestIgnore_DismissesWithoutTextChange(t *testing.T) {
	f := newFixture(t, "Teh cat sat.", iss("R1", 0, 3, "The"))
	_, err := f.deck.Ignore(f.cards[0].ID, f.idx)
	require.NoError(t, err)
	assert.Equal(t, "Teh cat sat.", f.doc.PlainText())
	assert.Equal(t, 0, f.idx.Len())
	assert.Empty(t, f.deck.Active())
}

func TestIgnoreRule_RemovesExactlyThatRule(t *testing.T) {
	f := newFixture(t, "one two three four",
		iss("R2", 0, 3),
		iss("R2", 4, 3),
		iss("R2", 8, 5),
		iss("R3", 14, 4),
	)
	dismissed := f.deck.IgnoreRule("R2", f.idx)
	assert.Len(t, dismissed, 3)

	active := f.deck.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "R3", active[0].RuleID)
	require.Equal(t, 1, f.idx.Len())

	// Ignoring again is a no-op.
	assert.Empty(t, f.deck.IgnoreRule("R2", f.idx))
	assert.Len(t, f.deck.Active(), 1)
	assert.Equal(t, 1, f.idx.Len())
}

// =============================================================================
// Expand / Collapse
// =============================================================================

func TestExpand_CollapsesSibling(t *testing.T) {
	f := newFixture(t, "one two", iss("A", 0, 3), iss("B", 4, 3))
	a, b := f.cards[0], f.cards[1]

	_, err := f.deck.Expand(a.ID)
	require.NoError(t, err)
	_, err = f.deck.Expand(b.ID)
	require.NoError(t, err)

	assert.Equal(t, Collapsed, a.State())
	assert.Equal(t, Expanded, b.State())
	assert.Same(t, b, f.deck.Expanded())

	require.NoError(t, f.deck.Collapse(b.ID))
	assert.Nil(t, f.deck.Expanded())
	assert.Equal(t, Collapsed, b.State())
}

func TestExpand_DismissedCard(t *testing.T) {
	f := newFixture(t, "one", iss("A", 0, 3))
	_, err := f.deck.Ignore(f.cards[0].ID, f.idx)
	require.NoError(t, err)
	_, err = f.deck.Expand(f.cards[0].ID)
	assert.ErrorIs(t, err, ErrCardDismissed)
}

// =============================================================================
// Correct All
// =============================================================================

func TestCorrectAll_AccumulatesDrift(t *testing.T) {
	f := newFixture(t, "Teh cat sat on teh mat.",
		iss("R1", 0, 3, "The"),
		iss("STYLE", 4, 3),
		iss("R2", 15, 3, "thee"),
		iss("R3", 19, 3, "rug"),
	)

	applied, err := f.deck.CorrectAll(f.target())
	require.NoError(t, err)
	assert.Len(t, applied, 3)
	assert.Equal(t, "The cat sat on thee rug.", f.doc.PlainText())
	assert.Equal(t, 0, f.userEdits)

	assert.Empty(t, f.deck.Active(), "cards without replacements are dismissed too")
	assert.Equal(t, Dismissed, f.cards[1].State())
	assert.Equal(t, 0, f.idx.Len())
	assert.False(t, f.deck.CanCorrectAll())
}

func TestCorrectAll_AppliesCollapsedAndExpandedCards(t *testing.T) {
	f := newFixture(t, "Teh cat teh mat.",
		iss("R1", 0, 3, "The"),
		iss("R2", 8, 3, "the"),
	)
	_, err := f.deck.Expand(f.cards[1].ID)
	require.NoError(t, err)

	applied, err := f.deck.CorrectAll(f.target())
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Equal(t, "The cat the mat.", f.doc.PlainText())
	assert.Nil(t, f.deck.Expanded())
}

// =============================================================================
// Visibility
// =============================================================================

func TestVisible_RemovalDelay(t *testing.T) {
	f := newFixture(t, "one two", iss("A", 0, 3), iss("B", 4, 3))
	_, err := f.deck.Ignore(f.cards[0].ID, f.idx)
	require.NoError(t, err)

	assert.Len(t, f.deck.Visible(), 2, "dismissed card stays for its exit transition")
	assert.Len(t, f.deck.Active(), 1)

	f.clock.Advance(499 * time.Millisecond)
	assert.Len(t, f.deck.Visible(), 2)

	f.clock.Advance(time.Millisecond)
	visible := f.deck.Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, "B", visible[0].RuleID)

	_, err = f.deck.Get(f.cards[0].ID)
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestReplace_DiscardsPreviousGeneration(t *testing.T) {
	f := newFixture(t, "one two", iss("A", 0, 3), iss("B", 4, 3))
	_, err := f.deck.Expand(f.cards[0].ID)
	require.NoError(t, err)

	f.deck.Replace(nil)
	assert.Empty(t, f.deck.Visible())
	assert.Nil(t, f.deck.Expanded())
	assert.False(t, f.deck.CanCorrectAll())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "collapsed", Collapsed.String())
	assert.Equal(t, "expanded", Expanded.String())
	assert.Equal(t, "dismissed", Dismissed.String())
}
