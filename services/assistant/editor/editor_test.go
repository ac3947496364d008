// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the editor collaborator

package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestSnapshot_ConcatenatesTextInserts(t *testing.T) {
	d := Delta{Ops: []Op{
		{Insert: "Teh "},
		{Insert: "cat", Attributes: map[string]any{"bold": true}},
		{Insert: " sat.\n"},
	}}
	assert.Equal(t, "Teh cat sat.\n", Snapshot(d))
}

func TestSnapshot_EmbedsOccupyOnePosition(t *testing.T) {
	d := Delta{Ops: []Op{
		{Insert: "a"},
		{Insert: map[string]any{"image": "cat.png"}},
		{Insert: "b"},
	}}
	text := Snapshot(d)
	assert.Equal(t, 3, len([]rune(text)))
	assert.Equal(t, EmbedPlaceholder, []rune(text)[1])
}

func TestSnapshot_Empty(t *testing.T) {
	assert.Equal(t, "", Snapshot(Delta{}))
}

// =============================================================================
// Suppression Tests
// =============================================================================

func TestSuppression_ConsumedByNextNotification(t *testing.T) {
	var s Suppression
	assert.False(t, s.Consume(), "armed token reports a user edit")

	s.Suppress()
	assert.Equal(t, Suppressed, s.State())
	assert.True(t, s.Consume())
	assert.Equal(t, Armed, s.State())
	assert.False(t, s.Consume(), "only one notification is swallowed")
}

func TestSuppression_ReleaseWithoutNotification(t *testing.T) {
	var s Suppression
	s.Suppress()
	s.Release()
	assert.False(t, s.Consume())
}

func TestSuppression_ReentrantSuppressPanics(t *testing.T) {
	var s Suppression
	s.Suppress()
	assert.Panics(t, func() { s.Suppress() })
}

// =============================================================================
// Document Tests
// =============================================================================

func TestDocument_ApplyReplacementNotifies(t *testing.T) {
	doc := NewDocument("Teh cat sat.")
	var got []Change
	doc.OnChange(func(c Change) { got = append(got, c) })

	require.NoError(t, doc.ApplyReplacement(0, 3, "The"))
	assert.Equal(t, "The cat sat.", doc.PlainText())
	require.Len(t, got, 1)
	assert.Equal(t, Change{Start: 0, Removed: 3, Inserted: "The"}, got[0])
	assert.Equal(t, 0, got[0].Delta())
}

func TestDocument_RuneOffsets(t *testing.T) {
	doc := NewDocument("café au lait")
	require.NoError(t, doc.ApplyReplacement(5, 7, "with"))
	assert.Equal(t, "café with lait", doc.PlainText())
	assert.Equal(t, 14, doc.Len())
}

func TestDocument_OutOfRange(t *testing.T) {
	doc := NewDocument("abc")
	assert.ErrorIs(t, doc.ApplyReplacement(2, 5, "x"), ErrOutOfRange)
	assert.ErrorIs(t, doc.ApplyReplacement(-1, 1, "x"), ErrOutOfRange)
	assert.ErrorIs(t, doc.ApplyHighlight(1, 3, StyleSuggestion), ErrOutOfRange)
	assert.Equal(t, "abc", doc.PlainText())
}

func TestDocument_SetTextReportsMinimalChange(t *testing.T) {
	doc := NewDocument("The cat sat.")
	var got []Change
	doc.OnChange(func(c Change) { got = append(got, c) })

	require.NoError(t, doc.SetText("The black cat sat."))
	require.Len(t, got, 1)
	assert.Equal(t, Change{Start: 4, Removed: 0, Inserted: "black "}, got[0])

	require.NoError(t, doc.SetText("The black cat sat."))
	assert.Len(t, got, 1, "identical text produces no notification")
}

func TestDocument_HighlightsFollowText(t *testing.T) {
	doc := NewDocument("Teh cat sat on teh mat.")
	require.NoError(t, doc.ApplyHighlight(0, 3, StyleSuggestion))
	require.NoError(t, doc.ApplyHighlight(15, 3, StyleSuggestion))

	// Insert before the second highlight: it moves, the first stays.
	require.NoError(t, doc.Insert(8, "down "))
	hs := doc.Highlights()
	require.Len(t, hs, 2)
	assert.Equal(t, 0, hs[0].Start)
	assert.Equal(t, 20, hs[1].Start)

	// Editing inside the first highlight drops it.
	require.NoError(t, doc.ApplyReplacement(0, 3, "The"))
	hs = doc.Highlights()
	require.Len(t, hs, 1)
	assert.Equal(t, 20, hs[0].Start)

	doc.ClearHighlights()
	assert.Empty(t, doc.Highlights())
}

func TestDocument_Contents(t *testing.T) {
	doc := NewDocument("hello")
	assert.Equal(t, "hello", Snapshot(doc.Contents()))
}
