// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editor defines the contract between the suggestion engine and the
// rich-text surface the user types into.
//
// # Description
//
// The engine never owns the text. It reads a plain-text snapshot, asks the
// editor to replace spans and paint highlights, and listens for change
// notifications. Document is an in-memory implementation used by the CLI
// front ends and by tests.
//
// # Offsets
//
// All offsets are Unicode code point (rune) indexes into PlainText().
//
// # Change Suppression
//
// Programmatic mutations made by the engine must not be mistaken for user
// edits. The engine arms a Suppression immediately before calling
// ApplyReplacement; the change notification produced by that call consumes
// it. See Suppression for the exact contract.
package editor

import "errors"

// ErrOutOfRange is returned when a span does not fit inside the current text.
var ErrOutOfRange = errors.New("span out of range")

// HighlightStyle names the visual treatment of a highlighted span.
type HighlightStyle string

const (
	// StyleSuggestion marks a span that has an active suggestion card.
	StyleSuggestion HighlightStyle = "suggestion-highlight"
)

// Change describes a text mutation reported to change handlers.
type Change struct {
	// Start is the rune offset where the mutation begins.
	Start int

	// Removed is the number of runes removed at Start.
	Removed int

	// Inserted is the text inserted at Start.
	Inserted string
}

// Delta returns the length difference the change introduced.
func (c Change) Delta() int {
	return len([]rune(c.Inserted)) - c.Removed
}

// ChangeHandler receives text-change notifications. Formatting changes such
// as highlights do not produce notifications.
type ChangeHandler func(Change)

// Highlight is an active highlighted span.
type Highlight struct {
	Start  int
	Length int
	Style  HighlightStyle
}

// Editor is the collaborator the suggestion engine drives.
//
// # Thread Safety
//
// The engine calls an Editor from a single goroutine. Change handlers are
// invoked synchronously from inside the mutating call, before it returns.
type Editor interface {
	// PlainText returns the current text content.
	PlainText() string

	// ApplyReplacement replaces the runes in [start, end) with text and
	// notifies change handlers.
	ApplyReplacement(start, end int, text string) error

	// ApplyHighlight paints [start, start+length) with style.
	ApplyHighlight(start, length int, style HighlightStyle) error

	// ClearHighlights removes every highlight.
	ClearHighlights()

	// OnChange registers a change handler.
	OnChange(handler ChangeHandler)
}
