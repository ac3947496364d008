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

import (
	"fmt"
	"sync"
)

// Document is an in-memory Editor.
//
// # Description
//
// Document stores the text as runes so offsets match the engine's code point
// positions. User edits (Insert, Delete, SetText) and programmatic edits
// (ApplyReplacement) both notify change handlers; highlights move with the
// text the way a rich editor's formatting does, and a highlight touched by an
// edit is dropped.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run after the lock is released, on the
// goroutine that made the edit.
type Document struct {
	mu         sync.Mutex
	text       []rune
	highlights []Highlight
	handlers   []ChangeHandler
}

// NewDocument creates a document holding text.
func NewDocument(text string) *Document {
	return &Document{text: []rune(text)}
}

// PlainText returns the current text.
func (d *Document) PlainText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.text)
}

// Len returns the text length in runes.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.text)
}

// Contents returns the document as a single-insert Delta.
func (d *Document) Contents() Delta {
	return Delta{Ops: []Op{{Insert: d.PlainText()}}}
}

// OnChange registers a change handler.
func (d *Document) OnChange(handler ChangeHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// ApplyReplacement replaces [start, end) with text.
func (d *Document) ApplyReplacement(start, end int, text string) error {
	return d.replace(start, end, text)
}

// Insert inserts text at pos as a user edit.
func (d *Document) Insert(pos int, text string) error {
	return d.replace(pos, pos, text)
}

// Delete removes [start, end) as a user edit.
func (d *Document) Delete(start, end int) error {
	return d.replace(start, end, "")
}

// SetText replaces the whole content as a user edit. The notification covers
// only the span that actually differs, so unchanged prefixes and suffixes keep
// their highlights. Setting identical text produces no notification.
func (d *Document) SetText(text string) error {
	next := []rune(text)

	d.mu.Lock()
	prev := d.text
	prefix := 0
	for prefix < len(prev) && prefix < len(next) && prev[prefix] == next[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(prev)-prefix && suffix < len(next)-prefix &&
		prev[len(prev)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}
	d.mu.Unlock()

	if prefix == len(prev) && prefix == len(next) {
		return nil
	}
	return d.replace(prefix, len(prev)-suffix, string(next[prefix:len(next)-suffix]))
}

func (d *Document) replace(start, end int, text string) error {
	d.mu.Lock()
	if start < 0 || end < start || end > len(d.text) {
		n := len(d.text)
		d.mu.Unlock()
		return fmt.Errorf("%w: [%d, %d) in text of length %d", ErrOutOfRange, start, end, n)
	}

	inserted := []rune(text)
	next := make([]rune, 0, len(d.text)-(end-start)+len(inserted))
	next = append(next, d.text[:start]...)
	next = append(next, inserted...)
	next = append(next, d.text[end:]...)
	d.text = next

	change := Change{Start: start, Removed: end - start, Inserted: text}
	d.highlights = moveHighlights(d.highlights, change)
	handlers := make([]ChangeHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
	return nil
}

// moveHighlights shifts highlights after the change and drops the ones the
// change touched.
func moveHighlights(hs []Highlight, c Change) []Highlight {
	end := c.Start + c.Removed
	delta := c.Delta()
	kept := hs[:0]
	for _, h := range hs {
		switch {
		case h.Start+h.Length <= c.Start:
			kept = append(kept, h)
		case h.Start >= end:
			h.Start += delta
			kept = append(kept, h)
		}
	}
	return kept
}

// ApplyHighlight paints [start, start+length).
func (d *Document) ApplyHighlight(start, length int, style HighlightStyle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if start < 0 || length <= 0 || start+length > len(d.text) {
		return fmt.Errorf("%w: highlight [%d, %d) in text of length %d",
			ErrOutOfRange, start, start+length, len(d.text))
	}
	d.highlights = append(d.highlights, Highlight{Start: start, Length: length, Style: style})
	return nil
}

// ClearHighlights removes every highlight.
func (d *Document) ClearHighlights() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.highlights = nil
}

// Highlights returns a copy of the active highlights.
func (d *Document) Highlights() []Highlight {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Highlight, len(d.highlights))
	copy(out, d.highlights)
	return out
}
