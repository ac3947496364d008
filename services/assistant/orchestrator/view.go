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
	"fmt"

	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// CardView is the render data of one card.
type CardView struct {
	ID       string
	RuleID   string
	Category string
	Message  string

	// Phrase is the flagged text, shown with Category in the collapsed
	// header.
	Phrase string

	// Replacements holds at most the configured number of replacements.
	Replacements []string

	State  cards.State
	Start  int
	Length int
}

// View is everything a renderer needs. It is a snapshot; renderers never
// hold references into orchestrator state.
type View struct {
	Text   string
	Status transport.Status

	// Analyzing is true while a full analysis is the latest pending request.
	Analyzing bool

	Statistics *datatypes.TextStatistics
	WordCount  string

	Cards []CardView

	// CanCorrectAll controls the "correct all" presentation: shown iff some
	// active card offers a replacement.
	CanCorrectAll bool

	// Err is the last region integrity violation, cleared by the next
	// successful generation or user edit.
	Err error
}

// View returns the current render data.
func (o *Orchestrator) View() View {
	_, full := o.seq.Awaiting()
	v := View{
		Text:          o.editor.PlainText(),
		Status:        o.status,
		Analyzing:     full,
		Statistics:    o.stats,
		WordCount:     WordCount(o.stats),
		CanCorrectAll: o.deck.CanCorrectAll(),
		Err:           o.lastError,
	}

	limit := o.deck.ReplacementLimit()
	for _, c := range o.deck.Visible() {
		shown := c.Shown(limit)
		replacements := make([]string, len(shown))
		copy(replacements, shown)
		v.Cards = append(v.Cards, CardView{
			ID:           c.ID,
			RuleID:       c.RuleID,
			Category:     c.Category,
			Message:      c.Message,
			Phrase:       c.Phrase,
			Replacements: replacements,
			State:        c.State(),
			Start:        c.Region.Start,
			Length:       c.Region.Length,
		})
	}
	return v
}

// WordCount formats the word count line, "1 word" or "N words". It is empty
// until statistics are known.
func WordCount(stats *datatypes.TextStatistics) string {
	if stats == nil {
		return ""
	}
	if stats.LexiconCount == 1 {
		return "1 word"
	}
	return fmt.Sprintf("%d words", stats.LexiconCount)
}

// WordCountDetail formats the syllable and sentence counts shown next to the
// word count.
func WordCountDetail(stats *datatypes.TextStatistics) string {
	if stats == nil {
		return ""
	}
	return fmt.Sprintf("%d syllables - %d sentences", stats.SyllableCount, stats.SentenceCount)
}
