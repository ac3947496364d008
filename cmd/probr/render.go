// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/probr/pkg/ux"
	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/datatypes"
	"github.com/AleutianAI/probr/services/assistant/orchestrator"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// markText returns text with every card span passed through mark. Spans are
// rune offsets; overlapping spans are marked once, from the first start.
func markText(text string, views []orchestrator.CardView, mark func(string) string) string {
	runes := []rune(text)
	spans := make([]orchestrator.CardView, 0, len(views))
	for _, c := range views {
		if c.State != cards.Dismissed && c.Start >= 0 && c.Start+c.Length <= len(runes) {
			spans = append(spans, c)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	pos := 0
	for _, c := range spans {
		if c.Start < pos {
			continue
		}
		b.WriteString(string(runes[pos:c.Start]))
		b.WriteString(mark(string(runes[c.Start : c.Start+c.Length])))
		pos = c.Start + c.Length
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}

// cardHeader is the collapsed presentation: category and flagged phrase.
func cardHeader(c orchestrator.CardView) string {
	category := c.Category
	if category == "" {
		category = c.RuleID
	}
	return fmt.Sprintf("%s: %q", strings.ToUpper(category), c.Phrase)
}

// cardBody lists the message and numbered replacements.
func cardBody(c orchestrator.CardView) string {
	var b strings.Builder
	b.WriteString(c.Message)
	for i, r := range c.Replacements {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, r)
	}
	if len(c.Replacements) == 0 {
		b.WriteString("\n  (no suggestion)")
	}
	fmt.Fprintf(&b, "\n  rule %s", c.RuleID)
	return b.String()
}

// printCards writes every visible card as a box.
func printCards(p *ux.Printer, v orchestrator.View) {
	for _, c := range v.Cards {
		if c.State == cards.Dismissed {
			continue
		}
		p.Box(cardHeader(c), cardBody(c))
	}
}

// printStatistics writes the word count and the readability table.
func printStatistics(p *ux.Printer, stats *datatypes.TextStatistics) {
	if stats == nil {
		return
	}
	p.Info(fmt.Sprintf("%s, %s", orchestrator.WordCount(stats), orchestrator.WordCountDetail(stats)))
	for _, name := range datatypes.MetricOrder {
		m, ok := stats.Readability[name]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%-30s %s", metricLabel(name), m.Score.String())
		if name == datatypes.MetricDifficultWords && len(m.Words) > 0 {
			line += "  (" + strings.Join(m.Words, ", ") + ")"
		}
		p.Info(line)
	}
}

func metricLabel(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// statusLine renders the connection indicator.
func statusLine(s transport.Status, analyzing bool) string {
	line := s.State.String()
	if s.State == transport.Connected && s.Latency > 0 {
		line += fmt.Sprintf(" (%dms)", s.Latency.Milliseconds())
	}
	if analyzing {
		line += " - analyzing"
	}
	return line
}
