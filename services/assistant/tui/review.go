// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui provides the interactive suggestion review.
//
// # Description
//
// ReviewModel is a bubbletea model that renders the assistant's View: the
// document with flagged spans, the suggestion cards, the statistics line and
// the connection status. Key presses become card actions.
//
// # Thread Safety
//
// The model is used from the bubbletea event loop only. Actions run as
// tea.Cmds and must be safe to call from any goroutine.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/probr/pkg/ux"
	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/orchestrator"
	"github.com/AleutianAI/probr/services/assistant/transport"
)

// refreshInterval repaints while dismissed cards play their exit
// transition.
const refreshInterval = 250 * time.Millisecond

// =============================================================================
// Actions
// =============================================================================

// Actions are the card operations the review can trigger. Every method
// must be safe to call from any goroutine.
type Actions interface {
	Analyze() error
	Expand(cardID string) error
	Collapse(cardID string) error
	Accept(cardID string, choice int) error
	CorrectAll() (int, error)
	Ignore(cardID string) error
	IgnoreRule(ruleID string) error
	View() (orchestrator.View, error)
}

// =============================================================================
// Messages
// =============================================================================

// ViewMsg carries a fresh assistant view into the model.
type ViewMsg orchestrator.View

// actionMsg reports the outcome of an action.
type actionMsg struct {
	note string
	err  error
}

type refreshMsg struct{}

// =============================================================================
// Key Bindings
// =============================================================================

// KeyMap defines the review key bindings.
type KeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Toggle     key.Binding
	Accept     key.Binding
	Ignore     key.Binding
	IgnoreRule key.Binding
	CorrectAll key.Binding
	Analyze    key.Binding
	Help       key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous card")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next card")),
		Toggle:     key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "expand/collapse")),
		Accept:     key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "accept replacement")),
		Ignore:     key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "ignore")),
		IgnoreRule: key.NewBinding(key.WithKeys("I"), key.WithHelp("I", "ignore rule")),
		CorrectAll: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "correct all")),
		Analyze:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "analyze")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Accept, k.Ignore, k.CorrectAll, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.Accept, k.CorrectAll},
		{k.Ignore, k.IgnoreRule},
		{k.Analyze, k.Help, k.Quit},
	}
}

// =============================================================================
// Model
// =============================================================================

// ReviewModel is the bubbletea model for interactive review.
type ReviewModel struct {
	actions Actions
	keys    KeyMap
	help    help.Model
	title   string

	view   orchestrator.View
	cursor int
	note   string
	err    error

	viewport viewport.Model
	width    int
	height   int
	ready    bool

	refreshing bool
	quitting   bool
}

// NewReviewModel creates a review of the document named title.
func NewReviewModel(title string, actions Actions) ReviewModel {
	return ReviewModel{
		actions: actions,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		title:   title,
	}
}

// Init implements tea.Model.
func (m ReviewModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		height := msg.Height / 3
		if height < 3 {
			height = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.updateViewportContent()
		return m, nil

	case ViewMsg:
		m.view = orchestrator.View(msg)
		m.clampCursor()
		m.updateViewportContent()
		return m, m.scheduleRefresh()

	case refreshMsg:
		m.refreshing = false
		return m, m.refresh()

	case actionMsg:
		m.note = msg.note
		m.err = msg.err
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m ReviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	card, hasCard := m.selected()

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.activeCards())-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Toggle):
		if !hasCard {
			return m, nil
		}
		if card.State == cards.Expanded {
			return m, m.do("", func() error { return m.actions.Collapse(card.ID) })
		}
		return m, m.do("", func() error { return m.actions.Expand(card.ID) })

	case key.Matches(msg, m.keys.Accept):
		if !hasCard {
			return m, nil
		}
		choice := int(msg.String()[0]) - '1'
		if choice >= len(card.Replacements) {
			return m, nil
		}
		note := fmt.Sprintf("Replaced %q with %q", card.Phrase, card.Replacements[choice])
		expanded := card.State == cards.Expanded
		actions := m.actions
		return m, m.do(note, func() error {
			// Only an expanded card accepts; a shortcut on a collapsed one
			// opens it first.
			if !expanded {
				if err := actions.Expand(card.ID); err != nil {
					return err
				}
			}
			return actions.Accept(card.ID, choice)
		})

	case key.Matches(msg, m.keys.Ignore):
		if hasCard {
			return m, m.do("Ignored", func() error { return m.actions.Ignore(card.ID) })
		}

	case key.Matches(msg, m.keys.IgnoreRule):
		if hasCard {
			note := fmt.Sprintf("Ignoring rule %s", card.RuleID)
			return m, m.do(note, func() error { return m.actions.IgnoreRule(card.RuleID) })
		}

	case key.Matches(msg, m.keys.CorrectAll):
		if !m.view.CanCorrectAll {
			return m, nil
		}
		actions := m.actions
		return m, func() tea.Msg {
			n, err := actions.CorrectAll()
			return actionMsg{note: fmt.Sprintf("Applied %d replacement(s)", n), err: err}
		}

	case key.Matches(msg, m.keys.Analyze):
		return m, m.do("Analyzing", m.actions.Analyze)

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m ReviewModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.renderText())
	}
	b.WriteString("\n\n")
	b.WriteString(m.renderCards())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// Cursor returns the index of the selected active card.
func (m ReviewModel) Cursor() int {
	return m.cursor
}

// =============================================================================
// Actions (Internal)
// =============================================================================

func (m ReviewModel) do(note string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{note: note, err: fn()}
	}
}

func (m ReviewModel) refresh() tea.Cmd {
	actions := m.actions
	return func() tea.Msg {
		v, err := actions.View()
		if err != nil {
			return nil
		}
		return ViewMsg(v)
	}
}

// scheduleRefresh repaints once more while any card is dismissed, so the
// card disappears after its exit transition.
func (m *ReviewModel) scheduleRefresh() tea.Cmd {
	if m.refreshing {
		return nil
	}
	for _, c := range m.view.Cards {
		if c.State == cards.Dismissed {
			m.refreshing = true
			return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
		}
	}
	return nil
}

// =============================================================================
// Selection (Internal)
// =============================================================================

func (m ReviewModel) activeCards() []orchestrator.CardView {
	var out []orchestrator.CardView
	for _, c := range m.view.Cards {
		if c.State != cards.Dismissed {
			out = append(out, c)
		}
	}
	return out
}

func (m ReviewModel) selected() (orchestrator.CardView, bool) {
	active := m.activeCards()
	if m.cursor < 0 || m.cursor >= len(active) {
		return orchestrator.CardView{}, false
	}
	return active[m.cursor], true
}

func (m *ReviewModel) clampCursor() {
	n := len(m.activeCards())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// =============================================================================
// Rendering (Internal)
// =============================================================================

func (m *ReviewModel) updateViewportContent() {
	if m.ready {
		m.viewport.SetContent(m.renderText())
	}
}

func (m ReviewModel) renderHeader() string {
	status := m.view.Status.State.String()
	if m.view.Status.State == transport.Connected && m.view.Status.Latency > 0 {
		status += fmt.Sprintf(" %dms", m.view.Status.Latency.Milliseconds())
	}
	if m.view.Analyzing {
		status += " · analyzing"
	}
	statusStyle := ux.Styles.Success
	if m.view.Status.State != transport.Connected {
		statusStyle = ux.Styles.Warning
	}

	header := ux.Styles.Title.Render(m.title) + "  " + statusStyle.Render(status)
	if m.view.WordCount != "" {
		header += "  " + ux.Styles.Muted.Render(m.view.WordCount)
	}
	return header
}

// renderText underlines active spans and bolds the selected one.
func (m ReviewModel) renderText() string {
	runes := []rune(m.view.Text)
	active := m.activeCards()
	selectedID := ""
	if c, ok := m.selected(); ok {
		selectedID = c.ID
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Start < active[j].Start })

	var b strings.Builder
	pos := 0
	for _, c := range active {
		end := c.Start + c.Length
		if c.Start < pos || end > len(runes) {
			continue
		}
		b.WriteString(string(runes[pos:c.Start]))
		style := ux.Styles.Suggestion
		if c.ID == selectedID {
			style = style.Bold(true)
		}
		b.WriteString(style.Render(string(runes[c.Start:end])))
		pos = end
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}

func (m ReviewModel) renderCards() string {
	active := m.activeCards()
	if len(active) == 0 {
		if m.view.Statistics == nil {
			return ux.Styles.Muted.Render("Waiting for analysis...")
		}
		return ux.Styles.Success.Render("No suggestions.")
	}

	var b strings.Builder
	for i, c := range active {
		category := c.Category
		if category == "" {
			category = c.RuleID
		}
		line := fmt.Sprintf("%s  %s", strings.ToUpper(category), c.Phrase)
		if i == m.cursor {
			b.WriteString(ux.Styles.Selected.Render("▸ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
		if c.State != cards.Expanded {
			continue
		}
		b.WriteString("    " + c.Message + "\n")
		for n, r := range c.Replacements {
			b.WriteString(fmt.Sprintf("    %d. %s\n", n+1, ux.Styles.Highlight.Render(r)))
		}
	}
	if m.view.CanCorrectAll {
		b.WriteString(ux.Styles.Subtitle.Render("a: correct all") + "\n")
	}
	return b.String()
}

func (m ReviewModel) renderFooter() string {
	var b strings.Builder
	switch {
	case m.err != nil:
		b.WriteString(ux.Styles.Error.Render(m.err.Error()) + "\n")
	case m.view.Err != nil:
		b.WriteString(ux.Styles.Error.Render(m.view.Err.Error()) + "\n")
	case m.note != "":
		b.WriteString(ux.Styles.Muted.Render(m.note) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}
