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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/probr/pkg/ux"
	"github.com/AleutianAI/probr/services/assistant/orchestrator"
	"github.com/AleutianAI/probr/services/assistant/transport"
	"github.com/AleutianAI/probr/services/assistant/tui"
)

func runReviewCommand(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	original := string(data)

	ctx := cmd.Context()
	s, err := newSession(ctx, appConfig, original, sessionOptions{Logger: appLogger.Slog()})
	if err != nil {
		return err
	}
	defer s.close()

	var final string
	err = s.run(ctx, func(ctx context.Context) error {
		actions := &loopActions{ctx: ctx, s: s}
		model := tui.NewReviewModel(filepath.Base(path), actions)
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

		// Forward views off the event loop; Send blocks until the program
		// reads the message. The first Connected view triggers the initial
		// analysis.
		go func() {
			analyzed := false
			for {
				select {
				case <-ctx.Done():
					return
				case v := <-s.feed.updates():
					program.Send(tui.ViewMsg(v))
					if !analyzed && v.Status.State == transport.Connected {
						analyzed = true
						if err := actions.Analyze(); err != nil {
							slog.Warn("Initial analysis failed", "error", err)
						}
					}
				}
			}
		}()

		if _, err := program.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("review: %w", err)
		}

		v, err := s.view(ctx)
		if err != nil {
			return err
		}
		final = v.Text
		return nil
	})
	if err != nil {
		return err
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	if !writeFlag || final == original {
		p.Info("No changes written.")
		return nil
	}
	if err := os.WriteFile(path, []byte(final), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	p.Success("Saved " + path)
	return nil
}

// loopActions runs review actions on the orchestrator's event loop.
type loopActions struct {
	ctx context.Context
	s   *session
}

func (a *loopActions) do(fn func() error) error {
	var err error
	if doErr := a.s.orch.Do(a.ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

func (a *loopActions) Analyze() error {
	return a.do(a.s.orch.Analyze)
}

func (a *loopActions) Expand(cardID string) error {
	return a.do(func() error { return a.s.orch.Expand(cardID) })
}

func (a *loopActions) Collapse(cardID string) error {
	return a.do(func() error { return a.s.orch.Collapse(cardID) })
}

func (a *loopActions) Accept(cardID string, choice int) error {
	return a.do(func() error { return a.s.orch.Accept(cardID, choice) })
}

func (a *loopActions) CorrectAll() (int, error) {
	var n int
	err := a.do(func() error {
		var err error
		n, err = a.s.orch.CorrectAll()
		return err
	})
	return n, err
}

func (a *loopActions) Ignore(cardID string) error {
	return a.do(func() error { return a.s.orch.Ignore(cardID) })
}

func (a *loopActions) IgnoreRule(ruleID string) error {
	return a.do(func() error {
		a.s.orch.IgnoreRule(ruleID)
		return nil
	})
}

func (a *loopActions) View() (orchestrator.View, error) {
	return a.s.view(a.ctx)
}
