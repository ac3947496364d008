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
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/probr/cmd/probr/config"
	"github.com/AleutianAI/probr/pkg/ux"
	"github.com/AleutianAI/probr/services/assistant/cards"
	"github.com/AleutianAI/probr/services/assistant/orchestrator"
)

// checkOptions controls what `probr check` does after printing.
type checkOptions struct {
	Fix bool
	Yes bool

	// Confirm asks before the file is rewritten. Nil means confirmFix.
	Confirm func(prompt string) (bool, error)
}

func runCheckCommand(cmd *cobra.Command, args []string) error {
	p := ux.NewPrinter(cmd.OutOrStdout())
	opts := checkOptions{Fix: fixFlag, Yes: yesFlag}
	return runCheck(cmd.Context(), p, appConfig, args[0], opts, sessionOptions{Logger: appLogger.Slog()})
}

// runCheck analyzes the file at path once, prints its cards and
// statistics, and optionally applies every first replacement.
func runCheck(ctx context.Context, p *ux.Printer, cfg config.ProbrConfig, path string, opts checkOptions, sopts sessionOptions) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	s, err := newSession(ctx, cfg, string(data), sopts)
	if err != nil {
		return err
	}
	defer s.close()

	return s.run(ctx, func(ctx context.Context) error {
		if err := s.awaitConnected(ctx); err != nil {
			return err
		}
		v, err := s.analyze(ctx)
		if err != nil {
			return err
		}

		p.Title(filepath.Base(path))
		if v.Err != nil {
			p.Warning(v.Err.Error())
		}
		p.Info(markText(v.Text, v.Cards, p.Mark))
		printCards(p, v)
		printStatistics(p, v.Statistics)
		p.Summary("issues", activeCards(v), "ignored", s.ignored.Len())

		if !opts.Fix {
			return nil
		}
		if !v.CanCorrectAll {
			p.Info("Nothing to fix.")
			return nil
		}
		if !opts.Yes {
			confirm := opts.Confirm
			if confirm == nil {
				confirm = confirmFix
			}
			ok, err := confirm(fmt.Sprintf("Apply %d suggestions to %s?", activeCards(v), path))
			if err != nil {
				return err
			}
			if !ok {
				p.Info("No changes written.")
				return nil
			}
		}
		return applyAll(ctx, p, s, path, info.Mode().Perm())
	})
}

// applyAll runs correct-all on the loop and writes the result to path.
func applyAll(ctx context.Context, p *ux.Printer, s *session, path string, mode os.FileMode) error {
	var (
		applied int
		err     error
	)
	if doErr := s.orch.Do(ctx, func() { applied, err = s.orch.CorrectAll() }); doErr != nil {
		return doErr
	}
	if err != nil {
		return fmt.Errorf("correct all: %w", err)
	}

	v, err := s.view(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(v.Text), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	p.Success(fmt.Sprintf("Applied %d suggestions to %s", applied, path))
	return nil
}

func confirmFix(prompt string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(prompt).
		Affirmative("Apply").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

func activeCards(v orchestrator.View) int {
	n := 0
	for _, c := range v.Cards {
		if c.State != cards.Dismissed {
			n++
		}
	}
	return n
}
