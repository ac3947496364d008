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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/probr/pkg/ux"
	"github.com/AleutianAI/probr/pkg/validation"
	"github.com/AleutianAI/probr/services/assistant/ignore"
)

var errIgnoreNotPersisted = errors.New("ignored rules are not persisted; enable ignore.persist or drop --persist-ignores=false")

// withIgnoreSet opens the persisted ignore list for the duration of fn.
func withIgnoreSet(cmd *cobra.Command, fn func(ctx context.Context, p *ux.Printer, set *ignore.Set) error) error {
	if !appConfig.Ignore.Persist {
		return errIgnoreNotPersisted
	}
	ctx := cmd.Context()
	set, err := openIgnoreSet(ctx, appConfig.Ignore, nil, appLogger.Slog())
	if err != nil {
		return err
	}
	defer set.Close()
	return fn(ctx, ux.NewPrinter(cmd.OutOrStdout()), set)
}

func runIgnoreList(cmd *cobra.Command, args []string) error {
	return withIgnoreSet(cmd, func(_ context.Context, p *ux.Printer, set *ignore.Set) error {
		listIgnored(p, set)
		return nil
	})
}

func runIgnoreAdd(cmd *cobra.Command, args []string) error {
	return withIgnoreSet(cmd, func(ctx context.Context, p *ux.Printer, set *ignore.Set) error {
		return addIgnored(ctx, p, set, args)
	})
}

func runIgnoreClear(cmd *cobra.Command, args []string) error {
	return withIgnoreSet(cmd, func(ctx context.Context, p *ux.Printer, set *ignore.Set) error {
		return clearIgnored(ctx, p, set)
	})
}

func listIgnored(p *ux.Printer, set *ignore.Set) {
	recs := set.Records()
	if len(recs) == 0 {
		p.Info("No ignored rules.")
		return
	}
	for _, r := range recs {
		p.Info(fmt.Sprintf("%-40s ignored %s", r.RuleID, r.IgnoredAt.Local().Format("2006-01-02 15:04")))
	}
	p.Summary("rules", len(recs))
}

// addIgnored validates every rule before storing any of them.
func addIgnored(ctx context.Context, p *ux.Printer, set *ignore.Set, args []string) error {
	rules := make([]string, 0, len(args))
	for _, arg := range args {
		rule, err := validation.SanitizeRuleID(arg)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
	}
	for _, rule := range rules {
		added, err := set.Add(ctx, rule)
		if err != nil {
			return fmt.Errorf("ignore %s: %w", rule, err)
		}
		if added {
			p.Success("Ignoring " + rule)
		} else {
			p.Info(rule + " is already ignored")
		}
	}
	return nil
}

func clearIgnored(ctx context.Context, p *ux.Printer, set *ignore.Set) error {
	n := set.Len()
	if err := set.Clear(ctx); err != nil {
		return err
	}
	p.Success(fmt.Sprintf("Forgot %d ignored rules", n))
	return nil
}
