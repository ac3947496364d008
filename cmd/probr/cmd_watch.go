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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/probr/cmd/probr/config"
	"github.com/AleutianAI/probr/pkg/ux"
	"github.com/AleutianAI/probr/services/assistant/orchestrator"
	"github.com/AleutianAI/probr/services/assistant/transport"
	"github.com/AleutianAI/probr/services/assistant/watcher"
)

func runWatchCommand(cmd *cobra.Command, args []string) error {
	p := ux.NewPrinter(cmd.OutOrStdout())
	return runWatch(cmd.Context(), p, appConfig, args[0], fullFlag, sessionOptions{Logger: appLogger.Slog()})
}

// runWatch mirrors the file at path into a session and prints a line each
// time the statistics, the status or the card count change. With full set
// every change also requests a full analysis.
func runWatch(ctx context.Context, p *ux.Printer, cfg config.ProbrConfig, path string, full bool, sopts sessionOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	s, err := newSession(ctx, cfg, string(data), sopts)
	if err != nil {
		return err
	}
	defer s.close()

	logger := sopts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return s.run(ctx, func(ctx context.Context) error {
		fw, err := watcher.New(path, string(data), func(content string) {
			err := s.orch.Do(ctx, func() {
				if err := s.doc.SetText(content); err != nil {
					logger.Warn("Failed to load file change", "path", path, "error", err)
					return
				}
				if full {
					if err := s.orch.Analyze(); err != nil {
						logger.Debug("Analysis not requested", "error", err)
					}
				}
			})
			if err != nil {
				logger.Debug("File change dropped", "error", err)
			}
		}, &watcher.Options{Logger: logger})
		if err != nil {
			return err
		}

		p.Title("Watching " + filepath.Base(path))
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return fw.Run(gctx)
		})
		g.Go(func() error {
			printWatchLines(gctx, p, s.feed.updates(), full, func() {
				_ = s.orch.Do(gctx, func() {
					if !full {
						s.orch.HandleTextChange()
					} else if err := s.orch.Analyze(); err != nil {
						logger.Debug("Analysis not requested", "error", err)
					}
				})
			})
			return nil
		})
		return g.Wait()
	})
}

// printWatchLines prints one line per distinct view summary until ctx ends.
// onConnect runs once, on the first Connected view, to fetch the initial
// numbers.
func printWatchLines(ctx context.Context, p *ux.Printer, views <-chan orchestrator.View, full bool, onConnect func()) {
	last := ""
	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-views:
			if !connected && v.Status.State == transport.Connected {
				connected = true
				onConnect()
			}
			line := watchLine(v, full)
			if line == last {
				continue
			}
			last = line
			p.Info(line)
		}
	}
}

// watchLine summarizes a view in one line.
func watchLine(v orchestrator.View, full bool) string {
	line := statusLine(v.Status, v.Analyzing)
	if v.Statistics != nil {
		line += " | " + orchestrator.WordCount(v.Statistics) + ", " + orchestrator.WordCountDetail(v.Statistics)
	}
	if full {
		line += fmt.Sprintf(" | %d issues", activeCards(v))
	}
	return line
}
