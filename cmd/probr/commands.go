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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/probr/cmd/probr/config"
	"github.com/AleutianAI/probr/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath    string
	envFile       string
	logLevel      string
	transportFlag string

	fixFlag     bool
	yesFlag     bool
	writeFlag   bool
	fullFlag    bool
	persistFlag bool

	appConfig config.ProbrConfig
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "probr",
		Short: "A writing assistant that flags grammar, spelling and style issues",
		Long: `probr sends your text to an analysis service and turns the grammar,
spelling and style matches it returns into suggestion cards you can
accept, ignore, or apply all at once.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				_ = appLogger.Close()
			}
		},
	}

	// --- Document Commands ---
	checkCmd = &cobra.Command{
		Use:   "check [file]",
		Short: "Analyze a file and print its suggestions and readability statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckCommand, // Defined in cmd_check.go
	}
	reviewCmd = &cobra.Command{
		Use:   "review [file]",
		Short: "Review suggestions for a file interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewCommand, // Defined in cmd_review.go
	}
	watchCmd = &cobra.Command{
		Use:   "watch [file]",
		Short: "Print live statistics while a file is edited",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatchCommand, // Defined in cmd_watch.go
	}

	// --- Ignore List ---
	ignoreCmd = &cobra.Command{
		Use:   "ignore",
		Short: "Manage the rules ignored across sessions",
	}
	ignoreListCmd = &cobra.Command{
		Use:   "list",
		Short: "List ignored rules",
		Args:  cobra.NoArgs,
		RunE:  runIgnoreList, // Defined in cmd_ignore.go
	}
	ignoreAddCmd = &cobra.Command{
		Use:   "add [rule-id...]",
		Short: "Ignore one or more rules",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIgnoreAdd,
	}
	ignoreClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Forget every ignored rule",
		Args:  cobra.NoArgs,
		RunE:  runIgnoreClear,
	}

	// --- Service ---
	gatewayCmd = &cobra.Command{
		Use:   "gateway",
		Short: "Run the analysis gateway in front of the scoring service",
		Args:  cobra.NoArgs,
		RunE:  runGatewayCommand, // Defined in cmd_gateway.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.probr/probr.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "transport override (websocket, http)")

	checkCmd.Flags().BoolVar(&fixFlag, "fix", false, "apply the first replacement of every suggestion and write the file")
	checkCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "do not ask before writing the file")
	reviewCmd.Flags().BoolVar(&writeFlag, "write", true, "write accepted replacements back to the file on exit")
	watchCmd.Flags().BoolVar(&fullFlag, "full", false, "run a full analysis on every change, not just statistics")
	rootCmd.PersistentFlags().BoolVar(&persistFlag, "persist-ignores", true, "keep ignored rules across sessions")

	ignoreCmd.AddCommand(ignoreListCmd, ignoreAddCmd, ignoreClearCmd)
	rootCmd.AddCommand(checkCmd, reviewCmd, watchCmd, ignoreCmd, gatewayCmd)
}

// setup loads the environment file and the configuration, applies flag
// overrides, and installs the logger.
func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if transportFlag != "" {
		cfg.Client.Transport = transportFlag
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("persist-ignores") {
		cfg.Ignore.Persist = persistFlag
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	appConfig = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	appLogger = logging.New(logging.Config{
		Level:   level,
		Format:  logFormat(cfg.Logging.Format),
		LogDir:  cfg.Logging.Dir,
		Service: cmd.Name(),
		// The review TUI owns the terminal.
		Quiet: cmd.Name() == "review",
	})
	slog.SetDefault(appLogger.Slog())
	return nil
}

func logFormat(name string) logging.Format {
	switch name {
	case "text":
		return logging.FormatText
	case "json":
		return logging.FormatJSON
	default:
		return logging.FormatAuto
	}
}
