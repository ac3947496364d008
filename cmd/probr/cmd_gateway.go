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
	"github.com/AleutianAI/probr/services/gateway"
)

func runGatewayCommand(cmd *cobra.Command, args []string) error {
	svc, err := gateway.New(gatewayConfig(appConfig.Gateway, appLogger.Slog()))
	if err != nil {
		return err
	}
	return svc.Run(cmd.Context())
}

// gatewayConfig maps the file configuration onto the gateway's options.
func gatewayConfig(cfg config.GatewayConfig, logger *slog.Logger) gateway.Config {
	return gateway.Config{
		Port:              cfg.Port,
		ScorerURL:         cfg.ScorerURL,
		ScorerTimeout:     cfg.ScorerTimeout.Std(),
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
		HeartbeatGrace:    cfg.HeartbeatGrace.Std(),
		MaxConcurrent:     cfg.MaxConcurrent,
		DisableMetrics:    !cfg.Metrics,
		TraceExporter:     cfg.TraceExporter,
		OTelEndpoint:      cfg.OTelEndpoint,
		Logger:            logger,
	}
}
