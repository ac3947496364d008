// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/probr/services/gateway/handlers"
)

// Dependencies are what the routes need. Gatherer may be nil, in which case
// /metrics is not registered.
type Dependencies struct {
	Analyzer  *handlers.Analyzer
	WebSocket handlers.WebSocketConfig
	Gatherer  prometheus.Gatherer
}

// SetupRoutes registers every gateway route on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// The browser client posts to the root and connects to /ws.
	router.POST("/", handlers.HandleAnalyze(deps.Analyzer))
	router.GET("/ws", handlers.HandleWebSocket(deps.Analyzer, deps.WebSocket))

	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", handlers.HandleAnalyze(deps.Analyzer))
		v1.GET("/ws", handlers.HandleWebSocket(deps.Analyzer, deps.WebSocket))
	}
}
