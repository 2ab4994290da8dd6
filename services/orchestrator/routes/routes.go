// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/AleutianAI/groundcheck/pkg/telemetry"
	"github.com/AleutianAI/groundcheck/services/orchestrator/datatypes"
	"github.com/AleutianAI/groundcheck/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// SetupRoutes registers every endpoint on router. Any other method on a known
// path gets a 405 with an Allow header.
func SetupRoutes(router *gin.Engine, deps handlers.Deps, upgrader *websocket.Upgrader,
	summary func() datatypes.ConfigSummary) {

	router.HandleMethodNotAllowed = true
	router.NoMethod(handlers.MethodNotAllowed(router, deps.Metrics))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	// Kept for clients built against the original single endpoint.
	router.POST("/api/chat", handlers.HandleAnswer(deps))
	router.OPTIONS("/api/chat", handlers.HandleOptions)

	v1 := router.Group("/v1")
	{
		v1.POST("/answer", handlers.HandleAnswer(deps))
		v1.OPTIONS("/answer", handlers.HandleOptions)
		v1.GET("/answer/ws", handlers.HandleAnswerStream(deps, upgrader))
		v1.POST("/ask", handlers.HandleAsk(deps))
		v1.OPTIONS("/ask", handlers.HandleOptions)
		v1.GET("/config", handlers.HandleConfig(summary))
		if deps.Audit != nil {
			v1.GET("/audit", handlers.HandleAudit(deps))
		}
	}
}
