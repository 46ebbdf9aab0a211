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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bambooforest/qiengine/services/engine/handlers"
)

// SetupRoutes registers the query iteration engine's HTTP API surface
// (spec.md §6): the two core endpoints (POST /query, POST /config), the
// generic message-replay and websocket upgrade that the Callback Layer
// and Pub/Sub Listener feed, the cancel endpoints SPEC_FULL.md's bulk
// cancellation supplement adds, Prometheus metrics, and the health check.
func SetupRoutes(router *gin.Engine, deps *handlers.Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/query", handlers.NewQueryHandler(deps))
	router.POST("/config", handlers.NewConfigHandler(deps))
	router.GET("/fetch/:id", handlers.NewFetchHandler(deps))
	router.GET("/ws", handlers.NewQueryWebSocketHandler(deps))

	query := router.Group("/query")
	{
		query.POST("/:id/cancel", handlers.NewCancelHandler(deps))
		query.POST("/cancel-all", handlers.NewBulkCancelHandler(deps))
	}
}
