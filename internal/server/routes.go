// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the issue index endpoints on the router.
//
// Endpoints:
//
//	GET  /v1/issues/:number                    - Full issue record
//	GET  /v1/issues/:number/similar            - Nearest records by embedding
//	GET  /v1/issues/:number/cross-references   - Linked records, both directions
//	GET  /v1/issues/:number/metrics            - Derived metrics and quartiles
//	POST /v1/issues/:number/recommendations    - Attach a triage recommendation
//	POST /v1/search/similar                    - Nearest records to free text
//	GET  /v1/top/:metric                       - Highest-ranked records by metric
//	GET  /v1/stats                             - Collection coverage counters
//	GET  /v1/validate                          - Collection consistency sweep
//	GET  /healthz                              - Health check
func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	router.GET("/healthz", handlers.HandleHealth)

	v1 := router.Group("/v1")
	{
		issues := v1.Group("/issues")
		{
			issues.GET("/:number", handlers.HandleGetIssue)
			issues.GET("/:number/similar", handlers.HandleSimilar)
			issues.GET("/:number/cross-references", handlers.HandleCrossReferences)
			issues.GET("/:number/metrics", handlers.HandleMetrics)
			issues.POST("/:number/recommendations", handlers.HandleAddRecommendation)
		}

		v1.POST("/search/similar", handlers.HandleSearchSimilar)
		v1.GET("/top/:metric", handlers.HandleTop)
		v1.GET("/stats", handlers.HandleStats)
		v1.GET("/validate", handlers.HandleValidate)
	}
}

// NewRouter builds a release-mode router with the API registered.
func NewRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, handlers)
	return router
}
