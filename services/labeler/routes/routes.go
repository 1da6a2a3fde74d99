// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the labeling API onto a gin router.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glaucomalab/progression/services/labeler/handlers"
	"github.com/glaucomalab/progression/services/labeler/middleware"
	"github.com/glaucomalab/progression/services/labeler/observability"
)

// SetupRoutes registers every endpoint. /health and /metrics are open;
// everything under /api/v1 requires an X-Specialist header.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, m *observability.Metrics) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.RequestID(), middleware.Metrics(m), middleware.RequireSpecialist())

	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:patient", h.GetPatient)
	api.GET("/patients/:patient/images", h.GetPatientImages)
	api.POST("/prefetch", h.Prefetch)

	api.POST("/labels", h.SaveLabels)
	api.GET("/labels/:patient", h.ListLabels)
	api.GET("/labels/:patient/:eye/:field", h.GetLabels)
	api.DELETE("/labels/:patient", h.DeleteLabels)

	api.GET("/progress/completed", h.GetCompleted)
	api.GET("/progress/available", h.GetAvailable)
	api.GET("/progress/check/:patient", h.CheckCompletion)
	api.POST("/progress/complete", h.MarkCompleted)
	api.POST("/progress/auto-mark", h.AutoMark)
	api.GET("/progress/stats", h.GetStats)
	api.GET("/progress/stats/all", h.GetAllStats)
	api.DELETE("/progress", h.ResetProgress)
	api.GET("/progress/report", h.ExportReport)

	api.GET("/cache/stats", h.GetCacheStats)
	api.POST("/cache/invalidate", h.InvalidateCache)
	api.POST("/cache/clear", h.ClearCache)
	api.GET("/cache/recent", h.GetRecentPatients)
	api.POST("/roster/reload", h.ReloadRoster)
}
