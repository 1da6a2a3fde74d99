// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetCacheStats returns cache sizes and counters, and forwards counter
// deltas to Prometheus.
func (h *Handlers) GetCacheStats(c *gin.Context) {
	stats := h.Cache.Stats()

	if h.Metrics != nil {
		h.statsMu.Lock()
		prev := h.lastStats
		h.lastStats = stats
		h.statsMu.Unlock()
		h.Metrics.SyncCacheStats(
			float64(stats.Hits-prev.Hits),
			float64(stats.Misses-prev.Misses),
			float64(stats.Evictions-prev.Evictions),
		)
	}

	c.JSON(http.StatusOK, stats)
}

// InvalidateCacheRequest names the patient to drop from the cache.
type InvalidateCacheRequest struct {
	Patient string `json:"patient" binding:"required"`
}

// InvalidateCache drops one patient's cached state.
func (h *Handlers) InvalidateCache(c *gin.Context) {
	var req InvalidateCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	removed := h.Cache.Invalidate(req.Patient)
	c.JSON(http.StatusOK, gin.H{"patient": req.Patient, "removed": removed})
}

// ClearCache empties the whole cache.
func (h *Handlers) ClearCache(c *gin.Context) {
	h.Cache.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// GetRecentPatients returns recently used patients, newest first.
// ?limit= bounds the list; 0 or absent means all.
func (h *Handlers) GetRecentPatients(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	recent := h.Cache.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"patients": recent, "count": len(recent)})
}

// ReloadRoster re-reads the roster CSV on demand.
func (h *Handlers) ReloadRoster(c *gin.Context) {
	if err := h.Roster.Reload(); err != nil {
		h.Log.Error("roster reload failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "roster reload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": true, "patients": len(h.Roster.Patients())})
}
