// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListPatients returns every roster patient id.
func (h *Handlers) ListPatients(c *gin.Context) {
	patients := h.Roster.Patients()
	c.JSON(http.StatusOK, gin.H{"patients": patients, "count": len(patients)})
}

// GetPatient returns the cached roster bundle for one patient.
func (h *Handlers) GetPatient(c *gin.Context) {
	patient := c.Param("patient")

	bundle, err := h.Cache.Patient(c.Request.Context(), patient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "patient lookup failed"})
		return
	}
	if len(bundle.Entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown patient " + patient})
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// GetPatientImages returns the resolved asset lists for a patient,
// optionally narrowed by ?timepoint=.
func (h *Handlers) GetPatientImages(c *gin.Context) {
	patient := c.Param("patient")
	timepoint := c.Query("timepoint")

	set, err := h.Cache.ImageSet(c.Request.Context(), patient, timepoint)
	if err != nil {
		h.Log.Error("image resolution failed", "patient", patient, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image resolution failed"})
		return
	}
	c.JSON(http.StatusOK, set)
}

// PrefetchRequest names the patient to warm in the background.
type PrefetchRequest struct {
	Patient   string `json:"patient" binding:"required"`
	Timepoint string `json:"timepoint"`
}

// Prefetch starts a background cache warm and returns immediately.
// Deployments can turn warming off in config; the endpoint then
// answers 503 instead of panicking on a missing prefetcher.
func (h *Handlers) Prefetch(c *gin.Context) {
	if h.Prefetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prefetch is disabled"})
		return
	}

	var req PrefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	h.Prefetcher.Warm(req.Patient, req.Timepoint)
	c.JSON(http.StatusAccepted, gin.H{"warming": req.Patient})
}
