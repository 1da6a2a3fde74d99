// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glaucomalab/progression/services/labeler/middleware"
)

// GetCompleted returns the specialist's completed patients.
func (h *Handlers) GetCompleted(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	completed, err := h.Tracker.Completed(c.Request.Context(), specialist)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "progress lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": completed, "count": len(completed)})
}

// GetAvailable returns roster patients the specialist has not finished.
func (h *Handlers) GetAvailable(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	available, err := h.Tracker.Available(c.Request.Context(), specialist)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "progress lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available, "count": len(available)})
}

// CheckCompletion reports whether a patient's expected acquisitions are
// all labeled by this specialist.
func (h *Handlers) CheckCompletion(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	patient := c.Param("patient")

	complete, err := h.Tracker.CheckPatientCompletion(c.Request.Context(), specialist, patient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "completion check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient": patient, "complete": complete})
}

// MarkCompletedRequest names the patient to mark done. Force skips the
// completion check for supervisor overrides.
type MarkCompletedRequest struct {
	Patient string `json:"patient" binding:"required"`
	Force   bool   `json:"force"`
}

// MarkCompleted records a patient as finished. Unless forced, the
// patient must actually have every expected acquisition labeled.
func (h *Handlers) MarkCompleted(c *gin.Context) {
	var req MarkCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	specialist := middleware.GetSpecialist(c)
	ctx := c.Request.Context()

	if !req.Force {
		complete, err := h.Tracker.CheckPatientCompletion(ctx, specialist, req.Patient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "completion check failed"})
			return
		}
		if !complete {
			c.JSON(http.StatusConflict, gin.H{
				"error": fmt.Sprintf("patient %s still has unlabeled acquisitions", req.Patient),
			})
			return
		}
	}

	if err := h.Tracker.MarkCompleted(ctx, specialist, req.Patient); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record completion"})
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordCompletion(specialist)
	}
	c.JSON(http.StatusOK, gin.H{"patient": req.Patient, "completed": true})
}

// AutoMark sweeps the specialist's remaining patients and marks every
// fully labeled one.
func (h *Handlers) AutoMark(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	newly, err := h.Tracker.AutoMarkCompleted(c.Request.Context(), specialist)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "auto-mark sweep failed"})
		return
	}
	if h.Metrics != nil {
		for range newly {
			h.Metrics.RecordCompletion(specialist)
		}
	}
	c.JSON(http.StatusOK, gin.H{"newly_completed": newly, "count": len(newly)})
}

// GetStats returns the specialist's completion summary.
func (h *Handlers) GetStats(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	stats, err := h.Tracker.Stats(c.Request.Context(), specialist)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats lookup failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetAllStats returns every specialist's summary, most complete first.
func (h *Handlers) GetAllStats(c *gin.Context) {
	stats, err := h.Tracker.AllStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"specialists": stats, "count": len(stats)})
}

// ResetProgress deletes the specialist's completion row.
func (h *Handlers) ResetProgress(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	if err := h.Tracker.Reset(c.Request.Context(), specialist); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "progress reset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"specialist": specialist, "reset": true})
}

// ExportReport streams the completion report as a download. CSV by
// default; ?format=json gets the timestamped JSON report instead.
func (h *Handlers) ExportReport(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or json"})
		return
	}

	filename := fmt.Sprintf("progress_report_%s.%s", uuid.NewString(), format)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)

	var err error
	if format == "json" {
		c.Header("Content-Type", "application/json")
		err = h.Tracker.ExportJSON(c.Request.Context(), c.Writer)
	} else {
		c.Header("Content-Type", "text/csv")
		err = h.Tracker.ExportReport(c.Request.Context(), c.Writer)
	}
	if err != nil {
		h.Log.Error("report export failed", "error", err, "format", format)
		c.Status(http.StatusInternalServerError)
	}
}
