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

	"github.com/glaucomalab/progression/services/labeler/datatypes"
	"github.com/glaucomalab/progression/services/labeler/middleware"
)

// SaveLabelsRequest is the save-annotation payload. Identity comes from
// the X-Specialist header plus these three fields.
type SaveLabelsRequest struct {
	Patient    string `json:"patient" binding:"required"`
	Eye        string `json:"eye" binding:"required"`
	FieldIndex string `json:"field_index" binding:"required"`

	Labels         datatypes.LabelSet `json:"labels"`
	Comment        string             `json:"comment"`
	SpecialistName string             `json:"specialist_name"`
	DataSource     string             `json:"data_source"`
}

// SaveLabels validates and persists one annotation record, then
// refreshes the cached copy.
func (h *Handlers) SaveLabels(c *gin.Context) {
	var req SaveLabelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	specialist := middleware.GetSpecialist(c)
	key, err := datatypes.NewRecordKey(specialist, req.Patient, req.Eye, req.FieldIndex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := datatypes.ValidateLabels(req.Labels); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	rec := &datatypes.AnnotationRecord{
		Key:            key,
		Labels:         req.Labels,
		Comment:        req.Comment,
		SpecialistName: req.SpecialistName,
		DataSource:     req.DataSource,
	}
	if entry, ok := h.Roster.Entry(key.Patient, key.Eye, key.FieldIndex); ok {
		rec.Source = datatypes.SourceMeta{
			PDFFilename:   entry.PDFFilename,
			OPVFilename:   entry.OPVFilename,
			ExamDateShift: entry.ExamDateShift,
			Age:           entry.Age,
		}
	}

	err = h.Store.Save(c.Request.Context(), rec)
	if h.Metrics != nil {
		h.Metrics.RecordLabelSave("store", err == nil)
	}
	if err != nil {
		h.Log.Error("label save failed", "key", key.String(),
			"request_id", middleware.GetRequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "could not save labels; please retry and report if it persists",
		})
		return
	}

	h.Cache.UpdateLabels(rec)
	c.JSON(http.StatusOK, gin.H{
		"saved":        true,
		"key":          key,
		"last_updated": rec.LastUpdated,
	})
}

// GetLabels returns the stored record for one acquisition, or 404.
func (h *Handlers) GetLabels(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	key, err := datatypes.NewRecordKey(specialist,
		c.Param("patient"), c.Param("eye"), c.Param("field"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, found, err := h.Cache.Labels(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "label lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no labels stored for " + key.String()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListLabels returns the keys of the specialist's stored records for a
// patient.
func (h *Handlers) ListLabels(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	patient := c.Param("patient")

	keys, err := h.Store.ListForPatient(specialist, patient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "label listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient": patient, "keys": keys, "count": len(keys)})
}

// DeleteLabels removes the specialist's local records for a patient and
// drops the patient from the cache.
func (h *Handlers) DeleteLabels(c *gin.Context) {
	specialist := middleware.GetSpecialist(c)
	patient := c.Param("patient")

	removed, err := h.Store.DeleteForPatient(specialist, patient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "label deletion failed"})
		return
	}
	h.Cache.Invalidate(patient)

	h.Log.Info("labels deleted", "specialist", specialist, "patient", patient, "removed", removed)
	c.JSON(http.StatusOK, gin.H{"patient": patient, "removed": removed})
}
