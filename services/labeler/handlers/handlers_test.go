// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaucomalab/progression/services/labeler/cache"
	"github.com/glaucomalab/progression/services/labeler/labels"
	"github.com/glaucomalab/progression/services/labeler/middleware"
	"github.com/glaucomalab/progression/services/labeler/prefetch"
	"github.com/glaucomalab/progression/services/labeler/progress"
	"github.com/glaucomalab/progression/services/labeler/roster"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const handlersCSV = `maskedid,eye,visual_field_number,age,sex,pdf_filename,opv_filename,aeexamdate_shift
P001,OD,1,64,F,P001_od_1.pdf,P001_od_1.opv,120
P001,OS,1,64,F,P001_os_1.pdf,P001_os_1.opv,120
P002,OD,1,71,M,P002_od_1.pdf,,33
`

type stubResolver struct{ dir string }

func (s stubResolver) Resolve(_ context.Context, patient, modality, eye, timepoint string) ([]string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s_%s.png", modality, patient, eye, timepoint))
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

type testEnv struct {
	router *gin.Engine
	h      *Handlers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rosterPath := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(rosterPath, []byte(handlersCSV), 0o644))
	r, err := roster.Load(rosterPath, nil)
	require.NoError(t, err)

	store, err := labels.New(t.TempDir(), nil, "labels_spreadsheet", nil)
	require.NoError(t, err)

	table, err := progress.OpenInMemoryBadgerTable()
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })
	tracker := progress.NewTracker(table, r, store, 0, nil)

	c := cache.New(5, stubResolver{dir: t.TempDir()}, store, r, nil)
	p := prefetch.New(c, nil)
	t.Cleanup(p.Stop)

	h := New(r, store, tracker, c, p, nil, nil)

	router := gin.New()
	router.GET("/health", h.Health)
	api := router.Group("/api/v1")
	api.Use(middleware.RequestID(), middleware.RequireSpecialist())
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
	api.GET("/progress/report", h.ExportReport)
	api.GET("/cache/stats", h.GetCacheStats)
	api.POST("/cache/invalidate", h.InvalidateCache)
	api.GET("/cache/recent", h.GetRecentPatients)

	return &testEnv{router: router, h: h}
}

func (e *testEnv) do(t *testing.T, method, path, specialist string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if specialist != "" {
		req.Header.Set(middleware.SpecialistHeader, specialist)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func saveBody(patient, eye, field string) map[string]any {
	return map[string]any{
		"patient":     patient,
		"eye":         eye,
		"field_index": field,
		"labels": map[string]string{
			"normality":   "Abnormal",
			"reliability": "Reliable",
			"gdefect1":    "Nasal Step",
			"gposition1":  "Superior",
		},
		"comment": "clear superior nasal step",
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "labeler")
}

func TestSpecialistHeaderRequired(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/patients", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSaveAndGetLabels(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/labels", "drsmith", saveBody("P001", "R", "1.0"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Identity was normalized on save, so the canonical path finds it.
	w = env.do(t, http.MethodGet, "/api/v1/labels/P001/OD/1", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Nasal Step")
	// Source metadata was copied from the roster row.
	assert.Contains(t, w.Body.String(), "P001_od_1.pdf")

	w = env.do(t, http.MethodGet, "/api/v1/labels/P001", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestSaveLabelsRejectsBadVocab(t *testing.T) {
	env := newTestEnv(t)
	body := saveBody("P001", "OD", "1")
	body["labels"] = map[string]string{"normality": "Sideways"}

	w := env.do(t, http.MethodPost, "/api/v1/labels", "drsmith", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSaveLabelsRejectsBadIdentity(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/labels", "drsmith", saveBody("P001", "middle", "1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetLabelsNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/labels/P001/OD/1", "drsmith", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteLabels(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/labels", "drsmith", saveBody("P001", "OD", "1"))

	w := env.do(t, http.MethodDelete, "/api/v1/labels/P001", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":1`)

	w = env.do(t, http.MethodGet, "/api/v1/labels/P001/OD/1", "drsmith", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPatientsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/patients", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = env.do(t, http.MethodGet, "/api/v1/patients/P001", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"age":"64"`)

	w = env.do(t, http.MethodGet, "/api/v1/patients/P404", "drsmith", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/patients/P001/images?timepoint=1", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "VF_P001_OD_1.png")
}

func TestCompletionFlow(t *testing.T) {
	env := newTestEnv(t)

	// P002 needs one acquisition labeled; before labeling the check
	// fails and an unforced mark conflicts.
	w := env.do(t, http.MethodGet, "/api/v1/progress/check/P002", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"complete":false`)

	w = env.do(t, http.MethodPost, "/api/v1/progress/complete", "drsmith",
		map[string]any{"patient": "P002"})
	assert.Equal(t, http.StatusConflict, w.Code)

	env.do(t, http.MethodPost, "/api/v1/labels", "drsmith", saveBody("P002", "OD", "1"))

	w = env.do(t, http.MethodGet, "/api/v1/progress/check/P002", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"complete":true`)

	w = env.do(t, http.MethodPost, "/api/v1/progress/complete", "drsmith",
		map[string]any{"patient": "P002"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/progress/completed", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "P002")

	w = env.do(t, http.MethodGet, "/api/v1/progress/available", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "P001")
	assert.NotContains(t, w.Body.String(), "P002")

	w = env.do(t, http.MethodGet, "/api/v1/progress/stats", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"completed_count":1`)
	assert.Contains(t, w.Body.String(), `"remaining_count":1`)
}

func TestForcedCompletion(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/progress/complete", "drsmith",
		map[string]any{"patient": "P001", "force": true})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAutoMark(t *testing.T) {
	env := newTestEnv(t)
	// Fully label P002 but not P001.
	env.do(t, http.MethodPost, "/api/v1/labels", "drsmith", saveBody("P002", "OD", "1"))
	env.do(t, http.MethodPost, "/api/v1/labels", "drsmith", saveBody("P001", "OD", "1"))

	w := env.do(t, http.MethodPost, "/api/v1/progress/auto-mark", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "P002")
	assert.NotContains(t, w.Body.String(), "P001")
}

func TestProgressReportIsCSV(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/progress/complete", "drsmith",
		map[string]any{"patient": "P001", "force": true})

	w := env.do(t, http.MethodGet, "/api/v1/progress/report", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "specialist,completed_count")
	assert.Contains(t, w.Body.String(), "drsmith")
}

func TestCacheAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/patients/P001/images", "drsmith", nil)

	w := env.do(t, http.MethodGet, "/api/v1/cache/stats", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"capacity":5`)

	w = env.do(t, http.MethodGet, "/api/v1/cache/recent?limit=1", "drsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "P001")

	w = env.do(t, http.MethodPost, "/api/v1/cache/invalidate", "drsmith",
		map[string]any{"patient": "P001"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":1`)
}

func TestPrefetchAccepted(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/prefetch", "drsmith",
		map[string]any{"patient": "P001"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	env.h.Prefetcher.Wait()
	assert.True(t, env.h.Cache.IsCached("P001"))
}

func TestPrefetchDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.h.Prefetcher = nil

	w := env.do(t, http.MethodPost, "/api/v1/prefetch", "drsmith",
		map[string]any{"patient": "P001"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "prefetch is disabled")
}
