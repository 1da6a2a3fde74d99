// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the labeling service.
// Handlers stay thin: identity comes from middleware, domain rules live
// in the labels, progress, and cache packages.
package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/services/labeler/cache"
	"github.com/glaucomalab/progression/services/labeler/labels"
	"github.com/glaucomalab/progression/services/labeler/observability"
	"github.com/glaucomalab/progression/services/labeler/prefetch"
	"github.com/glaucomalab/progression/services/labeler/progress"
	"github.com/glaucomalab/progression/services/labeler/roster"
)

// Handlers bundles the service dependencies behind the HTTP routes.
type Handlers struct {
	Roster     *roster.Roster
	Store      *labels.Store
	Tracker    *progress.Tracker
	Cache      *cache.Cache
	Prefetcher *prefetch.Prefetcher
	Metrics    *observability.Metrics
	Log        *logging.Logger

	statsMu   sync.Mutex
	lastStats cache.Stats
}

// New creates the handler set. Metrics may be nil.
func New(r *roster.Roster, store *labels.Store, tracker *progress.Tracker,
	c *cache.Cache, p *prefetch.Prefetcher, m *observability.Metrics, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.Default()
	}
	return &Handlers{
		Roster:     r,
		Store:      store,
		Tracker:    tracker,
		Cache:      c,
		Prefetcher: p,
		Metrics:    m,
		Log:        log,
	}
}

// Health reports service liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "labeler"})
}
