// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware carries request identity through the labeling API.
// Every labeling route requires an X-Specialist header naming who is
// annotating; authentication of that identity belongs to the deployment
// front door, not this service.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glaucomalab/progression/pkg/validation"
	"github.com/glaucomalab/progression/services/labeler/observability"
)

// Header and context key names.
const (
	SpecialistHeader = "X-Specialist"
	RequestIDHeader  = "X-Request-ID"

	// SpecialistKey is the gin context key the identity is stored under.
	SpecialistKey = "specialist"
	requestIDKey  = "request_id"
)

// RequestID assigns each request a UUID (or propagates the caller's)
// and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the request id set by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequireSpecialist rejects requests without a valid X-Specialist
// header and stores the identity for handlers.
func RequireSpecialist() gin.HandlerFunc {
	return func(c *gin.Context) {
		specialist := c.GetHeader(SpecialistHeader)
		if specialist == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + SpecialistHeader + " header",
			})
			return
		}
		if err := validation.ValidateID(specialist); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid specialist id: " + err.Error(),
			})
			return
		}
		c.Set(SpecialistKey, specialist)
		c.Next()
	}
}

// GetSpecialist returns the identity stored by RequireSpecialist.
func GetSpecialist(c *gin.Context) string {
	return c.GetString(SpecialistKey)
}

// Metrics records one counter increment and a latency observation per
// request, labeled by route template so path parameters don't explode
// cardinality.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status()/100) + "xx"
		m.RecordRequest(route, status, time.Since(start).Seconds())
	}
}
