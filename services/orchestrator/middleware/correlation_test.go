// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/OttoOrchestrator/pkg/logging"
)

func correlationRouter(t *testing.T, capture *string) *gin.Engine {
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/test", func(c *gin.Context) {
		*capture = GetCorrelationID(c)

		// The id must also travel on the request context for loggers.
		assert.Equal(t, *capture, logging.CorrelationIDFrom(c.Request.Context()))

		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestCorrelationID_UsesHeaderValue(t *testing.T) {
	var got string
	router := correlationRouter(t, &got)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(CorrelationIDHeader, "corr-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "corr-42", got)
	assert.Equal(t, "corr-42", w.Header().Get(CorrelationIDHeader))
}

func TestCorrelationID_GeneratesWhenMissing(t *testing.T) {
	var got string
	router := correlationRouter(t, &got)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	_, err := uuid.Parse(got)
	require.NoError(t, err, "generated correlation id should be a UUID")
	assert.Equal(t, got, w.Header().Get(CorrelationIDHeader))
}

func TestCorrelationID_RegeneratesOverlongHeader(t *testing.T) {
	var got string
	router := correlationRouter(t, &got)

	oversize := strings.Repeat("x", maxCorrelationIDLen+1)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(CorrelationIDHeader, oversize)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, oversize, got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestGetCorrelationID_NotSet(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Empty(t, GetCorrelationID(c))
}
