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
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/OttoOrchestrator/pkg/logging"
)

// CorrelationIDHeader is read from the request and echoed on the
// response so callers can trace a webhook post through the logs.
const CorrelationIDHeader = "x-correlation-id"

// correlationIDKey is the context key for the correlation id.
const correlationIDKey = "otto_correlation_id"

// maxCorrelationIDLen bounds caller-supplied ids so they stay sane in
// logs and audit records.
const maxCorrelationIDLen = 128

// CorrelationID creates a Gin middleware that ensures every request
// carries a correlation id.
//
// The id comes from the x-correlation-id header when present, else a
// fresh UUID. It is stored in the Gin context, stamped onto the
// request context for logging and onto the active span, and echoed
// back on the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.NewString()
		}

		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Request = c.Request.WithContext(
			logging.WithCorrelationID(c.Request.Context(), id),
		)

		// The tracing middleware runs first, so the request span is
		// already in the context. Carrying the id there joins traces
		// to logs and audit records.
		if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().IsValid() {
			span.SetAttributes(attribute.String("correlation_id", id))
		}

		c.Next()
	}
}

// GetCorrelationID returns the request's correlation id, or "" when
// the correlation middleware did not run.
func GetCorrelationID(c *gin.Context) string {
	if v, exists := c.Get(correlationIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
