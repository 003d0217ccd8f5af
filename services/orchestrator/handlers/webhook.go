// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/dedupe"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/middleware"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/pipeline"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/sessions"
)

var webhookTracer = otel.Tracer("otto.orchestrator.handlers")

// VerifySubscription answers the vendor's GET handshake. The vendor
// sends hub.mode=subscribe with the shared verify token and expects the
// hub.challenge value echoed back as plain text.
func VerifySubscription(provider secrets.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var expected []byte
		if provider != nil {
			expected, _ = provider.Secret(secrets.VerifyToken)
		}
		if len(expected) == 0 {
			slog.Error("verify_token_not_configured")
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "verify_token_not_configured"})
			return
		}

		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			slog.Warn("webhook_verification_rejected",
				"mode", mode,
				"correlation_id", middleware.GetCorrelationID(c),
			)
			c.JSON(http.StatusForbidden, gin.H{"detail": "verification_failed"})
			return
		}

		c.String(http.StatusOK, c.Query("hub.challenge"))
	}
}

// ProcessWebhook handles the vendor's POST delivery.
//
// # Description
//
// Parses the envelope from the body the signature middleware buffered
// and runs it through the pipeline. The vendor retries on any non-2xx,
// so retryable backend trouble maps to 503 and everything the retry
// cannot fix to 4xx.
//
// # Outputs
//
//   - 200 {ok, result}: envelope accepted, result is the per-message
//     accounting.
//   - 400 invalid_json: body is not a webhook envelope.
//   - 413 batch_too_large: envelope exceeds the batch cap, nothing
//     was processed.
//   - 503 temporarily_unavailable: dedupe, session store, or the save
//     retry budget failed; safe to redeliver.
//   - 500 internal_error: anything else.
func ProcessWebhook(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := webhookTracer.Start(c.Request.Context(), "ProcessWebhook")
		defer span.End()

		correlationID := middleware.GetCorrelationID(c)

		// The signature middleware buffers the body; read directly
		// when it is not in the chain.
		body := middleware.GetRawBody(c)
		if body == nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid_body"})
				return
			}
		}

		var payload datatypes.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("webhook_invalid_json",
				"error", err.Error(),
				"correlation_id", correlationID,
			)
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid_json"})
			return
		}

		sig := pipeline.Signature{Skipped: true}
		if result, ok := middleware.GetSignatureResult(c); ok {
			sig = pipeline.Signature{
				Validated: result.Valid && !result.Skipped,
				Skipped:   result.Skipped,
			}
		}

		summary, err := p.Process(ctx, payload, sig, correlationID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case errors.Is(err, pipeline.ErrBatchTooLarge):
				slog.Warn("webhook_batch_rejected",
					"error", err.Error(),
					"correlation_id", correlationID,
				)
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "batch_too_large"})
			case errors.Is(err, pipeline.ErrSessionConflict),
				errors.Is(err, dedupe.ErrUnavailable),
				errors.Is(err, sessions.ErrUnavailable):
				slog.Error("webhook_backend_unavailable",
					"error", err.Error(),
					"correlation_id", correlationID,
				)
				c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "temporarily_unavailable"})
			default:
				slog.Error("webhook_processing_failed",
					"error", err.Error(),
					"correlation_id", correlationID,
				)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal_error"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "result": summary})
	}
}
