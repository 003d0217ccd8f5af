// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/handlers"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/middleware"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/observability"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/pipeline"
)

// Dependencies carries everything route construction needs.
type Dependencies struct {
	Secrets  secrets.Provider
	Pipeline *pipeline.Pipeline
	Metrics  *observability.PipelineMetrics
}

// SetupRoutes registers every endpoint. The signature check runs as
// route middleware on the POST path only; the GET handshake is
// authenticated by the verify token instead.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := router.Group("/webhooks")
	{
		webhooks.GET("/whatsapp", handlers.VerifySubscription(deps.Secrets))
		webhooks.POST("/whatsapp",
			webhookStatusRecorder(deps.Metrics),
			middleware.WebhookSignature(deps.Secrets),
			handlers.ProcessWebhook(deps.Pipeline),
		)
	}
}

// webhookStatusRecorder counts the terminal status of each POST,
// including aborts from the signature middleware further down the
// chain.
func webhookStatusRecorder(metrics *observability.PipelineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if metrics == nil {
			return
		}
		var status observability.WebhookStatus
		switch code := c.Writer.Status(); code {
		case http.StatusOK:
			status = observability.WebhookOK
		case http.StatusBadRequest:
			status = observability.WebhookInvalidJSON
		case http.StatusUnauthorized:
			status = observability.WebhookInvalidSignature
		case http.StatusRequestEntityTooLarge:
			status = observability.WebhookBatchTooLarge
		default:
			status = observability.WebhookInternalError
		}
		metrics.RecordWebhook(status)
	}
}
