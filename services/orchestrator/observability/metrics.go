// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the webhook
// pipeline.
//
// # Description
//
// Metrics cover the whole inbound path: webhook outcomes, per-message
// results, per-stage latency, dedupe hits, LLM fallbacks, guard
// rejections, terminal outcomes, and the outbound queue depth. They
// are exposed on /metrics via the default registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "otto"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for webhook processing.
//
// # Fields
//
//   - WebhookRequestsTotal: Counter of webhook posts by terminal status
//   - MessagesTotal: Counter of normalized messages by result
//   - StageLatencySeconds: Histogram of per-stage latency
//   - DedupeHitsTotal: Counter of duplicate detections by namespace
//   - LlmFallbacksTotal: Counter of advisor fallbacks by component
//   - GuardRejectionsTotal: Counter of guard rejections by reason
//   - OutcomesTotal: Counter of terminal outcomes applied to sessions
//   - OutboundQueueDepth: Gauge sampling the outbound queue
type PipelineMetrics struct {
	// WebhookRequestsTotal counts POST /webhooks/whatsapp requests.
	// Labels: status (ok, invalid_json, invalid_signature,
	// batch_too_large, internal_error)
	WebhookRequestsTotal *prometheus.CounterVec

	// MessagesTotal counts normalized messages by how the pipeline
	// disposed of them. Labels: result (processed, deduped, dropped,
	// failed)
	MessagesTotal *prometheus.CounterVec

	// StageLatencySeconds measures each pipeline stage.
	// Labels: stage (dedupe, session_load, guards, fsm, llm1, ...)
	StageLatencySeconds *prometheus.HistogramVec

	// DedupeHitsTotal counts duplicate detections.
	// Labels: namespace (inbound, outbound)
	DedupeHitsTotal *prometheus.CounterVec

	// LlmFallbacksTotal counts deterministic advisor fallbacks.
	// Labels: component (state_selector, response_generator,
	// master_decider)
	LlmFallbacksTotal *prometheus.CounterVec

	// GuardRejectionsTotal counts abuse-guard rejections.
	// Labels: reason (flood_window_exceeded, spam_rules, ...)
	GuardRejectionsTotal *prometheus.CounterVec

	// OutcomesTotal counts terminal outcomes written to sessions.
	// Labels: outcome (HANDOFF_HUMAN, SELF_SERVE_INFO, ...)
	OutcomesTotal *prometheus.CounterVec

	// OutboundQueueDepth samples the outbound queue length.
	OutboundQueueDepth prometheus.GaugeFunc
}

// DefaultMetrics is the singleton instance registered on the default
// registry. Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes DefaultMetrics against the default registry.
//
// # Description
//
// Call once at startup. queueDepth samples the outbound queue; nil is
// allowed and reads as zero.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics(queueDepth func() int) *PipelineMetrics {
	DefaultMetrics = NewPipelineMetrics(prometheus.DefaultRegisterer, queueDepth)
	return DefaultMetrics
}

// NewPipelineMetrics creates and registers all pipeline metrics on the
// given registerer. Tests pass a fresh prometheus.NewRegistry().
func NewPipelineMetrics(reg prometheus.Registerer, queueDepth func() int) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		WebhookRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "webhook_requests_total",
				Help:      "Total webhook posts by terminal status",
			},
			[]string{"status"},
		),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "messages_total",
				Help:      "Total normalized messages by pipeline result",
			},
			[]string{"result"},
		),

		StageLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_latency_seconds",
				Help:      "Latency of each pipeline stage in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),

		DedupeHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "dedupe_hits_total",
				Help:      "Total duplicate detections by namespace",
			},
			[]string{"namespace"},
		),

		LlmFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "llm_fallbacks_total",
				Help:      "Total deterministic advisor fallbacks by component",
			},
			[]string{"component"},
		),

		GuardRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "guard_rejections_total",
				Help:      "Total abuse-guard rejections by reason",
			},
			[]string{"reason"},
		),

		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "outcomes_total",
				Help:      "Total terminal outcomes written to sessions",
			},
			[]string{"outcome"},
		),

		OutboundQueueDepth: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "outbound_queue_depth",
				Help:      "Jobs waiting in the outbound queue",
			},
			func() float64 {
				if queueDepth == nil {
					return 0
				}
				return float64(queueDepth())
			},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// WebhookStatus labels WebhookRequestsTotal.
type WebhookStatus string

const (
	WebhookOK               WebhookStatus = "ok"
	WebhookInvalidJSON      WebhookStatus = "invalid_json"
	WebhookInvalidSignature WebhookStatus = "invalid_signature"
	WebhookBatchTooLarge    WebhookStatus = "batch_too_large"
	WebhookInternalError    WebhookStatus = "internal_error"
)

// MessageResult labels MessagesTotal.
type MessageResult string

const (
	ResultProcessed MessageResult = "processed"
	ResultDeduped   MessageResult = "deduped"
	ResultDropped   MessageResult = "dropped"
	ResultFailed    MessageResult = "failed"
)

// Stage labels StageLatencySeconds. The names match the component
// field of the pipeline's component_latency log lines.
type Stage string

const (
	StageDedupe        Stage = "dedupe"
	StageSessionLoad   Stage = "session_load"
	StageGuards        Stage = "guards"
	StageFSM           Stage = "fsm"
	StageLLM1          Stage = "llm1"
	StageLLM2          Stage = "llm2"
	StageLLM3          Stage = "llm3"
	StageOutboundBuild Stage = "outbound_build"
	StagePersist       Stage = "persist"
	StageAudit         Stage = "audit"
	StageTotal         Stage = "total"
)

// DedupeNamespace labels DedupeHitsTotal.
type DedupeNamespace string

const (
	NamespaceInbound  DedupeNamespace = "inbound"
	NamespaceOutbound DedupeNamespace = "outbound"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordWebhook records one POST request's terminal status.
func (m *PipelineMetrics) RecordWebhook(status WebhookStatus) {
	m.WebhookRequestsTotal.WithLabelValues(string(status)).Inc()
}

// RecordMessage records how one normalized message was disposed of.
func (m *PipelineMetrics) RecordMessage(result MessageResult) {
	m.MessagesTotal.WithLabelValues(string(result)).Inc()
}

// ObserveStage records one stage's elapsed time.
func (m *PipelineMetrics) ObserveStage(stage Stage, elapsed time.Duration) {
	m.StageLatencySeconds.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// RecordDedupeHit records a duplicate detection.
func (m *PipelineMetrics) RecordDedupeHit(namespace DedupeNamespace) {
	m.DedupeHitsTotal.WithLabelValues(string(namespace)).Inc()
}

// RecordFallback records a deterministic advisor fallback.
func (m *PipelineMetrics) RecordFallback(component string) {
	m.LlmFallbacksTotal.WithLabelValues(component).Inc()
}

// RecordGuardRejection records an abuse-guard rejection.
func (m *PipelineMetrics) RecordGuardRejection(reason string) {
	m.GuardRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordOutcome records a terminal outcome written to a session.
func (m *PipelineMetrics) RecordOutcome(outcome string) {
	m.OutcomesTotal.WithLabelValues(outcome).Inc()
}
