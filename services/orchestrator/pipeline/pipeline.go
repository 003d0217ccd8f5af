// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline wires the processing stages of one webhook post
// into a fixed order and owns the error taxonomy between them.
//
// # Description
//
// One Process call handles one verified envelope. Per normalized
// message, in input order:
//
//	inbound dedupe → session load → history append → guards →
//	state normalization → LLM#1 → LLM#2 → LLM#3 → PII sanitize →
//	intro prefix → outbound build + dedupe + enqueue →
//	session save → decision audit + user audit
//
// The same-session window (everything after inbound dedupe) is
// serialized by the session manager's per-session lock and the store's
// revision CAS; a save conflict retries the whole window up to three
// times. LLM failures never fail a message: every advisor stage has a
// deterministic fallback. Only envelope-level conditions surface as
// errors: an oversized batch, an unavailable dedupe backend outside
// development, and CAS exhaustion.
//
// # Thread Safety
//
// A Pipeline is immutable after New and safe for concurrent Process
// calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/advisors"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/audit"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/config"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/dedupe"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/guards"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/identity"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/observability"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/outbound"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/pii"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/sessions"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrBatchTooLarge rejects envelopes above the configured message
	// cap before any per-message work happens.
	ErrBatchTooLarge = errors.New("pipeline: batch too large")

	// ErrSessionConflict reports CAS exhaustion on the session save:
	// three whole-window retries all lost the revision race.
	ErrSessionConflict = errors.New("pipeline: session revision conflict")
)

// sessionSaveRetries bounds the whole-window CAS retry loop.
const sessionSaveRetries = 3

// historyContextEntries caps how many trailing history entries feed
// the advisors as context.
const historyContextEntries = 10

// summaryMaxChars caps the sanitized snippet stored per history entry.
const summaryMaxChars = 160

// =============================================================================
// Construction
// =============================================================================

// Signature reports how the middleware disposed of the signature
// check, for the processing summary.
type Signature struct {
	Validated bool
	Skipped   bool
}

// Dependencies carries everything a Pipeline needs. All fields except
// Metrics are required.
type Dependencies struct {
	Config    *config.Config
	Dedupe    dedupe.Store
	Sessions  *sessions.Manager
	Guard     *guards.Guard
	Selector  *advisors.StateSelector
	Generator *advisors.ResponseGenerator
	Decider   *advisors.MasterDecider
	Sanitizer *pii.Sanitizer
	Identity  *identity.Deriver
	Audit     *audit.Appender
	Decisions audit.DecisionStore
	Queue     *outbound.Queue
	Metrics   *observability.PipelineMetrics
}

// Pipeline executes the fixed stage order for webhook envelopes.
type Pipeline struct {
	cfg       *config.Config
	dedupe    dedupe.Store
	sessions  *sessions.Manager
	guard     *guards.Guard
	selector  *advisors.StateSelector
	generator *advisors.ResponseGenerator
	decider   *advisors.MasterDecider
	sanitizer *pii.Sanitizer
	identity  *identity.Deriver
	auditor   *audit.Appender
	decisions audit.DecisionStore
	queue     *outbound.Queue
	metrics   *observability.PipelineMetrics
}

// New builds a Pipeline from its dependencies.
func New(deps Dependencies) *Pipeline {
	return &Pipeline{
		cfg:       deps.Config,
		dedupe:    deps.Dedupe,
		sessions:  deps.Sessions,
		guard:     deps.Guard,
		selector:  deps.Selector,
		generator: deps.Generator,
		decider:   deps.Decider,
		sanitizer: deps.Sanitizer,
		identity:  deps.Identity,
		auditor:   deps.Audit,
		decisions: deps.Decisions,
		queue:     deps.Queue,
		metrics:   deps.Metrics,
	}
}

// =============================================================================
// Envelope Processing
// =============================================================================

// Process handles one verified webhook envelope.
//
// # Description
//
// Normalizes the vendor payload, rejects oversized batches, and runs
// each message through the stage order. Per-message failures are
// absorbed into the summary; the returned error is non-nil only for
// envelope-level conditions the HTTP layer must surface:
// ErrBatchTooLarge (413), a wrapped dedupe.ErrUnavailable outside
// development (5xx), and ErrSessionConflict (5xx).
//
// # Inputs
//
//   - ctx: Request context. Message deadlines are derived from it.
//   - payload: Decoded vendor envelope.
//   - sig: Signature verification disposition for the summary.
//   - correlationID: Request correlation id. Envelopes with more than
//     one message derive per-message ids by suffixing the message id.
//
// # Outputs
//
//   - *datatypes.ProcessSummary: Counts, notes, and per-message errors.
//   - error: Envelope-level failure, nil otherwise.
func (p *Pipeline) Process(ctx context.Context, payload datatypes.WebhookPayload, sig Signature, correlationID string) (*datatypes.ProcessSummary, error) {
	summary := datatypes.NewProcessSummary()
	summary.SignatureValidated = sig.Validated
	summary.SignatureSkipped = sig.Skipped

	messages, dropped := datatypes.ExtractMessages(payload)
	if total := len(messages) + dropped; total > p.cfg.MaxBatchMessages {
		slog.Warn("webhook_batch_too_large",
			"total_messages", total,
			"limit", p.cfg.MaxBatchMessages,
			"correlation_id", correlationID,
		)
		return nil, fmt.Errorf("%w: %d messages (limit %d)",
			ErrBatchTooLarge, total, p.cfg.MaxBatchMessages)
	}
	if dropped > 0 {
		summary.AddNote(fmt.Sprintf("%d unsupported or malformed messages dropped", dropped))
		for i := 0; i < dropped; i++ {
			p.recordMessage(observability.ResultDropped)
		}
	}

	summary.TotalReceived = len(messages)

	for i := range messages {
		msg := &messages[i]
		msgCorrID := messageCorrelationID(correlationID, msg.MessageID, len(messages))

		if err := msg.Validate(); err != nil {
			summary.AddNote(fmt.Sprintf("message %s dropped: failed validation", msg.MessageID))
			p.recordMessage(observability.ResultDropped)
			slog.Warn("message_validation_failed",
				"message_id", msg.MessageID,
				"correlation_id", msgCorrID,
			)
			continue
		}

		if err := p.processOne(ctx, msg, summary, msgCorrID); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

// processOne runs inbound dedupe and then the same-session window with
// CAS retries. Returns nil unless the envelope must fail.
func (p *Pipeline) processOne(ctx context.Context, msg *datatypes.NormalizedMessage, summary *datatypes.ProcessSummary, msgCorrID string) error {
	started := time.Now()
	defer p.observeStage(observability.StageTotal, msgCorrID, started)

	mctx, cancel := context.WithTimeout(ctx, p.cfg.PipelineDeadline())
	defer cancel()

	dedupeStart := time.Now()
	dctx, dcancel := context.WithTimeout(mctx, p.cfg.DedupeTimeout)
	fresh, err := p.dedupe.MarkIfNew(dctx, dedupe.InboundKey(msg.MessageID), p.cfg.DedupeTTL)
	dcancel()
	p.observeStage(observability.StageDedupe, msgCorrID, dedupeStart)

	if err != nil {
		if !p.cfg.IsDevelopment() {
			return fmt.Errorf("inbound dedupe for %s: %w", msg.MessageID, err)
		}
		// Development runs without shared infra; losing dedupe there
		// only risks a duplicate reply to the developer.
		slog.Warn("dedupe_unavailable_proceeding",
			"message_id", msg.MessageID,
			"correlation_id", msgCorrID,
		)
		summary.AddError(fmt.Sprintf("dedupe unavailable for %s, processed anyway", msg.MessageID))
		fresh = true
	}
	if !fresh {
		summary.TotalDeduped++
		p.recordMessage(observability.ResultDeduped)
		p.recordDedupeHit(observability.NamespaceInbound)
		slog.Info("inbound_duplicate_skipped",
			"message_id", msg.MessageID,
			"correlation_id", msgCorrID,
		)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= sessionSaveRetries; attempt++ {
		disposition, err := p.runWindow(mctx, msg, summary, msgCorrID)
		if err == nil {
			switch disposition {
			case windowProcessed:
				summary.TotalProcessed++
				p.recordMessage(observability.ResultProcessed)
			case windowDeduped:
				summary.TotalDeduped++
				p.recordMessage(observability.ResultDeduped)
				p.recordDedupeHit(observability.NamespaceInbound)
			case windowFailed:
				p.recordMessage(observability.ResultFailed)
			}
			return nil
		}
		if !errors.Is(err, sessions.ErrRevisionConflict) {
			return err
		}
		lastErr = err
		slog.Warn("session_conflict_retrying",
			"message_id", msg.MessageID,
			"attempt", attempt,
			"correlation_id", msgCorrID,
		)
	}

	return fmt.Errorf("%w: message %s after %d attempts: %v",
		ErrSessionConflict, msg.MessageID, sessionSaveRetries, lastErr)
}

// =============================================================================
// Helpers
// =============================================================================

// messageCorrelationID derives a per-message id: the request id itself
// for single-message envelopes, suffixed with the message id otherwise
// so each decision-audit row keeps its own key.
func messageCorrelationID(correlationID, messageID string, batchSize int) string {
	if batchSize <= 1 {
		return correlationID
	}
	return correlationID + ":" + messageID
}

// observeStage feeds the latency histogram and the component_latency
// log stream.
func (p *Pipeline) observeStage(stage observability.Stage, msgCorrID string, started time.Time) {
	elapsed := time.Since(started)
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, elapsed)
	}
	slog.Info("component_latency",
		"component", string(stage),
		"elapsed_ms", elapsed.Milliseconds(),
		"correlation_id", msgCorrID,
	)
}

func (p *Pipeline) recordMessage(result observability.MessageResult) {
	if p.metrics != nil {
		p.metrics.RecordMessage(result)
	}
}

func (p *Pipeline) recordDedupeHit(ns observability.DedupeNamespace) {
	if p.metrics != nil {
		p.metrics.RecordDedupeHit(ns)
	}
}

func (p *Pipeline) recordOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordOutcome(outcome)
	}
}

func (p *Pipeline) recordGuardRejection(reason string) {
	if p.metrics != nil {
		p.metrics.RecordGuardRejection(reason)
	}
}

// truncateRunes shortens s to at most max runes without splitting a
// UTF-8 sequence.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
