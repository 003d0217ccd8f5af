// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/advisors"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/audit"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/dedupe"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/fsm"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/guards"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/observability"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/outbound"
)

// windowDisposition is how one window run ended; the caller translates
// it into summary counts.
type windowDisposition int

const (
	windowProcessed windowDisposition = iota
	windowDeduped
	windowFailed
)

// runWindow executes the same-session critical section for one fresh
// message: load, append, guards, advisors, outbound, save, audit. The
// caller holds the inbound dedupe win and retries this whole window on
// a save conflict, so everything here must tolerate re-execution; the
// outbound dedupe key is what keeps a retried reply from sending
// twice.
//
// A wrapped sessions.ErrRevisionConflict asks the caller to retry.
// Other non-nil errors fail the envelope; absorbed per-message
// failures return windowFailed after noting the summary.
func (p *Pipeline) runWindow(ctx context.Context, msg *datatypes.NormalizedMessage, summary *datatypes.ProcessSummary, msgCorrID string) (windowDisposition, error) {
	sessionID := p.sessions.SessionIDFor(msg)
	unlock := p.sessions.Lock(sessionID)
	defer unlock()

	// Session load.
	loadStart := time.Now()
	sctx, scancel := context.WithTimeout(ctx, p.cfg.SessionIOTimeout)
	session, created, err := p.sessions.GetOrCreate(sctx, msg)
	scancel()
	p.observeStage(observability.StageSessionLoad, msgCorrID, loadStart)
	if err != nil {
		slog.Error("session_load_failed",
			"session_id", sessionID,
			"message_id", msg.MessageID,
			"error", err.Error(),
			"correlation_id", msgCorrID,
		)
		summary.AddError(fmt.Sprintf("session load failed for %s", msg.MessageID))
		return windowFailed, nil
	}
	if created {
		slog.Info("session_created",
			"session_id", session.SessionID,
			"correlation_id", msgCorrID,
		)
	}

	// First-of-day and day context are evaluated against the history
	// before this message joins it.
	firstOfDay := p.sessions.IsFirstMessageOfDay(session, msg.ReceivedAt())
	dayHistory := p.dayHistory(session, msg.ReceivedAt())

	if !p.sessions.AppendUserMessage(session, msg, msgCorrID) {
		// The dedupe entry expired but the session still remembers the
		// id: an old retry, not new work.
		slog.Info("history_duplicate_skipped",
			"message_id", msg.MessageID,
			"session_id", session.SessionID,
			"correlation_id", msgCorrID,
		)
		return windowDeduped, nil
	}
	snippet := truncateRunes(p.sanitizer.Sanitize(msg.BodyForLLM()), summaryMaxChars)
	session.MessageHistory[len(session.MessageHistory)-1].Summary = snippet

	if msg.SenderName != "" && session.LeadProfile.Name == "" {
		session.LeadProfile.Name = msg.SenderName
	}

	// Guards.
	guardStart := time.Now()
	verdict, gerr := p.guard.Evaluate(ctx, session, msg, "")
	p.observeStage(observability.StageGuards, msgCorrID, guardStart)
	if gerr != nil {
		// Flood backend trouble fails open.
		slog.Warn("flood_backend_failing_open",
			"session_id", session.SessionID,
			"error", gerr.Error(),
			"correlation_id", msgCorrID,
		)
		summary.AddError(fmt.Sprintf("flood check unavailable for %s", msg.MessageID))
	}
	if !verdict.Allowed {
		p.recordGuardRejection(verdict.Reason)
		slog.Info("guard_rejected",
			"session_id", session.SessionID,
			"message_id", msg.MessageID,
			"reason", verdict.Reason,
			"outcome", string(verdict.Outcome),
			"correlation_id", msgCorrID,
		)
		return p.closeSession(session, msg, verdict.Outcome, verdict.Reason, msgCorrID, summary)
	}

	// State normalization and event mapping.
	fsmStart := time.Now()
	current := p.sessions.NormalizeCurrentState(session, msgCorrID)
	_, supported := fsm.EventForMessage(msg)
	p.observeStage(observability.StageFSM, msgCorrID, fsmStart)
	if !supported {
		summary.AddNote(fmt.Sprintf("message %s has no conversational event, recorded as unsupported", msg.MessageID))
		return p.finishWithoutReply(session, msg, "unsupported_kind", msgCorrID, summary)
	}

	possible := fsm.PossibleNextStates(current)
	nextStates := make([]string, len(possible))
	for i, s := range possible {
		nextStates[i] = string(s)
	}

	// LLM#1: state selector.
	llm1Start := time.Now()
	selOut := p.selector.Select(ctx, advisors.SelectorInput{
		CurrentState:       string(current),
		PossibleNextStates: nextStates,
		MessageText:        msg.BodyForLLM(),
		HistorySummary:     dayHistory,
	}, msgCorrID)
	p.observeStage(observability.StageLLM1, msgCorrID, llm1Start)

	if selOut.Status == advisors.StatusNewRequestDetected {
		intent := ""
		if len(selOut.DetectedRequests) > 0 {
			intent = selOut.DetectedRequests[0]
		}
		if err := p.guard.QueueIntent(session, intent, selOut.Confidence, msg.ReceivedAt()); err != nil {
			p.recordGuardRejection(guards.ReasonIntentQueueFull)
			slog.Info("intent_queue_full",
				"session_id", session.SessionID,
				"correlation_id", msgCorrID,
			)
			return p.closeSession(session, msg, fsm.OutcomeScheduledFollowup, guards.ReasonIntentQueueFull, msgCorrID, summary)
		}
	}
	if selOut.Accepted {
		session.CurrentState = selOut.NextState
	}

	// LLM#2: response generator, always consulted.
	llm2Start := time.Now()
	genOut := p.generator.Generate(ctx, advisors.GeneratorInput{
		CurrentState:   string(current),
		CandidateState: selOut.NextState,
		Confidence:     selOut.Confidence,
		Hint:           selOut.ResponseHint,
		MessageText:    msg.BodyForLLM(),
		DayHistory:     dayHistory,
		Selector:       selOut,
	}, msgCorrID)
	p.observeStage(observability.StageLLM2, msgCorrID, llm2Start)

	// LLM#3: master decider.
	llm3Start := time.Now()
	decOut := p.decider.Decide(ctx, advisors.DeciderInput{
		MessageText:   msg.BodyForLLM(),
		DayHistory:    dayHistory,
		Selector:      selOut,
		Generator:     genOut,
		CurrentState:  string(current),
		CorrelationID: msgCorrID,
	})
	p.observeStage(observability.StageLLM3, msgCorrID, llm3Start)

	// A low-confidence decision keeps its reply but loses its state
	// commit; the selector's accepted staging stands.
	if decOut.ApplyState && decOut.OverallConfidence < p.cfg.MasterDeciderThreshold {
		decOut.ApplyState = false
		decOut.DecisionTrace = append(decOut.DecisionTrace, "state commit suppressed: confidence below threshold")
		slog.Warn("state_commit_suppressed",
			"session_id", session.SessionID,
			"overall_confidence", decOut.OverallConfidence,
			"threshold", p.cfg.MasterDeciderThreshold,
			"correlation_id", msgCorrID,
		)
	}
	if decOut.ApplyState && fsm.ValidConversationState(decOut.FinalState) {
		session.CurrentState = decOut.FinalState
	}
	finalState := fsm.ConversationState(session.CurrentState)
	if outcome, terminal := fsm.OutcomeForState(finalState); terminal {
		session.Outcome = string(outcome)
		p.recordOutcome(string(outcome))
	}

	// Sanitize, intro prefix, outbound.
	buildStart := time.Now()
	reply := p.sanitizer.Sanitize(decOut.SelectedResponseText)
	if firstOfDay && reply != "" && !strings.HasPrefix(reply, p.cfg.OttoIntro) {
		reply = p.cfg.OttoIntro + "\n\n" + reply
	}

	enqueued := false
	if reply == "" {
		summary.AddNote(fmt.Sprintf("no reply produced for %s", msg.MessageID))
	} else if err := p.dispatchReply(msg, reply, msgCorrID, summary); err != nil {
		p.observeStage(observability.StageOutboundBuild, msgCorrID, buildStart)
		return windowFailed, err
	} else {
		enqueued = true
	}
	p.observeStage(observability.StageOutboundBuild, msgCorrID, buildStart)

	// Save and audit run on fresh contexts: an expired message
	// deadline must not lose a session that already produced a reply.
	if err := p.persistSession(session, msgCorrID); err != nil {
		return windowFailed, err
	}

	p.appendDecision(session, msg, selOut, genOut, decOut, msgCorrID, summary)
	p.appendAuditEvent(msg, audit.ActionMessageProcessed, decOut.Reason, msgCorrID, summary)

	slog.Info("message_processed",
		"message_id", msg.MessageID,
		"session_id", session.SessionID,
		"final_state", session.CurrentState,
		"reply_enqueued", enqueued,
		"overall_confidence", decOut.OverallConfidence,
		"correlation_id", msgCorrID,
	)
	return windowProcessed, nil
}

// closeSession applies a terminal outcome without consulting the
// advisors: guard rejections and intent saturation end the round with
// a persisted outcome, an audit event, and no reply.
func (p *Pipeline) closeSession(session *datatypes.Session, msg *datatypes.NormalizedMessage, outcome fsm.Outcome, reason, msgCorrID string, summary *datatypes.ProcessSummary) (windowDisposition, error) {
	if fsm.ValidConversationState(string(outcome)) {
		session.CurrentState = string(outcome)
	}
	session.Outcome = string(outcome)
	p.recordOutcome(string(outcome))

	if err := p.persistSession(session, msgCorrID); err != nil {
		return windowFailed, err
	}

	p.appendAuditEvent(msg, audit.ActionGuardRejected, reason, msgCorrID, summary)
	return windowProcessed, nil
}

// finishWithoutReply persists and audits a message that cannot drive
// the conversation (reactions and similar): the history entry is kept
// but no advisor runs and nothing is sent.
func (p *Pipeline) finishWithoutReply(session *datatypes.Session, msg *datatypes.NormalizedMessage, reason, msgCorrID string, summary *datatypes.ProcessSummary) (windowDisposition, error) {
	if err := p.persistSession(session, msgCorrID); err != nil {
		return windowFailed, err
	}
	p.appendAuditEvent(msg, audit.ActionMessageProcessed, reason, msgCorrID, summary)
	return windowProcessed, nil
}

// dispatchReply builds the text job, claims its outbound dedupe key,
// and enqueues it. A duplicate key suppresses the enqueue; a full
// queue marks the claim failed so a later delivery may retry.
func (p *Pipeline) dispatchReply(msg *datatypes.NormalizedMessage, reply, msgCorrID string, summary *datatypes.ProcessSummary) error {
	job := outbound.NewTextJob(msg.From, reply, msg.MessageID, msgCorrID, msg.MessageID)
	if err := job.Validate(); err != nil {
		slog.Error("outbound_job_invalid",
			"message_id", msg.MessageID,
			"error", err.Error(),
			"correlation_id", msgCorrID,
		)
		summary.AddError(fmt.Sprintf("outbound job invalid for %s", msg.MessageID))
		return nil
	}

	key, err := job.DedupeKey()
	if err != nil {
		summary.AddError(fmt.Sprintf("outbound hash failed for %s", msg.MessageID))
		return nil
	}

	dctx, dcancel := context.WithTimeout(context.Background(), p.cfg.DedupeTimeout)
	fresh, err := p.dedupe.MarkIfNew(dctx, key, p.cfg.DedupeTTL)
	dcancel()
	if err != nil {
		if !p.cfg.IsDevelopment() {
			return fmt.Errorf("outbound dedupe for %s: %w", msg.MessageID, err)
		}
		slog.Warn("dedupe_unavailable_proceeding",
			"message_id", msg.MessageID,
			"correlation_id", msgCorrID,
		)
		fresh = true
	}
	if !fresh {
		p.recordDedupeHit(observability.NamespaceOutbound)
		summary.AddNote(fmt.Sprintf("outbound duplicate suppressed for %s", msg.MessageID))
		return nil
	}

	if err := p.queue.Enqueue(job); err != nil {
		summary.AddError(fmt.Sprintf("outbound enqueue failed for %s: queue unavailable", msg.MessageID))
		slog.Error("outbound_enqueue_failed",
			"message_id", msg.MessageID,
			"error", err.Error(),
			"correlation_id", msgCorrID,
		)
		uctx, ucancel := context.WithTimeout(context.Background(), p.cfg.DedupeTimeout)
		if serr := p.dedupe.UpdateStatus(uctx, key, dedupe.StatusFailed); serr != nil && !errors.Is(serr, dedupe.ErrNotFound) {
			slog.Warn("outbound_status_update_failed",
				"error", serr.Error(),
				"correlation_id", msgCorrID,
			)
		}
		ucancel()
	}
	return nil
}

// persistSession saves on a fresh short context so an expired message
// deadline cannot lose the round. Conflicts bubble to the window
// retry loop.
func (p *Pipeline) persistSession(session *datatypes.Session, msgCorrID string) error {
	persistStart := time.Now()
	pctx, pcancel := context.WithTimeout(context.Background(), p.cfg.SessionIOTimeout)
	err := p.sessions.Persist(pctx, session)
	pcancel()
	p.observeStage(observability.StagePersist, msgCorrID, persistStart)
	return err
}

// appendDecision writes the per-round decision record. Best effort:
// failures land in the summary, never in the return.
func (p *Pipeline) appendDecision(session *datatypes.Session, msg *datatypes.NormalizedMessage, selOut advisors.StateSelectorOutput, genOut advisors.ResponseGeneratorOutput, decOut advisors.MasterDecisionOutput, msgCorrID string, summary *datatypes.ProcessSummary) {
	auditStart := time.Now()
	defer p.observeStage(observability.StageAudit, msgCorrID, auditStart)

	record := audit.DecisionRecord{
		CorrelationID:         msgCorrID,
		SessionID:             session.SessionID,
		UserKey:               p.identity.UserKey(msg.From),
		Timestamp:             time.Now().UTC(),
		FinalState:            decOut.FinalState,
		ApplyState:            decOut.ApplyState,
		SelectedResponseIndex: decOut.SelectedResponseIndex,
		MessageKind:           decOut.MessageKind,
		OverallConfidence:     decOut.OverallConfidence,
		Reason:                decOut.Reason,
		Selector:              selOut,
		Generator:             genOut,
		Decision:              decOut,
	}

	actx, acancel := context.WithTimeout(context.Background(), p.cfg.AuditTimeout)
	err := p.decisions.AppendDecision(actx, record)
	acancel()
	if err != nil {
		slog.Error("decision_audit_failed",
			"error", err.Error(),
			"correlation_id", msgCorrID,
		)
		summary.AddError(fmt.Sprintf("decision audit failed for %s", msg.MessageID))
	}
}

// appendAuditEvent records a message-level entry on the user's chain.
// Chain trouble is logged and surfaced in the summary but never fails
// the message.
func (p *Pipeline) appendAuditEvent(msg *datatypes.NormalizedMessage, action, reason, msgCorrID string, summary *datatypes.ProcessSummary) {
	event := audit.Event{
		UserKey:       p.identity.UserKey(msg.From),
		TenantID:      p.cfg.TenantID,
		Actor:         audit.ActorSystem,
		Action:        action,
		Reason:        reason,
		CorrelationID: msgCorrID,
	}

	actx, acancel := context.WithTimeout(context.Background(), p.cfg.AuditTimeout)
	_, err := p.auditor.Append(actx, event)
	acancel()
	if err != nil {
		slog.Error("audit_append_failed",
			"user_key", event.UserKey,
			"action", event.Action,
			"error", err.Error(),
			"correlation_id", event.CorrelationID,
		)
		summary.AddError(fmt.Sprintf("audit append failed: %s", event.Action))
	}
}

// dayHistory collects the sanitized summaries of history entries from
// the same UTC day as ts, oldest first, for advisor context.
func (p *Pipeline) dayHistory(session *datatypes.Session, ts time.Time) []string {
	entries := p.sanitizer.LastMessages(session.MessageHistory, historyContextEntries)
	y, m, d := ts.UTC().Date()

	var out []string
	for _, entry := range entries {
		ey, em, ed := entry.ReceivedAt.UTC().Date()
		if ey != y || em != m || ed != d || entry.Summary == "" {
			continue
		}
		out = append(out, entry.Summary)
	}
	return out
}
