// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guards holds the pre-LLM abuse checks: a per-session flood
// window, a deterministic spam heuristic over message text, and the
// intent-queue capacity rule. A guard rejection is not an error; it
// maps to a terminal outcome and the batch moves on.
package guards

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/fsm"
)

// Rejection reasons carried on verdicts, audit events, and logs.
const (
	ReasonFloodWindow     = "flood_window_exceeded"
	ReasonSpamRules       = "spam_rules"
	ReasonTooManyLinks    = "too_many_links"
	ReasonRepeatedRun     = "repeated_characters"
	ReasonIntentQueueFull = "intent_queue_full"
)

// ErrIntentQueueFull reports a distinct new intent against a session
// whose queue already holds the configured maximum.
var ErrIntentQueueFull = errors.New("guards: intent queue full")

// Verdict is the combined guard decision for one inbound message.
// Outcome and Reason are set only on rejection.
type Verdict struct {
	Allowed bool
	Outcome fsm.Outcome
	Reason  string
}

// Guard bundles the three checks behind one evaluation call.
type Guard struct {
	flood    FloodDetector
	spam     *SpamFilter
	capacity int
}

func NewGuard(flood FloodDetector, spam *SpamFilter, capacity int) *Guard {
	return &Guard{flood: flood, spam: spam, capacity: capacity}
}

// Evaluate runs flood, spam, and capacity in that order and returns
// the first rejection. candidateIntent may be empty when the message
// carries no explicit request tag; capacity then only rejects when the
// queue is saturated and nothing is active to attach the message to.
// A non-nil error means the flood backend failed, not a rejection; the
// caller chooses whether to fail open.
func (g *Guard) Evaluate(ctx context.Context, session *datatypes.Session, msg *datatypes.NormalizedMessage, candidateIntent string) (Verdict, error) {
	allowed, err := g.flood.Allow(ctx, session.SessionID)
	if err != nil {
		return Verdict{Allowed: true}, err
	}
	if !allowed {
		return Verdict{Outcome: fsm.OutcomeDuplicateOrSpam, Reason: ReasonFloodWindow}, nil
	}

	if v := g.spam.CheckMessage(msg); v.Spam {
		return Verdict{Outcome: fsm.OutcomeDuplicateOrSpam, Reason: v.Reason}, nil
	}

	if !g.IntentCapacityOK(session, candidateIntent) {
		return Verdict{Outcome: fsm.OutcomeScheduledFollowup, Reason: ReasonIntentQueueFull}, nil
	}

	return Verdict{Allowed: true}, nil
}

// IntentCapacityOK reports whether the session can take the given
// intent. Continuations of an already-tracked intent always pass; an
// unknown intent passes while something is active to absorb it.
func (g *Guard) IntentCapacityOK(session *datatypes.Session, intent string) bool {
	if intent != "" && session.HasIntent(intent) {
		return true
	}
	if session.IntentCount() < g.capacity {
		return true
	}
	return intent == "" && session.ActiveIntent() != nil
}

// QueueIntent records a detected intent on the session. The first
// intent without an active peer becomes active; later ones queue. A
// duplicate is a no-op. Returns ErrIntentQueueFull when the intent is
// distinct and the queue is at capacity.
func (g *Guard) QueueIntent(session *datatypes.Session, intent string, confidence float64, now time.Time) error {
	if intent == "" || session.HasIntent(intent) {
		return nil
	}
	if session.IntentCount() >= g.capacity {
		return ErrIntentQueueFull
	}
	session.IntentQueue = append(session.IntentQueue, datatypes.IntentQueueItem{
		Intent:     intent,
		DetectedAt: now.UTC(),
		Confidence: confidence,
		Active:     session.ActiveIntent() == nil,
	})
	return nil
}
