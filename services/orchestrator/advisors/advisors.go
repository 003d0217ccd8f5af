// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisors holds the three LLM stages of the conversation
// round: state selector, response generator, and master decider. Every
// stage degrades to a deterministic fallback on any client failure, so
// a round always produces a usable decision even with no LLM wired.
package advisors

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/services/llm"
)

// Selector status values.
const (
	StatusDone               = "done"
	StatusInProgress         = "in_progress"
	StatusNeedsClarification = "needs_clarification"
	StatusNewRequestDetected = "new_request_detected"
)

// DefaultHint fills the mandatory response hint when a rejection has
// none.
const DefaultHint = "Could you clarify?"

// confidenceClampMargin is how far below the acceptance threshold a
// clamped confidence lands.
const confidenceClampMargin = 0.1

// logFallback emits the recovery log every stage writes when it
// substitutes its deterministic output. LLM trouble is recovered
// locally, so this is INFO, not an error.
func logFallback(component, reason, correlationID string, started time.Time) {
	slog.Info("llm_stage_fallback",
		"fallback_used", true,
		"component", component,
		"reason", reason,
		"elapsed_ms", time.Since(started).Milliseconds(),
		"correlation_id", correlationID,
	)
}

// complete runs one bounded LLM call and returns the raw completion.
func complete(ctx context.Context, client llm.Client, req llm.Request, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Complete(ctx, req)
}

// extractJSON peels markdown fences and any prose around the first
// top-level object. Models wrap JSON despite instructions often enough
// that every stage pays this tax.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// decodeJSON unmarshals one extracted object into out.
func decodeJSON(raw string, out any) error {
	return json.Unmarshal([]byte(extractJSON(raw)), out)
}
