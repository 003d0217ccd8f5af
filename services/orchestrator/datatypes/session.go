// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Session
// =============================================================================

// Session
//
// # Description
//
//	Conversation context for one sender. CurrentState holds the
//	conversation-state tag owned by the FSM package; Outcome stays
//	empty until the conversation reaches a terminal state. Revision is
//	the store's CAS token: zero for a brand-new session, bumped by the
//	store on every successful save.
//
// # Thread Safety
//
//	Not goroutine-safe. The session manager serializes same-session
//	access with a per-session mutex; cross-instance writers are fenced
//	by the revision CAS.
type Session struct {
	SessionID      string            `json:"session_id"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LeadProfile    LeadProfile       `json:"lead_profile"`
	IntentQueue    []IntentQueueItem `json:"intent_queue,omitempty"`
	Outcome        string            `json:"outcome,omitempty"`
	CurrentState   string            `json:"current_state"`
	MessageHistory []HistoryEntry    `json:"message_history,omitempty"`
	Revision       int64             `json:"revision"`
}

// HistoryEntry records one accepted inbound message. Summary is an
// optional PII-sanitized snippet used as LLM context.
type HistoryEntry struct {
	ReceivedAt time.Time `json:"received_at"`
	MessageID  string    `json:"message_id"`
	Summary    string    `json:"summary,omitempty"`
}

// IntentQueueItem is one detected request. At most one item is active;
// active plus queued never exceeds the configured capacity.
type IntentQueueItem struct {
	Intent     string    `json:"intent"`
	DetectedAt time.Time `json:"detected_at"`
	Confidence float64   `json:"confidence,omitempty"`
	Active     bool      `json:"active,omitempty"`
}

// LeadProfile accumulates structured facts the conversation surfaces
// about the sender. Free-form facts land in Fields.
type LeadProfile struct {
	Name    string            `json:"name,omitempty"`
	Email   string            `json:"email,omitempty"`
	Company string            `json:"company,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// NewSession builds a fresh session at the given initial state.
func NewSession(sessionID, initialState string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		SessionID:    sessionID,
		CreatedAt:    now,
		UpdatedAt:    now,
		CurrentState: initialState,
	}
}

// Touch bumps UpdatedAt.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// HasMessage reports whether messageID is already in the history. Used
// for idempotent appends on vendor retries.
func (s *Session) HasMessage(messageID string) bool {
	for i := len(s.MessageHistory) - 1; i >= 0; i-- {
		if s.MessageHistory[i].MessageID == messageID {
			return true
		}
	}
	return false
}

// ActiveIntent returns the active queue item, or nil.
func (s *Session) ActiveIntent() *IntentQueueItem {
	for i := range s.IntentQueue {
		if s.IntentQueue[i].Active {
			return &s.IntentQueue[i]
		}
	}
	return nil
}

// IntentCount is the active plus queued total.
func (s *Session) IntentCount() int {
	return len(s.IntentQueue)
}

// HasIntent reports whether the named intent is already active or
// queued.
func (s *Session) HasIntent(intent string) bool {
	for i := range s.IntentQueue {
		if s.IntentQueue[i].Intent == intent {
			return true
		}
	}
	return false
}
