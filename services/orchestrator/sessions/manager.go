// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/fsm"
)

// Manager
//
// # Description
//
//	Owns session lifecycle on top of a Store: id derivation, history
//	append with pruning, state normalization, first-contact-of-day
//	checks, and persistence. Same-session work inside one process is
//	serialized with a per-session mutex; across processes the store's
//	revision CAS is the fence.
//
// # Thread Safety
//
//	Safe for concurrent use. Callers hold the lock from Lock() around
//	the whole read-modify-write window for a session.
type Manager struct {
	store      Store
	ttl        time.Duration
	maxHistory int

	locks sync.Map // session id → *sync.Mutex
}

// NewManager wires a manager over a store. maxHistory bounds
// Session.MessageHistory; ttl applies to every Persist.
func NewManager(store Store, ttl time.Duration, maxHistory int) *Manager {
	return &Manager{
		store:      store,
		ttl:        ttl,
		maxHistory: maxHistory,
	}
}

// Lock serializes same-session work in this process. The returned
// function releases the lock.
func (m *Manager) Lock(sessionID string) func() {
	v, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SessionIDFor derives the session id for a message: a deterministic
// UUID from the chat id when present, so the same sender lands in the
// same session, and a random UUID otherwise.
func (m *Manager) SessionIDFor(msg *datatypes.NormalizedMessage) string {
	if msg.ChatID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("whatsapp:"+msg.ChatID)).String()
}

// GetOrCreate loads the message's session or starts a fresh one at
// INIT. The second return reports creation.
func (m *Manager) GetOrCreate(ctx context.Context, msg *datatypes.NormalizedMessage) (*datatypes.Session, bool, error) {
	id := m.SessionIDFor(msg)

	session, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("sessions: load %s: %w", id, err)
	}
	if session != nil {
		return session, false, nil
	}
	return datatypes.NewSession(id, string(fsm.ConvInit), msg.ReceivedAt()), true, nil
}

// AppendUserMessage records the inbound message in the session history
// and prunes the oldest entries beyond the cap. Returns false when the
// message id is already present (vendor retry); the session is then
// untouched.
func (m *Manager) AppendUserMessage(session *datatypes.Session, msg *datatypes.NormalizedMessage, correlationID string) bool {
	if session.HasMessage(msg.MessageID) {
		return false
	}

	session.MessageHistory = append(session.MessageHistory, datatypes.HistoryEntry{
		ReceivedAt: msg.ReceivedAt(),
		MessageID:  msg.MessageID,
	})

	if over := len(session.MessageHistory) - m.maxHistory; over > 0 {
		previous := len(session.MessageHistory)
		session.MessageHistory = session.MessageHistory[over:]
		slog.Info("session_history_pruned",
			"session_id", session.SessionID,
			"previous_len", previous,
			"new_len", len(session.MessageHistory),
			"correlation_id", correlationID,
		)
	}
	return true
}

// NormalizeCurrentState returns the session's conversation state,
// resetting unknown tags to INIT with a warning. A corrupt row
// degrades to a fresh conversation instead of failing the message.
func (m *Manager) NormalizeCurrentState(session *datatypes.Session, correlationID string) fsm.ConversationState {
	if fsm.ValidConversationState(session.CurrentState) {
		return fsm.ConversationState(session.CurrentState)
	}

	slog.Warn("invalid_state_normalized",
		"session_id", session.SessionID,
		"previous_state", session.CurrentState,
		"normalized_to", string(fsm.ConvInit),
		"correlation_id", correlationID,
	)
	session.CurrentState = string(fsm.ConvInit)
	return fsm.ConvInit
}

// IsFirstMessageOfDay reports whether no prior history entry falls on
// the same UTC calendar day as ts. Call before AppendUserMessage so
// the current message does not count against itself.
func (m *Manager) IsFirstMessageOfDay(session *datatypes.Session, ts time.Time) bool {
	y, mo, d := ts.UTC().Date()
	for i := len(session.MessageHistory) - 1; i >= 0; i-- {
		ey, em, ed := session.MessageHistory[i].ReceivedAt.UTC().Date()
		if ey == y && em == mo && ed == d {
			return false
		}
	}
	return true
}

// Persist saves the session with the configured TTL, bumping
// UpdatedAt.
func (m *Manager) Persist(ctx context.Context, session *datatypes.Session) error {
	session.Touch(time.Now())
	return m.store.Save(ctx, session, m.ttl)
}

// Reload fetches a fresh copy for CAS retry loops.
func (m *Manager) Reload(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	return m.store.Load(ctx, sessionID)
}

// TTL exposes the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
