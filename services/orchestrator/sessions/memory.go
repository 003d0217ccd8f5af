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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/pkg/canonical"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
)

// MemoryStore is the development backend. Sessions are held as their
// canonical JSON encoding so the round trip matches the shared
// backends byte for byte.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memorySession

	// now is replaceable in tests.
	now func() time.Time
}

type memorySession struct {
	payload   []byte
	revision  int64
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memorySession),
		now:     time.Now,
	}
}

func (m *MemoryStore) Save(_ context.Context, session *datatypes.Session, ttl time.Duration) error {
	enforceOutcomeInvariant(session)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stored, exists := m.entries[session.SessionID]
	if exists && now.After(stored.expiresAt) {
		delete(m.entries, session.SessionID)
		exists = false
	}

	switch {
	case !exists && session.Revision != 0:
		return fmt.Errorf("%w: session %s expired or deleted", ErrRevisionConflict, session.SessionID)
	case exists && stored.revision != session.Revision:
		return fmt.Errorf("%w: session %s at revision %d, caller has %d",
			ErrRevisionConflict, session.SessionID, stored.revision, session.Revision)
	}

	next := session.Revision + 1
	session.Revision = next
	payload, err := canonical.Marshal(session)
	if err != nil {
		session.Revision = next - 1
		return fmt.Errorf("sessions: encode %s: %w", session.SessionID, err)
	}

	m.entries[session.SessionID] = memorySession{
		payload:   payload,
		revision:  next,
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*datatypes.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entries[sessionID]
	if !ok {
		return nil, nil
	}
	if m.now().After(stored.expiresAt) {
		delete(m.entries, sessionID)
		return nil, nil
	}

	var session datatypes.Session
	if err := json.Unmarshal(stored.payload, &session); err != nil {
		return nil, fmt.Errorf("sessions: decode %s: %w", sessionID, err)
	}
	return &session, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[sessionID]
	delete(m.entries, sessionID)
	return ok, nil
}

func (m *MemoryStore) Exists(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entries[sessionID]
	if !ok {
		return false, nil
	}
	if m.now().After(stored.expiresAt) {
		delete(m.entries, sessionID)
		return false, nil
	}
	return true, nil
}
