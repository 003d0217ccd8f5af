// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dedupe

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often the memory store walks its map to drop
// expired entries. Expiry is also checked lazily on every access.
const sweepEvery = time.Minute

// MemoryStore is the development backend: a mutex-guarded map with
// lazy expiry plus a periodic sweep. State is process-local, so it
// cannot dedupe across replicas.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	lastSweep time.Time

	// now is replaceable in tests.
	now func() time.Time
}

type memoryEntry struct {
	status    string
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) MarkIfNew(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)

	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	m.entries[key] = memoryEntry{status: StatusPending, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) IsDuplicate(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, key, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return ErrNotFound
	}
	e.status = status
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Status returns the stored status for a key. Test support.
func (m *MemoryStore) Status(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || m.now().After(e.expiresAt) {
		return "", false
	}
	return e.status, true
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.lastSweep = now
}
