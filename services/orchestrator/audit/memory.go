// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps chains in per-key slices. Development only; no
// eviction, chains grow for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]Event
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]Event)}
}

func (m *MemoryStore) GetLatestEvent(_ context.Context, userKey string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[userKey]
	if len(chain) == 0 {
		return nil, nil
	}
	tail := chain[len(chain)-1]
	return &tail, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, userKey string, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[userKey]
	if limit > 0 && limit < len(chain) {
		chain = chain[len(chain)-limit:]
	}
	out := make([]Event, len(chain))
	copy(out, chain)
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event Event, expectedPrevHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.chains[event.UserKey]
	tail := ""
	if len(chain) > 0 {
		tail = chain[len(chain)-1].Hash
	}
	if tail != expectedPrevHash {
		return false, nil
	}
	m.chains[event.UserKey] = append(chain, event)
	return true, nil
}
