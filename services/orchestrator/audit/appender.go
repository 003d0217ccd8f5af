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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// appendRetries bounds the CAS attempts per append. Contention is
// per user key, so a chain that stays hot through three rounds is a
// stuck writer, not a race.
const appendRetries = 3

// Appender links new events onto a user's chain.
type Appender struct {
	store Store

	// now is replaceable in tests.
	now func() time.Time
}

func NewAppender(store Store) *Appender {
	return &Appender{store: store, now: time.Now}
}

// Append fills the event's EventID, Timestamp, PrevHash, and Hash,
// then commits it with a CAS on the chain tail. On tail movement it
// re-reads and retries; after appendRetries failures it returns
// ErrChainConflict. The committed event is returned.
func (a *Appender) Append(ctx context.Context, event Event) (*Event, error) {
	if event.UserKey == "" {
		return nil, fmt.Errorf("audit: append without user key")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	for attempt := 1; attempt <= appendRetries; attempt++ {
		latest, err := a.store.GetLatestEvent(ctx, event.UserKey)
		if err != nil {
			return nil, err
		}
		event.PrevHash = ""
		if latest != nil {
			event.PrevHash = latest.Hash
		}
		event.Timestamp = a.now().UTC()

		hash, err := ComputeHash(event)
		if err != nil {
			return nil, err
		}
		event.Hash = hash

		accepted, err := a.store.AppendEvent(ctx, event, event.PrevHash)
		if err != nil {
			return nil, err
		}
		if accepted {
			return &event, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s lost %d append races", ErrChainConflict, event.UserKey, appendRetries)
}

// VerifyResult reports the outcome of a chain walk.
type VerifyResult struct {
	// Valid is true when every link checks out.
	Valid bool `json:"valid"`

	// TotalEvents is the number of events examined.
	TotalEvents int `json:"total_events"`

	// BreakPoint is the 1-indexed position of the first broken event.
	// Zero when the chain is valid or empty.
	BreakPoint int `json:"break_point,omitempty"`

	// BreakEventID identifies the broken event.
	BreakEventID string `json:"break_event_id,omitempty"`

	// ExpectedHash and ActualHash describe the first mismatch.
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`

	// Message is a human-readable status line.
	Message string `json:"message"`
}

// VerifyChain walks a user's full chain oldest-first, checking both
// the prev-hash linkage and each event's recomputed hash. It stops at
// the first break. Empty chains are valid.
func VerifyChain(ctx context.Context, store Store, userKey string) (*VerifyResult, error) {
	events, err := store.ListEvents(ctx, userKey, 0)
	if err != nil {
		return nil, err
	}

	prev := ""
	for i, event := range events {
		if event.PrevHash != prev {
			return &VerifyResult{
				TotalEvents:  len(events),
				BreakPoint:   i + 1,
				BreakEventID: event.EventID,
				ExpectedHash: prev,
				ActualHash:   event.PrevHash,
				Message:      fmt.Sprintf("event %d: prev_hash does not match the preceding event", i+1),
			}, nil
		}
		recomputed, err := ComputeHash(event)
		if err != nil {
			return nil, err
		}
		if recomputed != event.Hash {
			return &VerifyResult{
				TotalEvents:  len(events),
				BreakPoint:   i + 1,
				BreakEventID: event.EventID,
				ExpectedHash: recomputed,
				ActualHash:   event.Hash,
				Message:      fmt.Sprintf("event %d: stored hash does not match its content", i+1),
			}, nil
		}
		prev = event.Hash
	}

	return &VerifyResult{
		Valid:       true,
		TotalEvents: len(events),
		Message:     fmt.Sprintf("chain intact (%d events)", len(events)),
	}, nil
}
