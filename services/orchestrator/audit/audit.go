// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit keeps two durable records of every processed message:
// a tamper-evident hash chain per user key, and a best-effort decision
// log per correlation id.
//
// Chain structure: each event's hash covers the canonical JSON of the
// event without its hash field, concatenated with the previous event's
// hash (empty for the first event). Appends are compare-and-swap on
// the chain tail, so concurrent writers for the same user key cannot
// fork the chain; one of them loses the race and retries.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/pkg/canonical"
)

var (
	// ErrChainConflict means the chain tail moved during an append and
	// all retries were exhausted.
	ErrChainConflict = errors.New("audit: chain conflict")

	// ErrUnavailable wraps backend transport failures.
	ErrUnavailable = errors.New("audit: backend unavailable")
)

// Actor values for Event.Actor.
const (
	ActorSystem = "SYSTEM"
	ActorHuman  = "HUMAN"
)

// Action tags recorded by the pipeline.
const (
	ActionMessageProcessed = "message_processed"
	ActionGuardRejected    = "guard_rejected"
	ActionSessionClosed    = "session_closed"
)

// Event is one link in a user's audit chain. Events are immutable once
// appended; PrevHash and Hash are filled by the Appender.
type Event struct {
	EventID       string    `json:"event_id"`
	UserKey       string    `json:"user_key"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	Reason        string    `json:"reason,omitempty"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// ComputeHash returns the chain hash for the event:
// SHA-256(canonical-json(event without hash) || prev_hash). The event
// is taken by value; the caller's copy keeps its Hash field.
func ComputeHash(event Event) (string, error) {
	event.Hash = ""
	body, err := canonical.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("audit: encode event %s: %w", event.EventID, err)
	}
	return canonical.HashBytes(append(body, event.PrevHash...)), nil
}
