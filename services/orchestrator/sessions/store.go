// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessions persists conversation sessions and owns their
// lifecycle. Stores serialize with canonical JSON, enforce the
// terminal-outcome invariant on every save, and fence concurrent
// writers with a revision CAS. The Manager layers per-session locking,
// history append, and state normalization on top.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/fsm"
)

var (
	// ErrRevisionConflict means another writer saved the session since
	// this copy was loaded. Callers reload and retry the whole window.
	ErrRevisionConflict = errors.New("sessions: revision conflict")

	// ErrUnavailable wraps backend transport failures.
	ErrUnavailable = errors.New("sessions: backend unavailable")
)

// Store is the persistence contract.
//
// # Thread Safety
//
//	Implementations are safe for concurrent use. Save is CAS on
//	Session.Revision: it succeeds only when the stored revision equals
//	the one the caller loaded, and bumps the field in place on success.
type Store interface {
	// Save persists the session with the given TTL. Returns
	// ErrRevisionConflict when the stored revision moved.
	Save(ctx context.Context, session *datatypes.Session, ttl time.Duration) error

	// Load returns the session, or (nil, nil) when absent or expired.
	Load(ctx context.Context, sessionID string) (*datatypes.Session, error)

	// Delete removes the session, reporting whether it existed.
	Delete(ctx context.Context, sessionID string) (bool, error)

	// Exists reports presence without decoding the record.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// Options carries the shared clients the non-memory backends need.
type Options struct {
	Environment string
	Redis       redis.Cmdable
	Firestore   *firestore.Client
}

// New resolves a Store from the configured backend name. The memory
// backend is refused outside development.
func New(backend string, opts Options) (Store, error) {
	switch backend {
	case "memory":
		if opts.Environment != "" && opts.Environment != "development" {
			return nil, fmt.Errorf("sessions: memory backend is not allowed in %s", opts.Environment)
		}
		return NewMemoryStore(), nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("sessions: redis backend requires a redis client")
		}
		return NewRedisStore(opts.Redis), nil
	case "firestore":
		if opts.Firestore == nil {
			return nil, fmt.Errorf("sessions: firestore backend requires a firestore client")
		}
		return NewFirestoreStore(opts.Firestore), nil
	default:
		return nil, fmt.Errorf("sessions: unknown backend %q", backend)
	}
}

// enforceOutcomeInvariant runs before every save. A live session must
// carry no outcome; a terminal session must carry a valid terminal
// tag. Violations on a terminal save are normalized to FAILED_INTERNAL
// rather than rejected, so a buggy decision path can never leave a
// terminal session unsaved.
func enforceOutcomeInvariant(session *datatypes.Session) {
	state := fsm.ConversationState(session.CurrentState)

	if !fsm.IsTerminal(state) {
		if session.Outcome != "" {
			slog.Error("outcome_normalized",
				"session_id", session.SessionID,
				"current_state", session.CurrentState,
				"previous_outcome", session.Outcome,
				"normalized_to", "",
				"reason", "outcome set on live session",
			)
			session.Outcome = ""
		}
		return
	}

	if fsm.ValidTerminalOutcome(session.Outcome) {
		return
	}
	slog.Error("outcome_normalized",
		"session_id", session.SessionID,
		"current_state", session.CurrentState,
		"previous_outcome", session.Outcome,
		"normalized_to", string(fsm.OutcomeFailedInternal),
		"reason", "terminal save without valid outcome",
	)
	session.Outcome = string(fsm.OutcomeFailedInternal)
}
