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
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AleutianAI/OttoOrchestrator/pkg/canonical"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
)

const firestoreSessionCollection = "sessions"

// FirestoreStore keeps each session at sessions/{session-id}. The
// canonical JSON rides in a payload field; revision is duplicated at
// the top level so the CAS transaction never decodes the payload.
// Expiry is a _ttl_expire_at field checked on read (and usable by a
// Firestore TTL policy).
type FirestoreStore struct {
	client *firestore.Client

	// now is replaceable in tests.
	now func() time.Time
}

type firestoreSessionDoc struct {
	Payload     string    `firestore:"payload"`
	Revision    int64     `firestore:"revision"`
	TTLExpireAt time.Time `firestore:"_ttl_expire_at"`
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

func (f *FirestoreStore) ref(sessionID string) *firestore.DocumentRef {
	return f.client.Collection(firestoreSessionCollection).Doc(sessionID)
}

func (f *FirestoreStore) Save(ctx context.Context, session *datatypes.Session, ttl time.Duration) error {
	enforceOutcomeInvariant(session)

	now := f.now().UTC()
	expected := session.Revision
	session.Revision = expected + 1
	payload, err := canonical.Marshal(session)
	if err != nil {
		session.Revision = expected
		return fmt.Errorf("sessions: encode %s: %w", session.SessionID, err)
	}

	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(f.ref(session.SessionID))
		switch {
		case status.Code(err) == codes.NotFound:
			if expected != 0 {
				return ErrRevisionConflict
			}
		case err != nil:
			return err
		default:
			var doc firestoreSessionDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			stored := doc.Revision
			if now.After(doc.TTLExpireAt) {
				stored = 0
			}
			if stored != expected {
				return ErrRevisionConflict
			}
		}
		return tx.Set(f.ref(session.SessionID), firestoreSessionDoc{
			Payload:     string(payload),
			Revision:    expected + 1,
			TTLExpireAt: now.Add(ttl),
		})
	})
	if err == nil {
		return nil
	}
	session.Revision = expected
	if errors.Is(err, ErrRevisionConflict) {
		return fmt.Errorf("%w: session %s", ErrRevisionConflict, session.SessionID)
	}
	return fmt.Errorf("%w: save %s: %v", ErrUnavailable, session.SessionID, err)
}

func (f *FirestoreStore) Load(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	snap, err := f.ref(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, sessionID, err)
	}

	var doc firestoreSessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("sessions: decode %s: %w", sessionID, err)
	}
	if f.now().UTC().After(doc.TTLExpireAt) {
		return nil, nil
	}

	var session datatypes.Session
	if err := json.Unmarshal([]byte(doc.Payload), &session); err != nil {
		return nil, fmt.Errorf("sessions: decode %s: %w", sessionID, err)
	}
	return &session, nil
}

func (f *FirestoreStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	existed, err := f.Exists(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if _, err := f.ref(sessionID).Delete(ctx); err != nil {
		return false, fmt.Errorf("%w: delete %s: %v", ErrUnavailable, sessionID, err)
	}
	return existed, nil
}

func (f *FirestoreStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	snap, err := f.ref(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, sessionID, err)
	}

	var doc firestoreSessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return false, fmt.Errorf("sessions: decode %s: %w", sessionID, err)
	}
	return f.now().UTC().Before(doc.TTLExpireAt), nil
}
