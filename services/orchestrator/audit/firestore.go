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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	firestoreConversations = "conversations"
	firestoreAuditEvents   = "audit"
)

// FirestoreStore keeps one head document per user at
// conversations/{user-key} (latest hash + chain length) and the events
// in its audit subcollection, one doc per event id. The transaction
// over the head document is what serializes concurrent appends.
type FirestoreStore struct {
	client *firestore.Client

	// now is replaceable in tests.
	now func() time.Time
}

type firestoreHeadDoc struct {
	LatestHash string    `firestore:"latest_hash"`
	Length     int64     `firestore:"length"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

type firestoreEventDoc struct {
	Payload  string `firestore:"payload"`
	Seq      int64  `firestore:"seq"`
	Hash     string `firestore:"hash"`
	PrevHash string `firestore:"prev_hash"`
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

func (f *FirestoreStore) headRef(userKey string) *firestore.DocumentRef {
	return f.client.Collection(firestoreConversations).Doc(userKey)
}

func (f *FirestoreStore) GetLatestEvent(ctx context.Context, userKey string) (*Event, error) {
	iter := f.headRef(userKey).Collection(firestoreAuditEvents).
		OrderBy("seq", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: tail %s: %v", ErrUnavailable, userKey, err)
	}
	return decodeEventDoc(snap, userKey)
}

func (f *FirestoreStore) ListEvents(ctx context.Context, userKey string, limit int) ([]Event, error) {
	query := f.headRef(userKey).Collection(firestoreAuditEvents).Query
	if limit > 0 {
		query = query.OrderBy("seq", firestore.Desc).Limit(limit)
	} else {
		query = query.OrderBy("seq", firestore.Asc)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var events []Event
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, userKey, err)
		}
		event, err := decodeEventDoc(snap, userKey)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	if limit > 0 {
		// The limited query reads newest-first; restore append order.
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	return events, nil
}

func (f *FirestoreStore) AppendEvent(ctx context.Context, event Event, expectedPrevHash string) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("audit: encode event %s: %w", event.EventID, err)
	}

	headRef := f.headRef(event.UserKey)
	accepted := false

	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		accepted = false

		var head firestoreHeadDoc
		snap, err := tx.Get(headRef)
		switch {
		case status.Code(err) == codes.NotFound:
			// First event for this user.
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&head); err != nil {
				return err
			}
		}
		if head.LatestHash != expectedPrevHash {
			return nil
		}

		accepted = true
		seq := head.Length + 1
		eventRef := headRef.Collection(firestoreAuditEvents).Doc(event.EventID)
		if err := tx.Set(eventRef, firestoreEventDoc{
			Payload:  string(payload),
			Seq:      seq,
			Hash:     event.Hash,
			PrevHash: event.PrevHash,
		}); err != nil {
			return err
		}
		return tx.Set(headRef, firestoreHeadDoc{
			LatestHash: event.Hash,
			Length:     seq,
			UpdatedAt:  f.now().UTC(),
		})
	})
	if err != nil {
		return false, fmt.Errorf("%w: firestore txn %s: %v", ErrUnavailable, event.UserKey, err)
	}
	return accepted, nil
}

func decodeEventDoc(snap *firestore.DocumentSnapshot, userKey string) (*Event, error) {
	var doc firestoreEventDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("audit: decode doc %s/%s: %w", userKey, snap.Ref.ID, err)
	}
	var event Event
	if err := json.Unmarshal([]byte(doc.Payload), &event); err != nil {
		return nil, fmt.Errorf("audit: decode event %s/%s: %w", userKey, snap.Ref.ID, err)
	}
	return &event, nil
}
