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
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreCollection = "dedupe"

// FirestoreStore keeps dedupe entries in a `dedupe/{key}` collection.
// Firestore has no native TTL eviction on writes, so entries carry an
// expires_at field and expired docs are treated as absent and
// overwritten in place.
type FirestoreStore struct {
	client *firestore.Client

	// now is replaceable in tests.
	now func() time.Time
}

type firestoreEntry struct {
	Key       string    `firestore:"key"`
	Status    string    `firestore:"status"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

func (f *FirestoreStore) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ref := f.client.Collection(firestoreCollection).Doc(key)
	now := f.now().UTC()
	created := false

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Transactions retry on contention; start each attempt clean.
		created = false

		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			// First writer for this key.
		case err != nil:
			return err
		default:
			var existing firestoreEntry
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if now.Before(existing.ExpiresAt) {
				return nil
			}
			// Expired entry; reclaim the slot.
		}
		created = true
		return tx.Set(ref, firestoreEntry{
			Key:       key,
			Status:    StatusPending,
			ExpiresAt: now.Add(ttl),
		})
	})
	if err != nil {
		return false, fmt.Errorf("%w: firestore txn %s: %v", ErrUnavailable, key, err)
	}
	return created, nil
}

func (f *FirestoreStore) IsDuplicate(ctx context.Context, key string) (bool, error) {
	snap, err := f.client.Collection(firestoreCollection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: firestore get %s: %v", ErrUnavailable, key, err)
	}

	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		return false, fmt.Errorf("%w: firestore decode %s: %v", ErrUnavailable, key, err)
	}
	return f.now().UTC().Before(entry.ExpiresAt), nil
}

func (f *FirestoreStore) UpdateStatus(ctx context.Context, key, newStatus string) error {
	ref := f.client.Collection(firestoreCollection).Doc(key)
	now := f.now().UTC()

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var entry firestoreEntry
		if err := snap.DataTo(&entry); err != nil {
			return err
		}
		if now.After(entry.ExpiresAt) {
			return ErrNotFound
		}
		return tx.Update(ref, []firestore.Update{{Path: "status", Value: newStatus}})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: firestore update %s: %v", ErrUnavailable, key, err)
}

func (f *FirestoreStore) Clear(ctx context.Context, key string) error {
	if _, err := f.client.Collection(firestoreCollection).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("%w: firestore delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
