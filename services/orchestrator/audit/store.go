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

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
)

// Store is the chain persistence contract.
//
// # Thread Safety
//
//	Implementations are safe for concurrent use. AppendEvent is CAS on
//	the chain tail: the event is committed only when the latest stored
//	hash equals expectedPrevHash.
type Store interface {
	// GetLatestEvent returns the chain tail, or (nil, nil) for an
	// empty chain.
	GetLatestEvent(ctx context.Context, userKey string) (*Event, error)

	// ListEvents returns the chain in append order, oldest first. A
	// positive limit keeps only the most recent events.
	ListEvents(ctx context.Context, userKey string, limit int) ([]Event, error)

	// AppendEvent commits the event if the chain tail still matches
	// expectedPrevHash (empty string for an empty chain). It reports
	// whether the event was accepted.
	AppendEvent(ctx context.Context, event Event, expectedPrevHash string) (bool, error)
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
			return nil, fmt.Errorf("audit: memory backend is not allowed in %s", opts.Environment)
		}
		return NewMemoryStore(), nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("audit: redis backend requires a redis client")
		}
		return NewRedisStore(opts.Redis), nil
	case "firestore":
		if opts.Firestore == nil {
			return nil, fmt.Errorf("audit: firestore backend requires a firestore client")
		}
		return NewFirestoreStore(opts.Firestore), nil
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", backend)
	}
}
