// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dedupe provides the idempotency store that makes webhook
// retries safe. Inbound keys collapse vendor redeliveries of the same
// message id; outbound keys collapse identical reply jobs. All
// backends implement the same atomic set-if-absent contract: under
// concurrent delivery of the same key exactly one caller wins.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Contract
// =============================================================================

// Outbound delivery statuses stored against outbound keys.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Key namespaces.
const (
	inboundPrefix  = "inbound:"
	outboundPrefix = "outbound:"
)

var (
	// ErrUnavailable wraps backend transport failures. The pipeline
	// fails closed on it outside development.
	ErrUnavailable = errors.New("dedupe: backend unavailable")

	// ErrNotFound is returned by UpdateStatus when the key is absent
	// or already expired.
	ErrNotFound = errors.New("dedupe: key not found")
)

// Store is the idempotency contract.
//
// # Thread Safety
//
//	All implementations are safe for concurrent use. MarkIfNew is
//	atomic: for a given key exactly one concurrent caller observes
//	true.
type Store interface {
	// MarkIfNew records key with the given TTL iff it is absent.
	// Returns true when this call created the entry.
	MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsDuplicate reports whether key is present and unexpired.
	IsDuplicate(ctx context.Context, key string) (bool, error)

	// UpdateStatus moves an outbound entry from pending to sent or
	// failed, preserving the remaining TTL.
	UpdateStatus(ctx context.Context, key, status string) error

	// Clear removes key. Test support only.
	Clear(ctx context.Context, key string) error
}

// InboundKey namespaces a vendor message id.
func InboundKey(messageID string) string {
	return inboundPrefix + messageID
}

// OutboundKey namespaces a canonical job hash.
func OutboundKey(hash string) string {
	return outboundPrefix + hash
}

// =============================================================================
// Factory
// =============================================================================

// Options carries the shared clients the non-memory backends need.
type Options struct {
	Environment string
	Redis       redis.Cmdable
	Firestore   *firestore.Client
}

// New resolves a Store from the configured backend name. The memory
// backend is refused outside development: process-local dedupe cannot
// collapse retries across replicas.
func New(backend string, opts Options) (Store, error) {
	switch backend {
	case "memory":
		if opts.Environment != "" && opts.Environment != "development" {
			return nil, fmt.Errorf("dedupe: memory backend is not allowed in %s", opts.Environment)
		}
		return NewMemoryStore(), nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("dedupe: redis backend requires a redis client")
		}
		return NewRedisStore(opts.Redis), nil
	case "firestore":
		if opts.Firestore == nil {
			return nil, fmt.Errorf("dedupe: firestore backend requires a firestore client")
		}
		return NewFirestoreStore(opts.Firestore), nil
	default:
		return nil, fmt.Errorf("dedupe: unknown backend %q", backend)
	}
}
