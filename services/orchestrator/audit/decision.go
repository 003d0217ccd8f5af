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
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/advisors"
)

const (
	redisDecisionPrefix = "decision:"
	firestoreDecisions  = "decision_audit"
)

// DecisionRecord is one row per pipeline execution: the final verdict
// plus a snapshot of what each advisor stage returned. Text fields are
// sanitized before the record is built.
type DecisionRecord struct {
	CorrelationID         string    `json:"correlation_id"`
	SessionID             string    `json:"session_id,omitempty"`
	UserKey               string    `json:"user_key,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
	FinalState            string    `json:"final_state"`
	ApplyState            bool      `json:"apply_state"`
	SelectedResponseIndex int       `json:"selected_response_index"`
	MessageKind           string    `json:"message_kind"`
	OverallConfidence     float64   `json:"overall_confidence"`
	Reason                string    `json:"reason"`

	Selector  advisors.StateSelectorOutput     `json:"selector"`
	Generator advisors.ResponseGeneratorOutput `json:"generator"`
	Decision  advisors.MasterDecisionOutput    `json:"decision"`
}

// DecisionStore persists decision records keyed by correlation id.
// Appends are first-write-wins: redelivered webhooks re-run with the
// same correlation id must not rewrite history.
type DecisionStore interface {
	AppendDecision(ctx context.Context, record DecisionRecord) error

	// GetDecision returns the record, or (nil, nil) when absent.
	GetDecision(ctx context.Context, correlationID string) (*DecisionRecord, error)
}

// NewDecisionStore resolves a DecisionStore from the configured
// backend name. The memory backend is refused outside development.
func NewDecisionStore(backend string, opts Options) (DecisionStore, error) {
	switch backend {
	case "memory":
		if opts.Environment != "" && opts.Environment != "development" {
			return nil, fmt.Errorf("audit: memory decision backend is not allowed in %s", opts.Environment)
		}
		return NewMemoryDecisionStore(), nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("audit: redis decision backend requires a redis client")
		}
		return NewRedisDecisionStore(opts.Redis), nil
	case "firestore":
		if opts.Firestore == nil {
			return nil, fmt.Errorf("audit: firestore decision backend requires a firestore client")
		}
		return NewFirestoreDecisionStore(opts.Firestore), nil
	default:
		return nil, fmt.Errorf("audit: unknown decision backend %q", backend)
	}
}

// MemoryDecisionStore is a map with first-write-wins semantics.
// Development only.
type MemoryDecisionStore struct {
	mu      sync.RWMutex
	records map[string]DecisionRecord
}

var _ DecisionStore = (*MemoryDecisionStore)(nil)

func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{records: make(map[string]DecisionRecord)}
}

func (m *MemoryDecisionStore) AppendDecision(_ context.Context, record DecisionRecord) error {
	if record.CorrelationID == "" {
		return fmt.Errorf("audit: decision without correlation id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.CorrelationID]; !exists {
		m.records[record.CorrelationID] = record
	}
	return nil
}

func (m *MemoryDecisionStore) GetDecision(_ context.Context, correlationID string) (*DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[correlationID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// RedisDecisionStore keeps one JSON value per correlation id, written
// with SETNX so replays cannot overwrite the first record.
type RedisDecisionStore struct {
	client redis.Cmdable
}

var _ DecisionStore = (*RedisDecisionStore)(nil)

func NewRedisDecisionStore(client redis.Cmdable) *RedisDecisionStore {
	return &RedisDecisionStore{client: client}
}

func (r *RedisDecisionStore) AppendDecision(ctx context.Context, record DecisionRecord) error {
	if record.CorrelationID == "" {
		return fmt.Errorf("audit: decision without correlation id")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: encode decision %s: %w", record.CorrelationID, err)
	}
	if err := r.client.SetNX(ctx, redisDecisionPrefix+record.CorrelationID, payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: decision %s: %v", ErrUnavailable, record.CorrelationID, err)
	}
	return nil
}

func (r *RedisDecisionStore) GetDecision(ctx context.Context, correlationID string) (*DecisionRecord, error) {
	raw, err := r.client.Get(ctx, redisDecisionPrefix+correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decision %s: %v", ErrUnavailable, correlationID, err)
	}

	var record DecisionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("audit: decode decision %s: %w", correlationID, err)
	}
	return &record, nil
}

// FirestoreDecisionStore keeps one document per correlation id in the
// decision_audit collection. Create fails on existing docs, which
// gives the same first-write-wins behavior.
type FirestoreDecisionStore struct {
	client *firestore.Client
}

var _ DecisionStore = (*FirestoreDecisionStore)(nil)

func NewFirestoreDecisionStore(client *firestore.Client) *FirestoreDecisionStore {
	return &FirestoreDecisionStore{client: client}
}

func (f *FirestoreDecisionStore) AppendDecision(ctx context.Context, record DecisionRecord) error {
	if record.CorrelationID == "" {
		return fmt.Errorf("audit: decision without correlation id")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: encode decision %s: %w", record.CorrelationID, err)
	}

	ref := f.client.Collection(firestoreDecisions).Doc(record.CorrelationID)
	_, err = ref.Create(ctx, map[string]any{"payload": string(payload)})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: decision %s: %v", ErrUnavailable, record.CorrelationID, err)
	}
	return nil
}

func (f *FirestoreDecisionStore) GetDecision(ctx context.Context, correlationID string) (*DecisionRecord, error) {
	snap, err := f.client.Collection(firestoreDecisions).Doc(correlationID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decision %s: %v", ErrUnavailable, correlationID, err)
	}

	var doc struct {
		Payload string `firestore:"payload"`
	}
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("audit: decode decision %s: %w", correlationID, err)
	}
	var record DecisionRecord
	if err := json.Unmarshal([]byte(doc.Payload), &record); err != nil {
		return nil, fmt.Errorf("audit: decode decision %s: %w", correlationID, err)
	}
	return &record, nil
}
