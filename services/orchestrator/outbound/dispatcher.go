// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package outbound

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/dedupe"
)

const defaultStatusTimeout = 300 * time.Millisecond

// DispatcherOptions tunes the worker pool. Zero values take the
// service defaults (4 workers, 10 jobs/s).
type DispatcherOptions struct {
	Workers       int
	RatePerSecond float64

	// StatusTimeout bounds the dedupe status write after each send.
	StatusTimeout time.Duration
}

// Dispatcher drains the queue through the Sender and records the
// delivery outcome on each job's outbound dedupe entry.
type Dispatcher struct {
	queue         *Queue
	sender        Sender
	dedupe        dedupe.Store
	limiter       *rate.Limiter
	workers       int
	statusTimeout time.Duration
}

func NewDispatcher(queue *Queue, sender Sender, store dedupe.Store, opts DispatcherOptions) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	rps := opts.RatePerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	statusTimeout := opts.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = defaultStatusTimeout
	}
	if sender == nil {
		sender = LoggingSender{}
	}
	return &Dispatcher{
		queue:         queue,
		sender:        sender,
		dedupe:        store,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		workers:       workers,
		statusTimeout: statusTimeout,
	}
}

// Run consumes jobs until the queue is closed and drained, then
// returns nil. Canceling ctx aborts the drain: workers stop at the
// next rate-limiter wait and Run returns the context error. Jobs still
// queued at that point are lost; their dedupe entries stay pending
// until the TTL clears them.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case job, ok := <-d.queue.jobs:
					if !ok {
						return nil
					}
					if err := d.limiter.Wait(gCtx); err != nil {
						return err
					}
					d.deliver(gCtx, job)
				case <-gCtx.Done():
					return gCtx.Err()
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	err := d.sender.Send(ctx, job)
	status := dedupe.StatusSent
	if err != nil {
		status = dedupe.StatusFailed
		slog.Error("outbound_send_failed",
			"error", err,
			"message_type", job.MessageType,
			"idempotency_key", job.IdempotencyKey,
			"correlation_id", job.CorrelationID,
		)
	}
	d.markStatus(job, status)
}

// markStatus runs on a fresh context so a shutdown mid-send cannot
// leave a delivered job marked pending.
func (d *Dispatcher) markStatus(job Job, status string) {
	key, err := job.DedupeKey()
	if err != nil {
		slog.Error("outbound_status_key_failed",
			"error", err,
			"idempotency_key", job.IdempotencyKey,
			"correlation_id", job.CorrelationID,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.statusTimeout)
	defer cancel()

	err = d.dedupe.UpdateStatus(ctx, key, status)
	switch {
	case err == nil:
	case errors.Is(err, dedupe.ErrNotFound):
		slog.Debug("outbound_status_entry_missing",
			"idempotency_key", job.IdempotencyKey,
			"correlation_id", job.CorrelationID,
		)
	default:
		slog.Warn("outbound_status_update_failed",
			"error", err,
			"status", status,
			"idempotency_key", job.IdempotencyKey,
			"correlation_id", job.CorrelationID,
		)
	}
}
