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
	"errors"
	"sync"
)

var (
	// ErrQueueFull means the enqueue was dropped. The caller marks the
	// job's dedupe entry failed so a later retry can rebuild it.
	ErrQueueFull = errors.New("outbound: queue full")

	// ErrQueueClosed means the service is shutting down.
	ErrQueueClosed = errors.New("outbound: queue closed")
)

// Queue is the bounded in-process buffer between the pipeline and the
// dispatcher. Enqueue never blocks a webhook request: a full queue is
// an error, not backpressure.
type Queue struct {
	mu     sync.Mutex
	jobs   chan Job
	closed bool
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{jobs: make(chan Job, capacity)}
}

// Enqueue hands the job to the dispatcher. Fire and forget: once this
// returns nil the pipeline treats the reply as sent.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops new enqueues. Jobs already queued stay consumable so the
// dispatcher can drain on shutdown. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Depth reports the number of queued jobs.
func (q *Queue) Depth() int {
	return len(q.jobs)
}
