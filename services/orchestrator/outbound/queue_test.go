// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the outbound queue.

package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueAndDepth(t *testing.T) {
	q := NewQueue(2)
	assert.Zero(t, q.Depth())

	require.NoError(t, q.Enqueue(testJob()))
	require.NoError(t, q.Enqueue(testJob()))
	assert.Equal(t, 2, q.Depth())
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(testJob()))
	assert.ErrorIs(t, q.Enqueue(testJob()), ErrQueueFull)
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Enqueue(testJob()))

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Enqueue(testJob()), ErrQueueClosed)

	// Queued jobs stay consumable after close.
	job, ok := <-q.jobs
	assert.True(t, ok)
	assert.Equal(t, "m1", job.IdempotencyKey)

	_, ok = <-q.jobs
	assert.False(t, ok)
}

func TestQueueMinimumCapacity(t *testing.T) {
	q := NewQueue(0)
	assert.NoError(t, q.Enqueue(testJob()))
	assert.ErrorIs(t, q.Enqueue(testJob()), ErrQueueFull)
}
