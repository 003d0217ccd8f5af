// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the memory dedupe backend and the factory.

package dedupe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "inbound:wamid.123", InboundKey("wamid.123"))
	assert.Equal(t, "outbound:abcdef", OutboundKey("abcdef"))
}

func TestMemoryMarkIfNew(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.MarkIfNew(ctx, InboundKey("m1"), time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.MarkIfNew(ctx, InboundKey("m1"), time.Hour)
	require.NoError(t, err)
	assert.False(t, created)

	dup, err := store.IsDuplicate(ctx, InboundKey("m1"))
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = store.IsDuplicate(ctx, InboundKey("m2"))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	current := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	created, err := store.MarkIfNew(ctx, "inbound:m1", time.Minute)
	require.NoError(t, err)
	require.True(t, created)

	current = current.Add(30 * time.Second)
	dup, err := store.IsDuplicate(ctx, "inbound:m1")
	require.NoError(t, err)
	assert.True(t, dup)

	current = current.Add(31 * time.Second)
	dup, err = store.IsDuplicate(ctx, "inbound:m1")
	require.NoError(t, err)
	assert.False(t, dup)

	// The slot is reclaimable once expired.
	created, err = store.MarkIfNew(ctx, "inbound:m1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemoryUpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.MarkIfNew(ctx, OutboundKey("h1"), time.Hour)
	require.NoError(t, err)

	st, ok := store.Status(OutboundKey("h1"))
	require.True(t, ok)
	assert.Equal(t, StatusPending, st)

	require.NoError(t, store.UpdateStatus(ctx, OutboundKey("h1"), StatusSent))
	st, ok = store.Status(OutboundKey("h1"))
	require.True(t, ok)
	assert.Equal(t, StatusSent, st)

	err = store.UpdateStatus(ctx, OutboundKey("missing"), StatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.MarkIfNew(ctx, "inbound:m1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx, "inbound:m1"))

	dup, err := store.IsDuplicate(ctx, "inbound:m1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMemoryMarkIfNewSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const workers = 64
	var wg sync.WaitGroup
	wins := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.MarkIfNew(ctx, "inbound:contended", time.Hour)
			assert.NoError(t, err)
			wins <- created
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for created := range wins {
		if created {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestFactory(t *testing.T) {
	store, err := New("memory", Options{Environment: "development"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = New("memory", Options{Environment: "production"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in production")

	_, err = New("memory", Options{Environment: "staging"})
	require.Error(t, err)

	_, err = New("redis", Options{Environment: "production"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a redis client")

	_, err = New("firestore", Options{Environment: "production"})
	require.Error(t, err)

	_, err = New("dynamo", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}
