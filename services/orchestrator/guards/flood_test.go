// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the flood detectors.

package guards

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFloodWindow(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryFloodDetector(3, time.Minute)

	current := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return current }

	start := current
	for i := 0; i < 3; i++ {
		allowed, err := d.Allow(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, allowed, "event %d should pass", i+1)
		current = current.Add(20 * time.Second)
	}

	// 60s window holds events at +0s, +20s, +40s; probe at +50s.
	current = start.Add(50 * time.Second)
	allowed, err := d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// At +61s the +0s event has aged out.
	current = start.Add(61 * time.Second)
	allowed, err = d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryFloodRejectionsDoNotExtendWindow(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryFloodDetector(2, time.Minute)

	current := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		allowed, err := d.Allow(ctx, "sess-1")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	for i := 0; i < 5; i++ {
		current = current.Add(time.Second)
		allowed, err := d.Allow(ctx, "sess-1")
		require.NoError(t, err)
		require.False(t, allowed)
	}

	// Only the two accepted events count; both fall out after a minute.
	current = current.Add(time.Minute)
	allowed, err := d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryFloodIsolatesSessions(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryFloodDetector(1, time.Minute)

	allowed, err := d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = d.Allow(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, allowed, "a flooded session must not penalize others")
}

func newRedisFlood(t *testing.T, threshold int, window time.Duration) (*RedisFloodDetector, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFloodDetector(client, threshold, window), mr
}

func TestRedisFloodWindow(t *testing.T) {
	ctx := context.Background()
	d, mr := newRedisFlood(t, 3, time.Minute)

	current := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return current }

	start := current
	for i := 0; i < 3; i++ {
		allowed, err := d.Allow(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, allowed, "event %d should pass", i+1)
		current = current.Add(20 * time.Second)
	}

	current = start.Add(50 * time.Second)
	allowed, err := d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	current = start.Add(61 * time.Second)
	allowed, err = d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.Equal(t, time.Minute, mr.TTL(floodKeyPrefix+"sess-1"))
}

func TestRedisFloodIsolatesSessions(t *testing.T) {
	ctx := context.Background()
	d, _ := newRedisFlood(t, 1, time.Minute)

	allowed, err := d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = d.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = d.Allow(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisFloodUnavailable(t *testing.T) {
	d, mr := newRedisFlood(t, 3, time.Minute)
	mr.Close()

	_, err := d.Allow(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewFloodDetector(t *testing.T) {
	base := FloodOptions{Threshold: 10, Window: time.Minute}

	dev := base
	dev.Environment = "development"
	d, err := NewFloodDetector("memory", dev)
	require.NoError(t, err)
	assert.IsType(t, &MemoryFloodDetector{}, d)

	prod := base
	prod.Environment = "production"
	_, err = NewFloodDetector("memory", prod)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in production")

	_, err = NewFloodDetector("redis", base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a redis client")

	_, err = NewFloodDetector("zset", base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flood backend")

	bad := base
	bad.Threshold = 0
	_, err = NewFloodDetector("memory", bad)
	require.Error(t, err)

	bad = base
	bad.Window = 0
	_, err = NewFloodDetector("memory", bad)
	require.Error(t, err)
}
