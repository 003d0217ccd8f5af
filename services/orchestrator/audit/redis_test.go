// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the Redis audit backends against miniredis.

package audit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisAudit(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client)
}

func TestRedisChainAppendAndRead(t *testing.T) {
	_, store := newRedisAudit(t)
	appender := NewAppender(store)

	first, err := appender.Append(context.Background(), chainEvent("user-1", ActionMessageProcessed))
	require.NoError(t, err)
	second, err := appender.Append(context.Background(), chainEvent("user-1", ActionSessionClosed))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)

	tail, err := store.GetLatestEvent(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, second.EventID, tail.EventID)

	all, err := store.ListEvents(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.EventID, all[0].EventID)

	last, err := store.ListEvents(context.Background(), "user-1", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, second.EventID, last[0].EventID)
}

func TestRedisChainRejectsStaleTail(t *testing.T) {
	_, store := newRedisAudit(t)
	appender := NewAppender(store)

	_, err := appender.Append(context.Background(), chainEvent("user-1", ActionMessageProcessed))
	require.NoError(t, err)

	stale := chainEvent("user-1", ActionMessageProcessed)
	stale.EventID = "ev-stale"
	stale.Hash = "deadbeef"
	accepted, err := store.AppendEvent(context.Background(), stale, "")
	require.NoError(t, err)
	assert.False(t, accepted)

	all, err := store.ListEvents(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisChainVerifies(t *testing.T) {
	_, store := newRedisAudit(t)
	appender := NewAppender(store)
	for i := 0; i < 3; i++ {
		_, err := appender.Append(context.Background(), chainEvent("user-1", ActionMessageProcessed))
		require.NoError(t, err)
	}

	result, err := VerifyChain(context.Background(), store, "user-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.TotalEvents)
}

func TestRedisChainEmpty(t *testing.T) {
	_, store := newRedisAudit(t)

	tail, err := store.GetLatestEvent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, tail)

	all, err := store.ListEvents(context.Background(), "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisDecisionFirstWriteWins(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisDecisionStore(client)

	first := DecisionRecord{CorrelationID: "corr-1", Reason: "original", FinalState: "SELF_SERVE_INFO"}
	require.NoError(t, store.AppendDecision(context.Background(), first))

	replay := DecisionRecord{CorrelationID: "corr-1", Reason: "replayed"}
	require.NoError(t, store.AppendDecision(context.Background(), replay))

	got, err := store.GetDecision(context.Background(), "corr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "original", got.Reason)
	assert.Equal(t, "SELF_SERVE_INFO", got.FinalState)

	missing, err := store.GetDecision(context.Background(), "corr-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedisChainUnavailable(t *testing.T) {
	mr, store := newRedisAudit(t)
	mr.Close()

	_, err := store.GetLatestEvent(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.ListEvents(context.Background(), "user-1", 0)
	assert.ErrorIs(t, err, ErrUnavailable)

	event := chainEvent("user-1", ActionMessageProcessed)
	event.EventID = "ev-1"
	_, err = store.AppendEvent(context.Background(), event, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}
