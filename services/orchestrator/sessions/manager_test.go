// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the session manager.

package sessions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/fsm"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryStore(), 2*time.Hour, 5)
}

func newTestMessage(id string, ts int64) *datatypes.NormalizedMessage {
	return &datatypes.NormalizedMessage{
		MessageID: id,
		From:      "+5511999999999",
		ChatID:    "+5511999999999",
		Timestamp: ts,
		Kind:      datatypes.KindText,
		Text:      "olá",
	}
}

func TestSessionIDForIsDeterministicPerChat(t *testing.T) {
	m := newTestManager()

	a := m.SessionIDFor(newTestMessage("m1", 1700000000))
	b := m.SessionIDFor(newTestMessage("m2", 1700000060))
	assert.Equal(t, a, b, "same chat must map to the same session")

	other := newTestMessage("m3", 1700000000)
	other.ChatID = "+5511888888888"
	assert.NotEqual(t, a, m.SessionIDFor(other))

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestSessionIDForWithoutChatIsRandom(t *testing.T) {
	m := newTestManager()

	msg := newTestMessage("m1", 1700000000)
	msg.ChatID = ""

	a := m.SessionIDFor(msg)
	b := m.SessionIDFor(msg)
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	msg := newTestMessage("m1", 1700000000)

	session, created, err := m.GetOrCreate(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, m.SessionIDFor(msg), session.SessionID)
	assert.Equal(t, string(fsm.ConvInit), session.CurrentState)
	assert.Equal(t, msg.ReceivedAt(), session.CreatedAt)
	assert.Equal(t, int64(0), session.Revision)

	session.LeadProfile.Name = "Maria"
	require.NoError(t, m.Persist(ctx, session))

	again, created, err := m.GetOrCreate(ctx, newTestMessage("m2", 1700000060))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, session.SessionID, again.SessionID)
	assert.Equal(t, "Maria", again.LeadProfile.Name)
	assert.Equal(t, int64(1), again.Revision)
}

func TestAppendUserMessage(t *testing.T) {
	m := newTestManager()
	session := newTestSession("sess-1")

	msg := newTestMessage("m1", 1700000000)
	assert.True(t, m.AppendUserMessage(session, msg, "corr-1"))
	require.Len(t, session.MessageHistory, 1)
	assert.Equal(t, "m1", session.MessageHistory[0].MessageID)
	assert.Equal(t, msg.ReceivedAt(), session.MessageHistory[0].ReceivedAt)

	assert.False(t, m.AppendUserMessage(session, msg, "corr-1"), "vendor retry must not duplicate history")
	assert.Len(t, session.MessageHistory, 1)
}

func TestAppendUserMessagePrunesHistory(t *testing.T) {
	m := newTestManager()
	session := newTestSession("sess-1")
	buf := captureLogs(t)

	for i := 1; i <= 6; i++ {
		msg := newTestMessage(fmt.Sprintf("m%d", i), 1700000000+int64(i))
		assert.True(t, m.AppendUserMessage(session, msg, "corr-1"))
	}

	require.Len(t, session.MessageHistory, 5)
	assert.Equal(t, "m2", session.MessageHistory[0].MessageID, "oldest entry is dropped first")
	assert.Equal(t, "m6", session.MessageHistory[4].MessageID)

	logs := buf.String()
	assert.Contains(t, logs, "session_history_pruned")
	assert.Contains(t, logs, `"previous_len":6`)
	assert.Contains(t, logs, `"new_len":5`)
	assert.Contains(t, logs, `"correlation_id":"corr-1"`)
}

func TestNormalizeCurrentState(t *testing.T) {
	m := newTestManager()

	session := newTestSession("sess-1")
	session.CurrentState = string(fsm.ConvAwaitingUser)
	got := m.NormalizeCurrentState(session, "corr-1")
	assert.Equal(t, fsm.ConvAwaitingUser, got)
	assert.Equal(t, string(fsm.ConvAwaitingUser), session.CurrentState)
}

func TestNormalizeCurrentStateRepairsUnknown(t *testing.T) {
	m := newTestManager()
	buf := captureLogs(t)

	session := newTestSession("sess-1")
	session.CurrentState = "NEGOTIATING"

	got := m.NormalizeCurrentState(session, "corr-1")
	assert.Equal(t, fsm.ConvInit, got)
	assert.Equal(t, string(fsm.ConvInit), session.CurrentState)
	assert.Contains(t, buf.String(), "invalid_state_normalized")
}

func TestIsFirstMessageOfDay(t *testing.T) {
	m := newTestManager()
	session := newTestSession("sess-1")

	noon := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	assert.True(t, m.IsFirstMessageOfDay(session, noon), "empty history means first contact")

	session.MessageHistory = append(session.MessageHistory, datatypes.HistoryEntry{
		MessageID:  "m1",
		ReceivedAt: time.Date(2025, 8, 25, 2, 30, 0, 0, time.UTC),
	})
	assert.False(t, m.IsFirstMessageOfDay(session, noon))

	nextDay := time.Date(2025, 8, 26, 0, 1, 0, 0, time.UTC)
	assert.True(t, m.IsFirstMessageOfDay(session, nextDay))
}

func TestIsFirstMessageOfDayUsesUTC(t *testing.T) {
	m := newTestManager()
	session := newTestSession("sess-1")

	brt := time.FixedZone("BRT", -3*60*60)
	// 23:30 BRT on the 24th is already 02:30 UTC on the 25th.
	session.MessageHistory = append(session.MessageHistory, datatypes.HistoryEntry{
		MessageID:  "m1",
		ReceivedAt: time.Date(2025, 8, 24, 23, 30, 0, 0, brt),
	})

	sameUTCDay := time.Date(2025, 8, 25, 10, 0, 0, 0, time.UTC)
	assert.False(t, m.IsFirstMessageOfDay(session, sameUTCDay))
}

func TestLockSerializesSameSession(t *testing.T) {
	m := newTestManager()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("sess-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, counter)

	unlockA := m.Lock("sess-a")
	defer unlockA()
	unlockB := m.Lock("sess-b")
	defer unlockB()
}

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	session := newTestSession("sess-1")
	before := session.UpdatedAt
	require.NoError(t, m.Persist(ctx, session))
	assert.Equal(t, int64(1), session.Revision)
	assert.False(t, session.UpdatedAt.Before(before))

	loaded, err := m.Reload(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session.SessionID, loaded.SessionID)

	assert.Equal(t, 2*time.Hour, m.TTL())
}
