// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the conversation state machine.

package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathWalk(t *testing.T) {
	steps := []struct {
		event Event
		want  State
	}{
		{EventUserSentText, StateIdentifying},
		{EventDetected, StateUnderstandingIntent},
		{EventDetected, StateProcessing},
		{EventDetected, StateGeneratingResponse},
		{EventResponseGenerated, StateSelectingMessageType},
		{EventMessageTypeSelected, StateAwaitingUser},
	}

	state := StateInit
	for _, step := range steps {
		tr, err := Dispatch(state, step.event)
		require.NoError(t, err, "dispatch %s on %s", step.event, state)
		assert.Equal(t, step.want, tr.Next)
		state = tr.Next
	}
	assert.Equal(t, StateAwaitingUser, state)
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	for _, terminal := range []State{StateEscalating, StateCompleted, StateFailed, StateSpam} {
		for _, event := range Events() {
			tr, err := Dispatch(terminal, event)
			assert.ErrorIs(t, err, ErrTerminalState, "%s on %s", event, terminal)
			assert.Equal(t, terminal, tr.Next, "terminal must not move")
		}
	}
}

func TestInvalidPairKeepsState(t *testing.T) {
	tr, err := Dispatch(StateInit, EventResponseGenerated)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateInit, tr.Next)

	tr, err = Dispatch(StateGeneratingResponse, EventUserSentText)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateGeneratingResponse, tr.Next)
}

func TestDispatchIsPure(t *testing.T) {
	first, err1 := Dispatch(StateAwaitingUser, EventUserSentText)
	second, err2 := Dispatch(StateAwaitingUser, EventUserSentText)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
}

func TestTableHygiene(t *testing.T) {
	known := make(map[State]bool)
	for _, s := range States() {
		known[s] = true
	}
	knownActions := map[Action]bool{
		ActionDetectEvent:     true,
		ActionClassifyIntent:  true,
		ActionPrepareResponse: true,
		ActionSendMessage:     true,
		ActionPersistSession:  true,
		ActionEmitOutcome:     true,
	}

	for key, tr := range transitions {
		assert.True(t, known[key.state], "source %s not in alphabet", key.state)
		assert.True(t, known[tr.Next], "target %s not in alphabet", tr.Next)
		assert.False(t, IsTerminalState(key.state), "terminal %s has an outgoing edge", key.state)
		for _, a := range tr.Actions {
			assert.True(t, knownActions[a], "unknown action %s", a)
		}
	}
}

func TestEveryLiveStateHandlesInternalError(t *testing.T) {
	for _, state := range States() {
		if IsTerminalState(state) {
			continue
		}
		tr, err := Dispatch(state, EventInternalError)
		require.NoError(t, err, "state %s", state)
		assert.Equal(t, StateFailed, tr.Next)
		assert.Contains(t, tr.Actions, ActionEmitOutcome)
	}
}

func TestEveryLiveStateHandlesTimeout(t *testing.T) {
	for _, state := range States() {
		if IsTerminalState(state) {
			continue
		}
		tr, err := Dispatch(state, EventSessionTimeout)
		require.NoError(t, err, "state %s", state)
		assert.Equal(t, StateFailed, tr.Next)
	}
}

func TestHandoffReachableFromConversationStates(t *testing.T) {
	for _, state := range []State{
		StateIdentifying, StateUnderstandingIntent, StateProcessing,
		StateGeneratingResponse, StateSelectingMessageType, StateAwaitingUser,
	} {
		tr, err := Dispatch(state, EventHumanHandoffReady)
		require.NoError(t, err, "state %s", state)
		assert.Equal(t, StateEscalating, tr.Next)
		assert.Contains(t, tr.Actions, ActionSendMessage)
	}
}
