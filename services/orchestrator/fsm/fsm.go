// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fsm is the conversation state machine. The internal alphabet
// drives pipeline mechanics; a smaller conversation-state view is what
// the LLM advisors and the session record see. Dispatch is pure: no
// clock, no I/O, no logging on the happy path.
package fsm

import (
	"errors"
	"fmt"
)

// =============================================================================
// Alphabets
// =============================================================================

// State is the internal machine alphabet.
type State string

const (
	StateInit                 State = "INIT"
	StateIdentifying          State = "IDENTIFYING"
	StateUnderstandingIntent  State = "UNDERSTANDING_INTENT"
	StateProcessing           State = "PROCESSING"
	StateGeneratingResponse   State = "GENERATING_RESPONSE"
	StateSelectingMessageType State = "SELECTING_MESSAGE_TYPE"
	StateAwaitingUser         State = "AWAITING_USER"
	StateEscalating           State = "ESCALATING"
	StateCompleted            State = "COMPLETED"
	StateFailed               State = "FAILED"
	StateSpam                 State = "SPAM"
)

// Event is the trigger alphabet.
type Event string

const (
	EventUserSentText         Event = "USER_SENT_TEXT"
	EventUserSentMedia        Event = "USER_SENT_MEDIA"
	EventUserSelectedButton   Event = "USER_SELECTED_BUTTON"
	EventUserSelectedListItem Event = "USER_SELECTED_LIST_ITEM"
	EventDetected             Event = "EVENT_DETECTED"
	EventResponseGenerated    Event = "RESPONSE_GENERATED"
	EventMessageTypeSelected  Event = "MESSAGE_TYPE_SELECTED"
	EventHumanHandoffReady    Event = "HUMAN_HANDOFF_READY"
	EventSelfServeComplete    Event = "SELF_SERVE_COMPLETE"
	EventExternalRouteReady   Event = "EXTERNAL_ROUTE_READY"
	EventSessionTimeout       Event = "SESSION_TIMEOUT"
	EventInternalError        Event = "INTERNAL_ERROR"
)

// Action names the downstream work a transition requests.
type Action string

const (
	ActionDetectEvent     Action = "DETECT_EVENT"
	ActionClassifyIntent  Action = "CLASSIFY_INTENT"
	ActionPrepareResponse Action = "PREPARE_RESPONSE"
	ActionSendMessage     Action = "SEND_MESSAGE"
	ActionPersistSession  Action = "PERSIST_SESSION"
	ActionEmitOutcome     Action = "EMIT_OUTCOME"
)

var (
	// ErrInvalidTransition marks a (state, event) pair outside the table.
	ErrInvalidTransition = errors.New("fsm: invalid transition")

	// ErrTerminalState marks dispatch from a state with no outgoing edges.
	ErrTerminalState = errors.New("fsm: state is terminal")
)

// Transition is the result of a dispatch.
type Transition struct {
	Next    State
	Actions []Action
}

// =============================================================================
// Transition Table
// =============================================================================

type stateEvent struct {
	state State
	event Event
}

// failure edges shared by every live state.
var (
	toFailed = Transition{Next: StateFailed, Actions: []Action{ActionPersistSession, ActionEmitOutcome}}
	toHuman  = Transition{Next: StateEscalating, Actions: []Action{ActionSendMessage, ActionPersistSession, ActionEmitOutcome}}
	toDone   = Transition{Next: StateCompleted, Actions: []Action{ActionSendMessage, ActionPersistSession, ActionEmitOutcome}}
)

var transitions = map[stateEvent]Transition{
	// Fresh session: the first user turn opens identification; a direct
	// selection already carries intent.
	{StateInit, EventUserSentText}:         {Next: StateIdentifying, Actions: []Action{ActionDetectEvent}},
	{StateInit, EventUserSentMedia}:        {Next: StateIdentifying, Actions: []Action{ActionDetectEvent}},
	{StateInit, EventUserSelectedButton}:   {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateInit, EventUserSelectedListItem}: {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateInit, EventSessionTimeout}:       toFailed,
	{StateInit, EventInternalError}:        toFailed,

	{StateIdentifying, EventDetected}:          {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateIdentifying, EventUserSentText}:      {Next: StateIdentifying, Actions: []Action{ActionDetectEvent}},
	{StateIdentifying, EventUserSentMedia}:     {Next: StateIdentifying, Actions: []Action{ActionDetectEvent}},
	{StateIdentifying, EventHumanHandoffReady}: toHuman,
	{StateIdentifying, EventSessionTimeout}:    toFailed,
	{StateIdentifying, EventInternalError}:     toFailed,

	{StateUnderstandingIntent, EventDetected}:              {Next: StateProcessing, Actions: []Action{ActionPrepareResponse}},
	{StateUnderstandingIntent, EventUserSentText}:          {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateUnderstandingIntent, EventUserSentMedia}:         {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateUnderstandingIntent, EventUserSelectedButton}:    {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateUnderstandingIntent, EventUserSelectedListItem}:  {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateUnderstandingIntent, EventHumanHandoffReady}:     toHuman,
	{StateUnderstandingIntent, EventSessionTimeout}:        toFailed,
	{StateUnderstandingIntent, EventInternalError}:         toFailed,

	{StateProcessing, EventDetected}:           {Next: StateGeneratingResponse, Actions: []Action{ActionPrepareResponse}},
	{StateProcessing, EventHumanHandoffReady}:  toHuman,
	{StateProcessing, EventSelfServeComplete}:  toDone,
	{StateProcessing, EventExternalRouteReady}: toDone,
	{StateProcessing, EventSessionTimeout}:     toFailed,
	{StateProcessing, EventInternalError}:      toFailed,

	{StateGeneratingResponse, EventResponseGenerated}: {Next: StateSelectingMessageType, Actions: nil},
	{StateGeneratingResponse, EventHumanHandoffReady}: toHuman,
	{StateGeneratingResponse, EventSessionTimeout}:    toFailed,
	{StateGeneratingResponse, EventInternalError}:     toFailed,

	{StateSelectingMessageType, EventMessageTypeSelected}: {Next: StateAwaitingUser, Actions: []Action{ActionSendMessage, ActionPersistSession}},
	{StateSelectingMessageType, EventHumanHandoffReady}:   toHuman,
	{StateSelectingMessageType, EventSelfServeComplete}:   toDone,
	{StateSelectingMessageType, EventExternalRouteReady}:  toDone,
	{StateSelectingMessageType, EventSessionTimeout}:      toFailed,
	{StateSelectingMessageType, EventInternalError}:       toFailed,

	{StateAwaitingUser, EventUserSentText}:         {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateAwaitingUser, EventUserSentMedia}:        {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateAwaitingUser, EventUserSelectedButton}:   {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateAwaitingUser, EventUserSelectedListItem}: {Next: StateUnderstandingIntent, Actions: []Action{ActionClassifyIntent}},
	{StateAwaitingUser, EventHumanHandoffReady}:    toHuman,
	{StateAwaitingUser, EventSelfServeComplete}:    toDone,
	{StateAwaitingUser, EventSessionTimeout}:       toFailed,
	{StateAwaitingUser, EventInternalError}:        toFailed,
}

// terminal states have no outgoing edges for any event.
var terminals = map[State]bool{
	StateEscalating: true,
	StateCompleted:  true,
	StateFailed:     true,
	StateSpam:       true,
}

// =============================================================================
// Dispatch
// =============================================================================

// Dispatch resolves one (state, event) pair. On error the returned
// Transition keeps Next = state so callers can persist unchanged.
func Dispatch(state State, event Event) (Transition, error) {
	if terminals[state] {
		return Transition{Next: state}, fmt.Errorf("%w: %s", ErrTerminalState, state)
	}
	t, ok := transitions[stateEvent{state, event}]
	if !ok {
		return Transition{Next: state}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, state)
	}
	return t, nil
}

// IsTerminalState reports whether the internal state has no outgoing
// edges.
func IsTerminalState(state State) bool {
	return terminals[state]
}

// States returns the internal alphabet. Test support.
func States() []State {
	return []State{
		StateInit, StateIdentifying, StateUnderstandingIntent,
		StateProcessing, StateGeneratingResponse, StateSelectingMessageType,
		StateAwaitingUser, StateEscalating, StateCompleted, StateFailed,
		StateSpam,
	}
}

// Events returns the trigger alphabet. Test support.
func Events() []Event {
	return []Event{
		EventUserSentText, EventUserSentMedia, EventUserSelectedButton,
		EventUserSelectedListItem, EventDetected, EventResponseGenerated,
		EventMessageTypeSelected, EventHumanHandoffReady,
		EventSelfServeComplete, EventExternalRouteReady,
		EventSessionTimeout, EventInternalError,
	}
}
