// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fsm

import (
	"log/slog"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
)

// =============================================================================
// Conversation-State View
// =============================================================================

// ConversationState is the smaller alphabet the advisors and the
// session record use. It is what persists in Session.CurrentState.
type ConversationState string

const (
	ConvInit              ConversationState = "INIT"
	ConvAwaitingUser      ConversationState = "AWAITING_USER"
	ConvHandoffHuman      ConversationState = "HANDOFF_HUMAN"
	ConvSelfServeInfo     ConversationState = "SELF_SERVE_INFO"
	ConvRouteExternal     ConversationState = "ROUTE_EXTERNAL"
	ConvScheduledFollowup ConversationState = "SCHEDULED_FOLLOWUP"
	ConvDuplicateOrSpam   ConversationState = "DUPLICATE_OR_SPAM"
	ConvFailedInternal    ConversationState = "FAILED_INTERNAL"
)

// Outcome is the per-message (and terminal per-session) result tag.
type Outcome string

const (
	OutcomeHandoffHuman      Outcome = "HANDOFF_HUMAN"
	OutcomeSelfServeInfo     Outcome = "SELF_SERVE_INFO"
	OutcomeRouteExternal     Outcome = "ROUTE_EXTERNAL"
	OutcomeScheduledFollowup Outcome = "SCHEDULED_FOLLOWUP"
	OutcomeAwaitingUser      Outcome = "AWAITING_USER"
	OutcomeDuplicateOrSpam   Outcome = "DUPLICATE_OR_SPAM"
	OutcomeUnsupported       Outcome = "UNSUPPORTED"
	OutcomeFailedInternal    Outcome = "FAILED_INTERNAL"
)

var conversationStates = map[ConversationState]bool{
	ConvInit:              true,
	ConvAwaitingUser:      true,
	ConvHandoffHuman:      true,
	ConvSelfServeInfo:     true,
	ConvRouteExternal:     true,
	ConvScheduledFollowup: true,
	ConvDuplicateOrSpam:   true,
	ConvFailedInternal:    true,
}

// terminal session outcomes; AWAITING_USER is a per-message outcome
// only and never closes a session.
var terminalOutcomes = map[Outcome]bool{
	OutcomeHandoffHuman:      true,
	OutcomeSelfServeInfo:     true,
	OutcomeRouteExternal:     true,
	OutcomeScheduledFollowup: true,
	OutcomeDuplicateOrSpam:   true,
	OutcomeUnsupported:       true,
	OutcomeFailedInternal:    true,
}

// ValidConversationState reports membership in the conversation
// alphabet.
func ValidConversationState(tag string) bool {
	return conversationStates[ConversationState(tag)]
}

// IsTerminal reports whether the conversation state closes the
// session. INIT and AWAITING_USER are the live states.
func IsTerminal(cs ConversationState) bool {
	switch cs {
	case ConvInit, ConvAwaitingUser:
		return false
	}
	return conversationStates[cs]
}

// ValidTerminalOutcome reports whether tag may be stored as a
// session's terminal outcome.
func ValidTerminalOutcome(tag string) bool {
	return terminalOutcomes[Outcome(tag)]
}

// OutcomeForState maps a terminal conversation state to the outcome
// recorded against the session. Live states return false.
func OutcomeForState(cs ConversationState) (Outcome, bool) {
	switch cs {
	case ConvHandoffHuman:
		return OutcomeHandoffHuman, true
	case ConvSelfServeInfo:
		return OutcomeSelfServeInfo, true
	case ConvRouteExternal:
		return OutcomeRouteExternal, true
	case ConvScheduledFollowup:
		return OutcomeScheduledFollowup, true
	case ConvDuplicateOrSpam:
		return OutcomeDuplicateOrSpam, true
	case ConvFailedInternal:
		return OutcomeFailedInternal, true
	}
	return "", false
}

// MapToConversationState collapses the internal alphabet onto the
// conversation view. The mapping is total: unknown inputs fold to INIT
// with a structured warning so a corrupted session row cannot wedge
// the pipeline.
func MapToConversationState(state State) ConversationState {
	switch state {
	case StateInit:
		return ConvInit
	case StateIdentifying, StateUnderstandingIntent, StateProcessing,
		StateGeneratingResponse, StateSelectingMessageType, StateAwaitingUser:
		return ConvAwaitingUser
	case StateEscalating:
		return ConvHandoffHuman
	case StateCompleted:
		return ConvSelfServeInfo
	case StateFailed:
		return ConvFailedInternal
	case StateSpam:
		return ConvDuplicateOrSpam
	}
	slog.Warn("fsm_state_mapping_fallback",
		"unknown_state", string(state),
		"mapped_to", string(ConvInit),
	)
	return ConvInit
}

// PossibleNextStates returns the candidate targets offered to the
// state selector. Every state, terminals included, offers the full
// live set: a new inbound message can always re-open a conversation,
// so the selector's menu is never empty.
func PossibleNextStates(ConversationState) []ConversationState {
	return []ConversationState{
		ConvAwaitingUser,
		ConvHandoffHuman,
		ConvSelfServeInfo,
		ConvRouteExternal,
		ConvScheduledFollowup,
	}
}

// =============================================================================
// Message → Event
// =============================================================================

// EventForMessage maps a normalized message kind onto the trigger
// alphabet. Reactions have no conversational event; callers record
// them as UNSUPPORTED without invoking the machine.
func EventForMessage(msg *datatypes.NormalizedMessage) (Event, bool) {
	switch msg.Kind {
	case datatypes.KindText:
		return EventUserSentText, true
	case datatypes.KindImage, datatypes.KindVideo, datatypes.KindAudio,
		datatypes.KindDocument, datatypes.KindSticker,
		datatypes.KindLocation, datatypes.KindContacts, datatypes.KindAddress:
		return EventUserSentMedia, true
	case datatypes.KindInteractive:
		if msg.InteractiveType == datatypes.SelectionList {
			return EventUserSelectedListItem, true
		}
		return EventUserSelectedButton, true
	case datatypes.KindTemplate:
		return EventUserSelectedButton, true
	}
	return "", false
}
