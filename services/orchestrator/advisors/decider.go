// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/services/llm"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/fsm"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/prompts"
)

// MessageKindText is the only outbound kind this version emits.
const MessageKindText = "text"

// fallbackReason is the fixed Reason on every decider fallback.
const fallbackReason = "llm3_fallback"

// DeciderInput is the LLM#3 request payload: everything the round
// produced so far.
type DeciderInput struct {
	MessageText   string                  `json:"message_text"`
	DayHistory    []string                `json:"day_history,omitempty"`
	Selector      StateSelectorOutput     `json:"selector"`
	Generator     ResponseGeneratorOutput `json:"generator"`
	CurrentState  string                  `json:"current_state"`
	CorrelationID string                  `json:"correlation_id"`
}

// MasterDecisionOutput closes the round. SelectedResponseIndex always
// indexes Generator.Responses and SelectedResponseText always equals
// that entry; the stage enforces both before returning.
type MasterDecisionOutput struct {
	FinalState            string   `json:"final_state"`
	ApplyState            bool     `json:"apply_state"`
	SelectedResponseIndex int      `json:"selected_response_index"`
	SelectedResponseText  string   `json:"selected_response_text"`
	MessageKind           string   `json:"message_kind"`
	OverallConfidence     float64  `json:"overall_confidence"`
	Reason                string   `json:"reason"`
	DecisionTrace         []string `json:"decision_trace,omitempty"`
}

// MasterDecider is the third advisor stage.
type MasterDecider struct {
	client  llm.Client
	prompts *prompts.Provider
	timeout time.Duration
}

func NewMasterDecider(client llm.Client, provider *prompts.Provider, timeout time.Duration) *MasterDecider {
	return &MasterDecider{client: client, prompts: provider, timeout: timeout}
}

// Decide arbitrates between the selector and generator outputs. It
// never returns an error: any failure or contract violation falls back
// to the selector's accepted state and the generator's chosen
// candidate.
func (d *MasterDecider) Decide(ctx context.Context, in DeciderInput) MasterDecisionOutput {
	started := time.Now()

	out, reason := d.consult(ctx, in)
	if reason != "" {
		out = d.fallback(in)
		logFallback("master_decider", reason, in.CorrelationID, started)
	}

	if out.Reason == "" {
		out.Reason = "master_decision"
	}
	out.MessageKind = MessageKindText
	return out
}

func (d *MasterDecider) consult(ctx context.Context, in DeciderInput) (MasterDecisionOutput, string) {
	var out MasterDecisionOutput

	if d.client == nil {
		return out, "no_client"
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return out, "encode_input"
	}

	raw, err := complete(ctx, d.client, llm.Request{
		System:      d.prompts.Get(prompts.MasterDecider),
		Prompt:      string(payload),
		Temperature: 0.1,
		MaxTokens:   512,
		ForceJSON:   true,
	}, d.timeout)
	if err != nil {
		return out, "llm_error"
	}

	if err := decodeJSON(raw, &out); err != nil {
		return out, "invalid_json"
	}
	if out.SelectedResponseIndex < 0 || out.SelectedResponseIndex >= len(in.Generator.Responses) {
		return out, "index_out_of_range"
	}
	if out.SelectedResponseText != in.Generator.Responses[out.SelectedResponseIndex] {
		return out, "text_index_mismatch"
	}
	if out.OverallConfidence < 0 || out.OverallConfidence > 1 {
		return out, "confidence_out_of_range"
	}
	if !fsm.ValidConversationState(out.FinalState) {
		return out, "invalid_state"
	}
	return out, ""
}

// fallback composes the deterministic decision from what the earlier
// stages already agreed on. Its confidence is the selector's, which is
// the minimum numeric confidence among the inputs.
func (d *MasterDecider) fallback(in DeciderInput) MasterDecisionOutput {
	finalState := in.CurrentState
	applyState := false
	if in.Selector.Accepted {
		finalState = in.Selector.NextState
		applyState = true
	}

	index := in.Generator.ChosenIndex
	text := ""
	if index >= 0 && index < len(in.Generator.Responses) {
		text = in.Generator.Responses[index]
	}

	return MasterDecisionOutput{
		FinalState:            finalState,
		ApplyState:            applyState,
		SelectedResponseIndex: index,
		SelectedResponseText:  text,
		MessageKind:           MessageKindText,
		OverallConfidence:     in.Selector.Confidence,
		Reason:                fallbackReason,
		DecisionTrace:         []string{"fallback: composed from selector and generator outputs"},
	}
}
