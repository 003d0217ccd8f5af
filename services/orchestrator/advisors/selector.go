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
	"regexp"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/services/llm"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/prompts"
)

// closurePattern and newRequestPattern drive the deterministic clamps:
// they look at what the user wrote, not at what a model inferred.
var (
	closurePattern    = regexp.MustCompile(`(?i)(obrigad[oa]|valeu|era s[oó] isso|s[oó] isso|[eé] s[oó]|tchau|at[eé] mais|pode encerrar|thank you|thanks|that'?s all|bye)`)
	newRequestPattern = regexp.MustCompile(`(?i)(mais uma coisa|outra coisa|aproveitando|j[aá] que estou|al[eé]m disso|outra d[uú]vida|another (thing|question)|one more thing|also need)`)
)

// SelectorInput is the LLM#1 request payload. PossibleNextStates is
// never empty; history and message text arrive already sanitized.
type SelectorInput struct {
	CurrentState       string   `json:"current_state"`
	PossibleNextStates []string `json:"possible_next_states"`
	MessageText        string   `json:"message_text"`
	HistorySummary     []string `json:"history_summary,omitempty"`
	OpenItems          []string `json:"open_items,omitempty"`
	FulfilledItems     []string `json:"fulfilled_items,omitempty"`
	DetectedRequests   []string `json:"detected_requests,omitempty"`
}

// StateSelectorOutput is LLM#1's verdict. Invariants the stage
// enforces before returning: Accepted implies Confidence at or above
// the threshold; not Accepted implies a non-empty ResponseHint;
// NextState is always a member of the offered set or the current
// state.
type StateSelectorOutput struct {
	SelectedState    string   `json:"selected_state"`
	Confidence       float64  `json:"confidence"`
	Accepted         bool     `json:"accepted"`
	NextState        string   `json:"next_state"`
	ResponseHint     string   `json:"response_hint,omitempty"`
	Status           string   `json:"status"`
	OpenItems        []string `json:"open_items,omitempty"`
	FulfilledItems   []string `json:"fulfilled_items,omitempty"`
	DetectedRequests []string `json:"detected_requests,omitempty"`
}

// StateSelector is the first advisor stage.
type StateSelector struct {
	client    llm.Client
	prompts   *prompts.Provider
	threshold float64
	timeout   time.Duration
}

func NewStateSelector(client llm.Client, provider *prompts.Provider, threshold float64, timeout time.Duration) *StateSelector {
	return &StateSelector{client: client, prompts: provider, threshold: threshold, timeout: timeout}
}

// Select proposes the next conversation state. It never returns an
// error: any client trouble yields the deterministic rejection
// fallback, and the pre-check clamps run on whatever output survives.
func (s *StateSelector) Select(ctx context.Context, in SelectorInput, correlationID string) StateSelectorOutput {
	started := time.Now()

	out, reason := s.consult(ctx, in)
	if reason != "" {
		out = s.fallback(in)
		logFallback("state_selector", reason, correlationID, started)
	}

	s.enforceContract(&out)
	s.applyClamps(in, &out)
	return out
}

// consult runs the LLM and validates its output. The returned reason
// is empty on success and names the failure otherwise.
func (s *StateSelector) consult(ctx context.Context, in SelectorInput) (StateSelectorOutput, string) {
	var out StateSelectorOutput

	if s.client == nil {
		return out, "no_client"
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return out, "encode_input"
	}

	raw, err := complete(ctx, s.client, llm.Request{
		System:      s.prompts.Get(prompts.StateSelector),
		Prompt:      string(payload),
		Temperature: 0.1,
		MaxTokens:   512,
		ForceJSON:   true,
	}, s.timeout)
	if err != nil {
		return out, "llm_error"
	}

	if err := decodeJSON(raw, &out); err != nil {
		return out, "invalid_json"
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return out, "confidence_out_of_range"
	}
	if !s.validNextState(in, out.NextState) {
		return out, "invalid_state"
	}
	if out.SelectedState == "" {
		out.SelectedState = out.NextState
	}
	switch out.Status {
	case StatusDone, StatusInProgress, StatusNeedsClarification, StatusNewRequestDetected:
	default:
		out.Status = StatusInProgress
	}
	return out, ""
}

func (s *StateSelector) fallback(in SelectorInput) StateSelectorOutput {
	return StateSelectorOutput{
		SelectedState: in.CurrentState,
		Confidence:    0,
		Accepted:      false,
		NextState:     in.CurrentState,
		ResponseHint:  DefaultHint,
		Status:        StatusNeedsClarification,
	}
}

func (s *StateSelector) validNextState(in SelectorInput, state string) bool {
	if state == in.CurrentState {
		return true
	}
	for _, candidate := range in.PossibleNextStates {
		if candidate == state {
			return true
		}
	}
	return false
}

// enforceContract applies the acceptance rules that hold no matter
// where the output came from.
func (s *StateSelector) enforceContract(out *StateSelectorOutput) {
	if out.Accepted && out.Confidence < s.threshold {
		out.Accepted = false
	}
	if !out.Accepted && out.ResponseHint == "" {
		out.ResponseHint = DefaultHint
	}
}

// applyClamps runs the deterministic pre-checks. A closure-looking
// message with open items pending cannot close the conversation, and a
// message that tacks on an unrelated request must surface as one.
func (s *StateSelector) applyClamps(in SelectorInput, out *StateSelectorOutput) {
	switch {
	case len(in.OpenItems) > 0 && closurePattern.MatchString(in.MessageText):
		out.Status = StatusNeedsClarification
		s.clampBelowThreshold(out)
	case newRequestPattern.MatchString(in.MessageText):
		out.Status = StatusNewRequestDetected
		s.clampBelowThreshold(out)
	}
}

func (s *StateSelector) clampBelowThreshold(out *StateSelectorOutput) {
	out.Accepted = false
	if out.Confidence >= s.threshold {
		out.Confidence = s.threshold - confidenceClampMargin
		if out.Confidence < 0 {
			out.Confidence = 0
		}
	}
	if out.ResponseHint == "" {
		out.ResponseHint = DefaultHint
	}
}
