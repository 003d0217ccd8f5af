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
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/prompts"
)

// fallbackStyle tags every template candidate.
const fallbackStyle = "neutro"

// fallbackClosers are the neutral closure templates. The selector's
// hint, when present, replaces the first one so the reply still points
// at whatever the selector wanted clarified.
var fallbackClosers = [3]string{
	"Posso ajudar em algo mais?",
	"Certo! Há mais alguma coisa que eu possa verificar para você?",
	"Entendido. Se precisar de mais alguma coisa, é só me chamar.",
}

// GeneratorInput is the LLM#2 request payload.
type GeneratorInput struct {
	CurrentState   string              `json:"current_state"`
	CandidateState string              `json:"candidate_state"`
	Confidence     float64             `json:"confidence"`
	Hint           string              `json:"hint,omitempty"`
	MessageText    string              `json:"message_text"`
	DayHistory     []string            `json:"day_history,omitempty"`
	Selector       StateSelectorOutput `json:"selector"`
}

// ResponseGeneratorOutput always satisfies: at least the configured
// minimum of responses, one style tag per response, a valid
// ChosenIndex, and non-empty SafetyNotes.
type ResponseGeneratorOutput struct {
	Responses         []string `json:"responses"`
	ResponseStyleTags []string `json:"response_style_tags"`
	ChosenIndex       int      `json:"chosen_index"`
	SafetyNotes       []string `json:"safety_notes"`
}

// ResponseGenerator is the second advisor stage.
type ResponseGenerator struct {
	client       llm.Client
	prompts      *prompts.Provider
	minResponses int
	timeout      time.Duration
}

func NewResponseGenerator(client llm.Client, provider *prompts.Provider, minResponses int, timeout time.Duration) *ResponseGenerator {
	return &ResponseGenerator{client: client, prompts: provider, minResponses: minResponses, timeout: timeout}
}

// Generate produces reply candidates for the round. It never returns
// an error; any failure or contract violation yields the three-template
// fallback with ChosenIndex 0.
func (g *ResponseGenerator) Generate(ctx context.Context, in GeneratorInput, correlationID string) ResponseGeneratorOutput {
	started := time.Now()

	out, reason := g.consult(ctx, in)
	if reason != "" {
		out = g.fallback(in.Hint)
		logFallback("response_generator", reason, correlationID, started)
	}
	return out
}

func (g *ResponseGenerator) consult(ctx context.Context, in GeneratorInput) (ResponseGeneratorOutput, string) {
	var out ResponseGeneratorOutput

	if g.client == nil {
		return out, "no_client"
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return out, "encode_input"
	}

	raw, err := complete(ctx, g.client, llm.Request{
		System:      g.prompts.Get(prompts.ResponseGenerator),
		Prompt:      string(payload),
		Temperature: 0.7,
		MaxTokens:   1024,
		ForceJSON:   true,
	}, g.timeout)
	if err != nil {
		return out, "llm_error"
	}

	if err := decodeJSON(raw, &out); err != nil {
		return out, "invalid_json"
	}
	if len(out.Responses) < g.minResponses {
		return out, "too_few_responses"
	}
	for _, r := range out.Responses {
		if r == "" {
			return out, "empty_response"
		}
	}
	if out.ChosenIndex < 0 || out.ChosenIndex >= len(out.Responses) {
		return out, "chosen_index_out_of_range"
	}
	if len(out.SafetyNotes) == 0 {
		return out, "missing_safety_notes"
	}

	// One style tag per response; pad or trim rather than reject.
	for len(out.ResponseStyleTags) < len(out.Responses) {
		out.ResponseStyleTags = append(out.ResponseStyleTags, fallbackStyle)
	}
	out.ResponseStyleTags = out.ResponseStyleTags[:len(out.Responses)]

	return out, ""
}

// fallback returns exactly three neutral closure prompts. The hint
// becomes the first candidate when the selector provided one.
func (g *ResponseGenerator) fallback(hint string) ResponseGeneratorOutput {
	responses := []string{fallbackClosers[0], fallbackClosers[1], fallbackClosers[2]}
	if hint != "" {
		responses[0] = hint
	}
	return ResponseGeneratorOutput{
		Responses:         responses,
		ResponseStyleTags: []string{fallbackStyle, fallbackStyle, fallbackStyle},
		ChosenIndex:       0,
		SafetyNotes:       []string{"resposta de contingência gerada sem LLM; nenhum dado pessoal incluído"},
	}
}
