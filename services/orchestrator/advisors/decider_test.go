// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the master decider stage.

package advisors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func deciderInput() DeciderInput {
	return DeciderInput{
		MessageText:  "qual o horário de funcionamento?",
		CurrentState: "INIT",
		Selector: StateSelectorOutput{
			SelectedState: "SELF_SERVE_INFO",
			Confidence:    0.82,
			Accepted:      true,
			NextState:     "SELF_SERVE_INFO",
			Status:        StatusDone,
		},
		Generator: ResponseGeneratorOutput{
			Responses:         []string{"a", "b", "c"},
			ResponseStyleTags: []string{"neutro", "neutro", "neutro"},
			ChosenIndex:       1,
			SafetyNotes:       []string{"ok"},
		},
		CorrelationID: "corr-1",
	}
}

func TestDecideValidOutput(t *testing.T) {
	client := &stubClient{response: `{
		"final_state": "SELF_SERVE_INFO",
		"apply_state": true,
		"selected_response_index": 2,
		"selected_response_text": "c",
		"message_kind": "interactive",
		"overall_confidence": 0.9,
		"reason": "informational request answered",
		"decision_trace": ["selector accepted", "picked third variant"]
	}`}
	d := NewMasterDecider(client, testPrompts(t), time.Second)

	out := d.Decide(context.Background(), deciderInput())
	assert.Equal(t, "SELF_SERVE_INFO", out.FinalState)
	assert.True(t, out.ApplyState)
	assert.Equal(t, 2, out.SelectedResponseIndex)
	assert.Equal(t, "c", out.SelectedResponseText)
	assert.Equal(t, MessageKindText, out.MessageKind, "only text goes out regardless of the model's kind")
	assert.InDelta(t, 0.9, out.OverallConfidence, 1e-9)
	assert.Equal(t, "informational request answered", out.Reason)
	assert.True(t, client.lastReq.ForceJSON)
	assert.NotEmpty(t, client.lastReq.System)
}

func TestDecideFillsEmptyReason(t *testing.T) {
	client := &stubClient{response: `{
		"final_state": "SELF_SERVE_INFO",
		"apply_state": true,
		"selected_response_index": 0,
		"selected_response_text": "a",
		"message_kind": "text",
		"overall_confidence": 0.8
	}`}
	d := NewMasterDecider(client, testPrompts(t), time.Second)

	out := d.Decide(context.Background(), deciderInput())
	assert.Equal(t, "master_decision", out.Reason)
}

func TestDecideFallbackOnMismatchedText(t *testing.T) {
	buf := captureLogs(t)
	client := &stubClient{response: `{
		"final_state": "SELF_SERVE_INFO",
		"apply_state": true,
		"selected_response_index": 0,
		"selected_response_text": "b",
		"message_kind": "text",
		"overall_confidence": 0.9
	}`}
	d := NewMasterDecider(client, testPrompts(t), time.Second)

	out := d.Decide(context.Background(), deciderInput())
	assert.Equal(t, "SELF_SERVE_INFO", out.FinalState, "selector accepted, so its next state wins")
	assert.True(t, out.ApplyState)
	assert.Equal(t, 1, out.SelectedResponseIndex, "generator's own choice")
	assert.Equal(t, "b", out.SelectedResponseText)
	assert.InDelta(t, 0.82, out.OverallConfidence, 1e-9)
	assert.Equal(t, "llm3_fallback", out.Reason)
	assert.Equal(t, MessageKindText, out.MessageKind)
	assert.Contains(t, buf.String(), `"component":"master_decider"`)
}

func TestDecideFallbackKeepsCurrentStateWhenNotAccepted(t *testing.T) {
	captureLogs(t)
	in := deciderInput()
	in.Selector.Accepted = false
	in.Selector.NextState = "INIT"
	in.Selector.Confidence = 0.3
	d := NewMasterDecider(nil, testPrompts(t), time.Second)

	out := d.Decide(context.Background(), in)
	assert.Equal(t, "INIT", out.FinalState)
	assert.False(t, out.ApplyState)
	assert.InDelta(t, 0.3, out.OverallConfidence, 1e-9)
	assert.Equal(t, "llm3_fallback", out.Reason)
	assert.NotEmpty(t, out.DecisionTrace)
}

func TestDecideFallbackGuardsChosenIndex(t *testing.T) {
	captureLogs(t)
	in := deciderInput()
	in.Generator.Responses = nil
	in.Generator.ChosenIndex = 0
	d := NewMasterDecider(nil, testPrompts(t), time.Second)

	out := d.Decide(context.Background(), in)
	assert.Empty(t, out.SelectedResponseText)
}

func TestDecideFallbackOnBadOutput(t *testing.T) {
	cases := map[string]string{
		"invalid json":        `not json`,
		"index out of range":  `{"final_state":"INIT","selected_response_index":5,"selected_response_text":"c","overall_confidence":0.5}`,
		"confidence high":     `{"final_state":"INIT","selected_response_index":0,"selected_response_text":"a","overall_confidence":1.5}`,
		"confidence negative": `{"final_state":"INIT","selected_response_index":0,"selected_response_text":"a","overall_confidence":-0.1}`,
		"invalid state":       `{"final_state":"NEGOTIATING","selected_response_index":0,"selected_response_text":"a","overall_confidence":0.5}`,
	}
	for name, response := range cases {
		captureLogs(t)
		d := NewMasterDecider(&stubClient{response: response}, testPrompts(t), time.Second)
		out := d.Decide(context.Background(), deciderInput())
		assert.Equal(t, "llm3_fallback", out.Reason, name)
		assert.Equal(t, "SELF_SERVE_INFO", out.FinalState, name)
	}
}

func TestDecideFallbackOnTimeout(t *testing.T) {
	buf := captureLogs(t)
	client := &stubClient{
		response: `{"final_state":"SELF_SERVE_INFO","apply_state":true,"selected_response_index":0,"selected_response_text":"a","overall_confidence":0.9}`,
		delay:    200 * time.Millisecond,
	}
	d := NewMasterDecider(client, testPrompts(t), 10*time.Millisecond)

	out := d.Decide(context.Background(), deciderInput())
	assert.Equal(t, "llm3_fallback", out.Reason)

	logs := buf.String()
	assert.Contains(t, logs, `"fallback_used":true`)
	assert.Contains(t, logs, `"component":"master_decider"`)
	assert.Contains(t, logs, `"correlation_id":"corr-1"`)
}
