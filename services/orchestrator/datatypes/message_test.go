// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for NormalizedMessage validation and helpers.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTextMessage() NormalizedMessage {
	return NormalizedMessage{
		MessageID: "m1",
		From:      "+5511999999999",
		Timestamp: 1755000000,
		Kind:      KindText,
		Text:      "olá",
	}
}

func TestNormalizedMessageValidate(t *testing.T) {
	msg := validTextMessage()
	require.NoError(t, msg.Validate())
}

func TestNormalizedMessageValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NormalizedMessage)
	}{
		{"missing id", func(m *NormalizedMessage) { m.MessageID = "" }},
		{"missing from", func(m *NormalizedMessage) { m.From = "" }},
		{"from not e164", func(m *NormalizedMessage) { m.From = "5511999999999" }},
		{"unknown kind", func(m *NormalizedMessage) { m.Kind = "carrier_pigeon" }},
		{"text without body", func(m *NormalizedMessage) { m.Text = "" }},
		{"text too large", func(m *NormalizedMessage) { m.Text = strings.Repeat("a", MaxMessageTextBytes+1) }},
		{"image without media", func(m *NormalizedMessage) {
			m.Kind = KindImage
			m.Text = ""
		}},
		{"interactive without selection", func(m *NormalizedMessage) {
			m.Kind = KindInteractive
			m.Text = ""
			m.InteractiveType = SelectionButton
		}},
		{"interactive with bad type", func(m *NormalizedMessage) {
			m.Kind = KindInteractive
			m.Text = ""
			m.InteractiveType = "carousel_reply"
			m.SelectionID = "x"
		}},
		{"reaction without target", func(m *NormalizedMessage) {
			m.Kind = KindReaction
			m.Text = ""
			m.ReactionEmoji = "👍"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validTextMessage()
			tt.mutate(&msg)
			assert.Error(t, msg.Validate())
		})
	}
}

func TestNormalizedMessageKindHelpers(t *testing.T) {
	msg := validTextMessage()
	assert.False(t, msg.IsMedia())
	assert.False(t, msg.IsSelection())

	msg.Kind = KindAudio
	assert.True(t, msg.IsMedia())

	msg.Kind = KindInteractive
	assert.True(t, msg.IsSelection())

	msg.Kind = KindTemplate
	assert.True(t, msg.IsSelection())
}

func TestNormalizedMessageReceivedAt(t *testing.T) {
	msg := validTextMessage()
	got := msg.ReceivedAt()
	assert.Equal(t, int64(1755000000), got.Unix())
	assert.Equal(t, "UTC", got.Location().String())
}

func TestBodyForLLM(t *testing.T) {
	msg := validTextMessage()
	assert.Equal(t, "olá", msg.BodyForLLM())

	msg = NormalizedMessage{Kind: KindImage, Caption: "foto do contrato"}
	assert.Equal(t, "foto do contrato", msg.BodyForLLM())

	msg = NormalizedMessage{Kind: KindInteractive, SelectionID: "opt-1", SelectionTitle: "Segunda via"}
	assert.Equal(t, "Segunda via", msg.BodyForLLM())

	msg = NormalizedMessage{Kind: KindSticker}
	assert.Equal(t, "[sticker]", msg.BodyForLLM())
}
