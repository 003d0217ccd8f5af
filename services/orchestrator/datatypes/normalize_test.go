// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for webhook envelope normalization.

package datatypes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textEnvelope(messageID, from, body string) WebhookPayload {
	return WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []WebhookEntry{{
			ID: "entry-1",
			Changes: []WebhookChange{{
				Field: "messages",
				Value: WebhookValue{
					MessagingProduct: "whatsapp",
					Contacts: []WebhookContact{
						{WaID: from, Profile: ContactProfile{Name: "Maria"}},
					},
					Messages: []RawMessage{{
						ID:        messageID,
						From:      from,
						Timestamp: "1755000000",
						Type:      "text",
						Text:      &TextBlock{Body: body},
					}},
				},
			}},
		}},
	}
}

func TestExtractMessagesText(t *testing.T) {
	msgs, dropped := ExtractMessages(textEnvelope("m1", "5511999999999", "olá"))

	require.Len(t, msgs, 1)
	assert.Equal(t, 0, dropped)

	msg := msgs[0]
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "+5511999999999", msg.From)
	assert.Equal(t, "+5511999999999", msg.ChatID)
	assert.Equal(t, KindText, msg.Kind)
	assert.Equal(t, "olá", msg.Text)
	assert.Equal(t, "Maria", msg.SenderName)
	assert.Equal(t, int64(1755000000), msg.Timestamp)
	require.NoError(t, msg.Validate())
}

func TestExtractMessagesFromRawJSON(t *testing.T) {
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "e1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"contacts": [{"wa_id": "5511999999999", "profile": {"name": "João"}}],
			"messages": [
				{"id": "m1", "from": "5511999999999", "timestamp": "1755000001", "type": "text", "text": {"body": "oi"}},
				{"id": "m2", "from": "5511999999999", "timestamp": "1755000002", "type": "image",
				 "image": {"id": "media-9", "mime_type": "image/jpeg", "caption": "foto"}}
			]
		}}]}]
	}`

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(body), &payload))

	msgs, dropped := ExtractMessages(payload)
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, dropped)

	assert.Equal(t, KindText, msgs[0].Kind)
	assert.Equal(t, "João", msgs[0].SenderName)

	assert.Equal(t, KindImage, msgs[1].Kind)
	assert.Equal(t, "media-9", msgs[1].MediaID)
	assert.Equal(t, "image/jpeg", msgs[1].MediaMimeType)
	assert.Equal(t, "foto", msgs[1].Caption)
}

func TestExtractMessagesPreservesVendorOrder(t *testing.T) {
	payload := WebhookPayload{Entry: []WebhookEntry{{
		Changes: []WebhookChange{{
			Field: "messages",
			Value: WebhookValue{Messages: []RawMessage{
				{ID: "a", From: "551100000001", Timestamp: "1", Type: "text", Text: &TextBlock{Body: "1"}},
				{ID: "b", From: "551100000001", Timestamp: "2", Type: "text", Text: &TextBlock{Body: "2"}},
				{ID: "c", From: "551100000001", Timestamp: "3", Type: "text", Text: &TextBlock{Body: "3"}},
			}},
		}},
	}}}

	msgs, _ := ExtractMessages(payload)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].MessageID, msgs[1].MessageID, msgs[2].MessageID})
}

func TestExtractMessagesDropsUnknownAndEmptyID(t *testing.T) {
	payload := WebhookPayload{Entry: []WebhookEntry{{
		Changes: []WebhookChange{{
			Field: "messages",
			Value: WebhookValue{Messages: []RawMessage{
				{ID: "keep", From: "5511", Timestamp: "1", Type: "text", Text: &TextBlock{Body: "x"}},
				{ID: "", From: "5511", Timestamp: "1", Type: "text", Text: &TextBlock{Body: "no id"}},
				{ID: "sys", From: "5511", Timestamp: "1", Type: "system"},
				{ID: "order", From: "5511", Timestamp: "1", Type: "order"},
			}},
		}},
	}}}

	msgs, dropped := ExtractMessages(payload)
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep", msgs[0].MessageID)
	assert.Equal(t, 3, dropped)
}

func TestExtractMessagesSkipsNonMessageFields(t *testing.T) {
	payload := WebhookPayload{Entry: []WebhookEntry{{
		Changes: []WebhookChange{
			{Field: "statuses", Value: WebhookValue{Messages: []RawMessage{
				{ID: "ignored", From: "5511", Timestamp: "1", Type: "text", Text: &TextBlock{Body: "x"}},
			}}},
			{Field: "messages", Value: WebhookValue{Messages: []RawMessage{
				{ID: "m1", From: "5511", Timestamp: "1", Type: "text", Text: &TextBlock{Body: "y"}},
			}}},
		},
	}}}

	msgs, dropped := ExtractMessages(payload)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].MessageID)
	assert.Equal(t, 0, dropped)
}

func TestExtractMessagesUnparseableTimestampFallsBackToNow(t *testing.T) {
	payload := textEnvelope("m1", "5511999999999", "oi")
	payload.Entry[0].Changes[0].Value.Messages[0].Timestamp = "not-a-number"

	before := time.Now().Unix()
	msgs, _ := ExtractMessages(payload)
	after := time.Now().Unix()

	require.Len(t, msgs, 1)
	assert.GreaterOrEqual(t, msgs[0].Timestamp, before)
	assert.LessOrEqual(t, msgs[0].Timestamp, after)
}

func TestExtractMessagesInteractiveReplies(t *testing.T) {
	payload := WebhookPayload{Entry: []WebhookEntry{{
		Changes: []WebhookChange{{
			Field: "messages",
			Value: WebhookValue{Messages: []RawMessage{
				{
					ID: "btn", From: "5511", Timestamp: "1", Type: "interactive",
					Interactive: &InteractiveBlock{
						Type:        SelectionButton,
						ButtonReply: &SelectionReply{ID: "opt-yes", Title: "Sim"},
					},
				},
				{
					ID: "list", From: "5511", Timestamp: "2", Type: "interactive",
					Interactive: &InteractiveBlock{
						Type:      SelectionList,
						ListReply: &ListReplyBlock{ID: "plan-pro", Title: "Plano Pro"},
					},
				},
				{
					ID: "tpl", From: "5511", Timestamp: "3", Type: "button",
					Button: &ButtonBlock{Text: "Falar com humano", Payload: "HANDOFF"},
				},
			}},
		}},
	}}}

	msgs, dropped := ExtractMessages(payload)
	require.Len(t, msgs, 3)
	assert.Equal(t, 0, dropped)

	assert.Equal(t, KindInteractive, msgs[0].Kind)
	assert.Equal(t, SelectionButton, msgs[0].InteractiveType)
	assert.Equal(t, "opt-yes", msgs[0].SelectionID)
	assert.Equal(t, "Sim", msgs[0].SelectionTitle)

	assert.Equal(t, SelectionList, msgs[1].InteractiveType)
	assert.Equal(t, "plan-pro", msgs[1].SelectionID)

	assert.Equal(t, KindTemplate, msgs[2].Kind)
	assert.Equal(t, "HANDOFF", msgs[2].SelectionID)
	assert.Equal(t, "Falar com humano", msgs[2].SelectionTitle)
}

func TestExtractMessagesOtherKinds(t *testing.T) {
	payload := WebhookPayload{Entry: []WebhookEntry{{
		Changes: []WebhookChange{{
			Field: "messages",
			Value: WebhookValue{Messages: []RawMessage{
				{
					ID: "loc", From: "5511", Timestamp: "1", Type: "location",
					Location: &LocationBlock{Latitude: -23.55, Longitude: -46.63, Name: "Escritório"},
				},
				{
					ID: "doc", From: "5511", Timestamp: "2", Type: "document",
					Document: &MediaBlock{ID: "d1", MimeType: "application/pdf", Filename: "proposta.pdf"},
				},
				{
					ID: "card", From: "5511", Timestamp: "3", Type: "contacts",
					Contacts: []ContactCard{{Name: ContactCardName{FormattedName: "Ana Souza"}}},
				},
				{
					ID: "react", From: "5511", Timestamp: "4", Type: "reaction",
					Reaction: &ReactionBlock{MessageID: "m-orig", Emoji: "👍"},
				},
			}},
		}},
	}}}

	msgs, dropped := ExtractMessages(payload)
	require.Len(t, msgs, 4)
	assert.Equal(t, 0, dropped)

	assert.Equal(t, KindLocation, msgs[0].Kind)
	assert.InDelta(t, -23.55, msgs[0].Latitude, 1e-9)
	assert.Equal(t, "Escritório", msgs[0].LocationName)

	assert.Equal(t, KindDocument, msgs[1].Kind)
	assert.Equal(t, "proposta.pdf", msgs[1].MediaFilename)

	assert.Equal(t, KindContacts, msgs[2].Kind)
	assert.Equal(t, []string{"Ana Souza"}, msgs[2].ContactNames)

	assert.Equal(t, KindReaction, msgs[3].Kind)
	assert.Equal(t, "m-orig", msgs[3].ReactionToID)
	assert.Equal(t, "👍", msgs[3].ReactionEmoji)
}

func TestExtractMessagesReplyContext(t *testing.T) {
	payload := textEnvelope("m2", "5511999999999", "sobre a anterior")
	payload.Entry[0].Changes[0].Value.Messages[0].Context = &MessageContext{From: "5511999999999", ID: "m1"}

	msgs, _ := ExtractMessages(payload)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ReplyToID)
}

func TestTruncateUTF8KeepsRuneBoundary(t *testing.T) {
	// "é" is two bytes; cutting at 3 must drop the split rune.
	s := "aaé"
	assert.Equal(t, "aa", truncateUTF8(s, 3))
	assert.Equal(t, s, truncateUTF8(s, 4))
	assert.Equal(t, s, truncateUTF8(s, 100))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+5511999999999", normalizePhone("5511999999999"))
	assert.Equal(t, "+5511999999999", normalizePhone("+5511999999999"))
	assert.Equal(t, "", normalizePhone("  "))
}
