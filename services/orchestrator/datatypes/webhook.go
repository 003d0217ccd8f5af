// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire and persistence shapes shared across
// the orchestrator: the WhatsApp Cloud API webhook envelope, the
// normalized inbound message, the session record, and the processing
// summary returned to the webhook caller.
package datatypes

// =============================================================================
// WhatsApp Cloud API Webhook Envelope
// =============================================================================

// WebhookPayload is the top-level body Meta posts to the webhook. Only
// the fields the orchestrator reads are declared; everything else in
// the vendor envelope is ignored on decode.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange carries one change notification. Message traffic
// arrives with Field == "messages"; other fields (statuses, template
// quality updates) pass through the walk untouched.
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []RawMessage     `json:"messages"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact links a wa_id to the sender's profile name.
type WebhookContact struct {
	WaID    string         `json:"wa_id"`
	Profile ContactProfile `json:"profile"`
}

type ContactProfile struct {
	Name string `json:"name"`
}

// =============================================================================
// Raw Message (vendor shape)
// =============================================================================

// RawMessage is one vendor message before normalization. The vendor
// discriminates on Type; exactly one of the content blocks is set.
type RawMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Context *MessageContext `json:"context,omitempty"`

	Text        *TextBlock        `json:"text,omitempty"`
	Image       *MediaBlock       `json:"image,omitempty"`
	Video       *MediaBlock       `json:"video,omitempty"`
	Audio       *MediaBlock       `json:"audio,omitempty"`
	Document    *MediaBlock       `json:"document,omitempty"`
	Sticker     *MediaBlock       `json:"sticker,omitempty"`
	Location    *LocationBlock    `json:"location,omitempty"`
	Contacts    []ContactCard     `json:"contacts,omitempty"`
	Interactive *InteractiveBlock `json:"interactive,omitempty"`
	Button      *ButtonBlock      `json:"button,omitempty"`
	Reaction    *ReactionBlock    `json:"reaction,omitempty"`
}

// MessageContext is present on replies and carries the quoted message.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type TextBlock struct {
	Body string `json:"body"`
}

// MediaBlock covers image, video, audio, document, and sticker
// payloads. Document adds Filename; Caption appears on image, video,
// and document.
type MediaBlock struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Link     string `json:"link,omitempty"`
}

type LocationBlock struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ContactCard is a shared contact (vCard-style). Only the formatted
// name and phone list are read.
type ContactCard struct {
	Name   ContactCardName    `json:"name"`
	Phones []ContactCardPhone `json:"phones,omitempty"`
}

type ContactCardName struct {
	FormattedName string `json:"formatted_name"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
}

type ContactCardPhone struct {
	Phone string `json:"phone"`
	WaID  string `json:"wa_id,omitempty"`
	Type  string `json:"type,omitempty"`
}

// InteractiveBlock is the user's reply to an interactive message. Type
// is "button_reply" or "list_reply"; the matching block is set.
type InteractiveBlock struct {
	Type        string          `json:"type"`
	ButtonReply *SelectionReply `json:"button_reply,omitempty"`
	ListReply   *ListReplyBlock `json:"list_reply,omitempty"`
}

type SelectionReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListReplyBlock struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ButtonBlock is a quick-reply tap on a template message.
type ButtonBlock struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type ReactionBlock struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}
