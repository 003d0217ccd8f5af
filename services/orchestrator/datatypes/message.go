// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageTextBytes caps the normalized text body. Vendor bodies
	// beyond this are truncated at a rune boundary.
	MaxMessageTextBytes = 32 * 1024
)

// MessageKind discriminates the normalized message content.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindVideo       MessageKind = "video"
	KindAudio       MessageKind = "audio"
	KindDocument    MessageKind = "document"
	KindSticker     MessageKind = "sticker"
	KindLocation    MessageKind = "location"
	KindContacts    MessageKind = "contacts"
	KindAddress     MessageKind = "address"
	KindInteractive MessageKind = "interactive"
	KindTemplate    MessageKind = "template"
	KindReaction    MessageKind = "reaction"
)

// Interactive selection types.
const (
	SelectionButton = "button_reply"
	SelectionList   = "list_reply"
)

var messageValidate *validator.Validate

func init() {
	messageValidate = validator.New()
	if err := messageValidate.RegisterValidation("maxbytes", validateMaxBytes); err != nil {
		panic(fmt.Sprintf("datatypes: failed to register maxbytes validator: %v", err))
	}
}

// validateMaxBytes checks the byte length (not rune count) of a string
// field against the tag parameter.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit := 0
	if _, err := fmt.Sscanf(fl.Param(), "%d", &limit); err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// =============================================================================
// NormalizedMessage
// =============================================================================

// NormalizedMessage
//
// # Description
//
//	One inbound message after envelope normalization. MessageID is the
//	vendor id and doubles as the idempotency key for everything
//	downstream (inbound dedupe, history append, outbound job). From is
//	E.164 with a leading plus. Exactly the fields for Kind are set;
//	the rest stay zero.
//
// # Validation
//
//	MessageID, From, and Kind are required; From must be E.164; Kind
//	must be one of the twelve known kinds; per-kind required content is
//	checked in Validate.
type NormalizedMessage struct {
	MessageID  string      `json:"message_id" validate:"required"`
	From       string      `json:"from" validate:"required,e164"`
	Timestamp  int64       `json:"timestamp" validate:"gte=0"`
	Kind       MessageKind `json:"kind" validate:"required,oneof=text image video audio document sticker location contacts address interactive template reaction"`
	ChatID     string      `json:"chat_id,omitempty"`
	SenderName string      `json:"sender_name,omitempty"`
	ReplyToID  string      `json:"reply_to_id,omitempty"`

	// Text and captions.
	Text    string `json:"text,omitempty" validate:"maxbytes=32768"`
	Caption string `json:"caption,omitempty" validate:"maxbytes=32768"`

	// Media.
	MediaID       string `json:"media_id,omitempty"`
	MediaLink     string `json:"media_link,omitempty"`
	MediaMimeType string `json:"media_mime_type,omitempty"`
	MediaFilename string `json:"media_filename,omitempty"`

	// Location and address.
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
	LocationName    string  `json:"location_name,omitempty"`
	LocationAddress string  `json:"location_address,omitempty"`

	// Shared contacts (formatted names only; numbers are not carried).
	ContactNames []string `json:"contact_names,omitempty"`

	// Interactive and template selections.
	InteractiveType string `json:"interactive_type,omitempty"`
	SelectionID     string `json:"selection_id,omitempty"`
	SelectionTitle  string `json:"selection_title,omitempty"`

	// Reactions.
	ReactionToID  string `json:"reaction_to_id,omitempty"`
	ReactionEmoji string `json:"reaction_emoji,omitempty"`
}

// Validate checks the field tags plus the per-kind content contract.
func (m *NormalizedMessage) Validate() error {
	if err := messageValidate.Struct(m); err != nil {
		return fmt.Errorf("normalized message: %w", err)
	}

	switch m.Kind {
	case KindText:
		if m.Text == "" {
			return fmt.Errorf("normalized message %s: text kind with empty body", m.MessageID)
		}
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		if m.MediaID == "" && m.MediaLink == "" {
			return fmt.Errorf("normalized message %s: %s kind without media id or link", m.MessageID, m.Kind)
		}
	case KindInteractive:
		if m.SelectionID == "" {
			return fmt.Errorf("normalized message %s: interactive kind without selection id", m.MessageID)
		}
		if m.InteractiveType != SelectionButton && m.InteractiveType != SelectionList {
			return fmt.Errorf("normalized message %s: unknown interactive type %q", m.MessageID, m.InteractiveType)
		}
	case KindReaction:
		if m.ReactionToID == "" {
			return fmt.Errorf("normalized message %s: reaction kind without target message id", m.MessageID)
		}
	}
	return nil
}

// IsMedia reports whether the message carries a media attachment.
func (m *NormalizedMessage) IsMedia() bool {
	switch m.Kind {
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	}
	return false
}

// IsSelection reports whether the message is a button or list choice,
// either interactive or a template quick reply.
func (m *NormalizedMessage) IsSelection() bool {
	return m.Kind == KindInteractive || m.Kind == KindTemplate
}

// ReceivedAt converts the vendor UNIX-seconds timestamp to UTC.
func (m *NormalizedMessage) ReceivedAt() time.Time {
	return time.Unix(m.Timestamp, 0).UTC()
}

// BodyForLLM returns the text the advisors should reason over: the
// body for text messages, the caption or a kind placeholder otherwise.
func (m *NormalizedMessage) BodyForLLM() string {
	switch {
	case m.Text != "":
		return m.Text
	case m.Caption != "":
		return m.Caption
	case m.Kind == KindInteractive || m.Kind == KindTemplate:
		if m.SelectionTitle != "" {
			return m.SelectionTitle
		}
		return m.SelectionID
	default:
		return fmt.Sprintf("[%s]", m.Kind)
	}
}
