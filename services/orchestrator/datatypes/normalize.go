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
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ExtractMessages
//
// # Description
//
//	Walks the vendor envelope (entry → changes → value → messages) and
//	returns one NormalizedMessage per recognizable vendor message, in
//	vendor order. Changes whose field is not "messages" are skipped.
//	Messages with an empty id or an unrecognized type are dropped and
//	counted in the second return value; the caller surfaces the count
//	in the webhook summary.
//
// # Inputs
//
//	payload - decoded WebhookPayload. A zero payload yields (nil, 0).
//
// # Outputs
//
//	Normalized messages in vendor order, and the number dropped.
func ExtractMessages(payload WebhookPayload) ([]NormalizedMessage, int) {
	var out []NormalizedMessage
	dropped := 0

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := contactNamesByWaID(change.Value.Contacts)
			for _, raw := range change.Value.Messages {
				msg, ok := normalizeOne(raw, names)
				if !ok {
					dropped++
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out, dropped
}

func contactNamesByWaID(contacts []WebhookContact) map[string]string {
	if len(contacts) == 0 {
		return nil
	}
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" && c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func normalizeOne(raw RawMessage, names map[string]string) (NormalizedMessage, bool) {
	if raw.ID == "" {
		return NormalizedMessage{}, false
	}

	from := normalizePhone(raw.From)
	msg := NormalizedMessage{
		MessageID:  raw.ID,
		From:       from,
		Timestamp:  parseVendorTimestamp(raw.Timestamp),
		ChatID:     from,
		SenderName: names[raw.From],
	}
	if raw.Context != nil {
		msg.ReplyToID = raw.Context.ID
	}

	switch raw.Type {
	case "text":
		if raw.Text == nil {
			return NormalizedMessage{}, false
		}
		msg.Kind = KindText
		msg.Text = truncateUTF8(raw.Text.Body, MaxMessageTextBytes)

	case "image", "video", "audio", "document", "sticker":
		block := raw.mediaBlock()
		if block == nil {
			return NormalizedMessage{}, false
		}
		msg.Kind = MessageKind(raw.Type)
		msg.MediaID = block.ID
		msg.MediaLink = block.Link
		msg.MediaMimeType = block.MimeType
		msg.MediaFilename = block.Filename
		msg.Caption = truncateUTF8(block.Caption, MaxMessageTextBytes)

	case "location":
		if raw.Location == nil {
			return NormalizedMessage{}, false
		}
		msg.Kind = KindLocation
		msg.Latitude = raw.Location.Latitude
		msg.Longitude = raw.Location.Longitude
		msg.LocationName = raw.Location.Name
		msg.LocationAddress = raw.Location.Address

	case "contacts":
		msg.Kind = KindContacts
		for _, card := range raw.Contacts {
			if card.Name.FormattedName != "" {
				msg.ContactNames = append(msg.ContactNames, card.Name.FormattedName)
			}
		}

	case "address":
		msg.Kind = KindAddress

	case "interactive":
		if raw.Interactive == nil {
			return NormalizedMessage{}, false
		}
		msg.Kind = KindInteractive
		msg.InteractiveType = raw.Interactive.Type
		switch raw.Interactive.Type {
		case SelectionButton:
			if raw.Interactive.ButtonReply == nil {
				return NormalizedMessage{}, false
			}
			msg.SelectionID = raw.Interactive.ButtonReply.ID
			msg.SelectionTitle = raw.Interactive.ButtonReply.Title
		case SelectionList:
			if raw.Interactive.ListReply == nil {
				return NormalizedMessage{}, false
			}
			msg.SelectionID = raw.Interactive.ListReply.ID
			msg.SelectionTitle = raw.Interactive.ListReply.Title
		default:
			return NormalizedMessage{}, false
		}

	case "button", "template":
		if raw.Button == nil {
			return NormalizedMessage{}, false
		}
		msg.Kind = KindTemplate
		msg.SelectionID = raw.Button.Payload
		msg.SelectionTitle = raw.Button.Text

	case "reaction":
		if raw.Reaction == nil {
			return NormalizedMessage{}, false
		}
		msg.Kind = KindReaction
		msg.ReactionToID = raw.Reaction.MessageID
		msg.ReactionEmoji = raw.Reaction.Emoji

	default:
		return NormalizedMessage{}, false
	}

	return msg, true
}

func (m *RawMessage) mediaBlock() *MediaBlock {
	switch m.Type {
	case "image":
		return m.Image
	case "video":
		return m.Video
	case "audio":
		return m.Audio
	case "document":
		return m.Document
	case "sticker":
		return m.Sticker
	}
	return nil
}

// normalizePhone converts the vendor wa_id (bare digits) to E.164.
func normalizePhone(waID string) string {
	waID = strings.TrimSpace(waID)
	if waID == "" || strings.HasPrefix(waID, "+") {
		return waID
	}
	return "+" + waID
}

// parseVendorTimestamp parses the vendor's decimal-string UNIX seconds.
// Unparseable values fall back to the current time so the message is
// never dropped for a bad clock field.
func parseVendorTimestamp(raw string) int64 {
	if ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && ts > 0 {
		return ts
	}
	return time.Now().Unix()
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
