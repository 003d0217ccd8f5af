// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package outbound owns the reply side of the pipeline: the job record
// handed to the wire worker, a bounded in-process queue, and the
// dispatcher that drains it through a Sender at a capped rate.
//
// The orchestrator only constructs and enqueues jobs. Building the
// vendor HTTP payload per message type belongs to the Sender
// implementation behind the interface.
package outbound

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/AleutianAI/OttoOrchestrator/pkg/canonical"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/dedupe"
)

// TypeText is the only message type this version of the decider emits.
// The job record still carries the full vendor surface for the worker.
const TypeText = "text"

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Location is a point reply payload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Button is one quick-reply option on an interactive message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Job is the enqueue contract with the outbound worker. Its canonical
// JSON hash is the outbound dedupe key, so field order and omitempty
// tags are part of the idempotency contract: two jobs dedupe together
// exactly when every populated field matches.
type Job struct {
	To          string `json:"to"`
	MessageType string `json:"message_type"`

	Text string `json:"text,omitempty"`

	MediaID       string `json:"media_id,omitempty"`
	MediaURL      string `json:"media_url,omitempty"`
	MediaFilename string `json:"media_filename,omitempty"`
	MediaMimeType string `json:"media_mime_type,omitempty"`

	Location *Location `json:"location,omitempty"`
	Address  string    `json:"address,omitempty"`

	Buttons         []Button        `json:"buttons,omitempty"`
	InteractiveType string          `json:"interactive_type,omitempty"`
	Flow            json.RawMessage `json:"flow,omitempty"`
	CTA             json.RawMessage `json:"cta,omitempty"`
	Template        json.RawMessage `json:"template,omitempty"`
	Category        string          `json:"category,omitempty"`

	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id"`
	InboundEventID string `json:"inbound_event_id"`
}

// NewTextJob builds the plain-text reply job the pipeline emits. The
// idempotency key is the inbound message id, so vendor redeliveries
// that slip past inbound dedupe still collapse on the outbound side.
func NewTextJob(to, text, idempotencyKey, correlationID, inboundEventID string) Job {
	return Job{
		To:             to,
		MessageType:    TypeText,
		Text:           text,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
		InboundEventID: inboundEventID,
	}
}

// Validate checks the fields every job needs regardless of type.
func (j Job) Validate() error {
	if !e164Pattern.MatchString(j.To) {
		return fmt.Errorf("outbound: to %q is not E.164", maskDigits(j.To))
	}
	if j.MessageType == "" {
		return fmt.Errorf("outbound: missing message_type")
	}
	if j.MessageType == TypeText && j.Text == "" {
		return fmt.Errorf("outbound: text job without text")
	}
	if j.IdempotencyKey == "" {
		return fmt.Errorf("outbound: missing idempotency_key")
	}
	if j.CorrelationID == "" {
		return fmt.Errorf("outbound: missing correlation_id")
	}
	return nil
}

// Hash returns the canonical-JSON SHA-256 of the job.
func (j Job) Hash() (string, error) {
	return canonical.Hash(j)
}

// DedupeKey returns the namespaced outbound dedupe key for the job.
func (j Job) DedupeKey() (string, error) {
	hash, err := j.Hash()
	if err != nil {
		return "", err
	}
	return dedupe.OutboundKey(hash), nil
}

// maskDigits keeps error strings free of phone numbers.
func maskDigits(s string) string {
	masked := []rune(s)
	for i, r := range masked {
		if r >= '0' && r <= '9' {
			masked[i] = '*'
		}
	}
	return string(masked)
}
