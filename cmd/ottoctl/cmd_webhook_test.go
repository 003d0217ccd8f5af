// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/middleware"
)

// =============================================================================
// ENVELOPE CONSTRUCTION TESTS
// =============================================================================

func TestBuildEnvelopeShape(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	payload := buildEnvelope("ctl-abc", "5511988887777", "Tester", "oi Otto", ts)

	if payload.Object != "whatsapp_business_account" {
		t.Errorf("Object = %q, want whatsapp_business_account", payload.Object)
	}
	if len(payload.Entry) != 1 || len(payload.Entry[0].Changes) != 1 {
		t.Fatalf("want exactly one entry with one change, got %+v", payload.Entry)
	}

	change := payload.Entry[0].Changes[0]
	if change.Field != "messages" {
		t.Errorf("Field = %q, want messages", change.Field)
	}
	if change.Value.MessagingProduct != "whatsapp" {
		t.Errorf("MessagingProduct = %q, want whatsapp", change.Value.MessagingProduct)
	}

	if len(change.Value.Contacts) != 1 {
		t.Fatalf("want one contact, got %d", len(change.Value.Contacts))
	}
	contact := change.Value.Contacts[0]
	if contact.WaID != "5511988887777" {
		t.Errorf("WaID = %q, want the from number", contact.WaID)
	}
	if contact.Profile.Name != "Tester" {
		t.Errorf("Profile.Name = %q, want Tester", contact.Profile.Name)
	}

	if len(change.Value.Messages) != 1 {
		t.Fatalf("want one message, got %d", len(change.Value.Messages))
	}
	msg := change.Value.Messages[0]
	if msg.ID != "ctl-abc" {
		t.Errorf("ID = %q, want ctl-abc", msg.ID)
	}
	if msg.From != "5511988887777" {
		t.Errorf("From = %q, want the from number", msg.From)
	}
	if msg.Type != "text" {
		t.Errorf("Type = %q, want text", msg.Type)
	}
	if msg.Timestamp != "1700000000" {
		t.Errorf("Timestamp = %q, want unix seconds as a string", msg.Timestamp)
	}
	if msg.Text == nil || msg.Text.Body != "oi Otto" {
		t.Errorf("Text = %+v, want body oi Otto", msg.Text)
	}
}

// =============================================================================
// SIGNATURE TESTS
// =============================================================================

// The header signBody produces has to satisfy the same verifier the
// server runs on inbound traffic.
func TestSignBodyVerifiesWithMiddleware(t *testing.T) {
	secret := []byte("ottoctl-test-secret")
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)

	sig := signBody(secret, body)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature = %q, want a sha256= prefix", sig)
	}

	result := middleware.VerifySignature(secret, sig, body)
	if !result.Valid || result.Skipped {
		t.Errorf("VerifySignature = %+v, want a valid non-skipped result", result)
	}

	tampered := middleware.VerifySignature(secret, sig, append(body, '!'))
	if tampered.Valid {
		t.Error("a tampered body must not verify")
	}
}

func TestSignBodyEmptySecret(t *testing.T) {
	if sig := signBody(nil, []byte("{}")); sig != "" {
		t.Errorf("signBody with no secret = %q, want empty", sig)
	}
}
