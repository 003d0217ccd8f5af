// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets supplies secret material (webhook signing secret,
// verify token, user-key pepper, API keys) to the components that need
// it. The production provider holds values in mlocked memory so they
// are never swapped to disk and are wiped on shutdown.
package secrets

// Well-known secret names. Components request secrets by these names
// rather than reading the environment themselves.
const (
	// WebhookSecret is the HMAC-SHA256 key for inbound signature checks.
	WebhookSecret = "whatsapp_webhook_secret"

	// VerifyToken is the subscription handshake token for GET verification.
	VerifyToken = "whatsapp_verify_token"

	// UserKeyPepper keys the HMAC that derives stable user keys from
	// phone numbers.
	UserKeyPepper = "user_key_pepper"

	// OpenAIAPIKey authenticates the OpenAI LLM backend.
	OpenAIAPIKey = "openai_api_key"
)

// Provider supplies named secrets.
//
// # Thread Safety
//
// Implementations are safe for concurrent reads after construction.
//
// # Lifetime
//
// Returned byte slices remain valid until Close. Callers must not
// retain them across Close and must never log or serialize them.
type Provider interface {
	// Secret returns the named secret, or ok=false when it was not
	// configured. An absent secret is not an error; callers decide
	// whether the feature degrades (signature checks skip) or the
	// startup fails (pepper required outside development).
	Secret(name string) (value []byte, ok bool)

	// Close wipes all held secret material. The provider is unusable
	// afterwards.
	Close()
}

// Static is an in-memory Provider for tests and development overrides.
type Static struct {
	values map[string][]byte
}

// NewStatic builds a Static provider from plain string values.
func NewStatic(values map[string]string) *Static {
	m := make(map[string][]byte, len(values))
	for k, v := range values {
		m[k] = []byte(v)
	}
	return &Static{values: m}
}

// Secret returns the named value.
func (s *Static) Secret(name string) ([]byte, bool) {
	v, ok := s.values[name]
	if !ok || len(v) == 0 {
		return nil, false
	}
	return v, true
}

// Close zeroes the stored values.
func (s *Static) Close() {
	for _, v := range s.values {
		for i := range v {
			v[i] = 0
		}
	}
	s.values = nil
}

var _ Provider = (*Static)(nil)
