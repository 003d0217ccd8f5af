// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity derives the stable pseudonymous user key that logs,
// audit chains, and persisted documents use in place of the phone
// number. The key is HMAC-SHA256 of the E.164 phone under a deployment
// pepper, base64url-encoded without padding. Rotating the pepper
// rotates every key.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrEmptyPepper is returned when a deriver is constructed without a
// pepper. Keys minted without one would be trivially invertible.
var ErrEmptyPepper = errors.New("identity: user key pepper is empty")

// Deriver mints user keys under a fixed pepper.
type Deriver struct {
	pepper []byte
}

// NewDeriver copies the pepper so the caller may zero its buffer.
func NewDeriver(pepper []byte) (*Deriver, error) {
	if len(pepper) == 0 {
		return nil, ErrEmptyPepper
	}
	d := &Deriver{pepper: make([]byte, len(pepper))}
	copy(d.pepper, pepper)
	return d, nil
}

// UserKey returns the pseudonymous key for an E.164 phone number. The
// input is trimmed but otherwise hashed verbatim, so callers must pass
// the normalized form with its leading plus.
func (d *Deriver) UserKey(phone string) string {
	mac := hmac.New(sha256.New, d.pepper)
	mac.Write([]byte(strings.TrimSpace(phone)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
