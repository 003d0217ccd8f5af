// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the HTTP middleware for the webhook
// surface: vendor signature verification and correlation-id
// propagation.
//
// # Verification Flow
//
//	POST /webhooks/whatsapp
//	   │
//	   ▼
//	CorrelationID ── reads x-correlation-id or generates one
//	   │
//	   ▼
//	WebhookSignature
//	   │
//	   ├─► buffer raw body, restore c.Request.Body
//	   │
//	   ├─► VerifySignature(secret, x-hub-signature-256, body)
//	   │
//	   ├─► failure: abort 401 {"detail":"invalid_signature"}
//	   │
//	   └─► success: store result and raw body in context
//	           │
//	           ▼
//	       Handler (retrieves via GetSignatureResult / GetRawBody)
//
// Verification runs on the raw bytes before any JSON parsing. When no
// signing secret is configured the check is skipped and the stored
// result is marked Skipped so the processing summary can report it.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
)

// =============================================================================
// Context Keys
// =============================================================================

// signatureResultKey is the context key for the verification result.
const signatureResultKey = "otto_signature_result"

// rawBodyKey is the context key for the buffered request body.
const rawBodyKey = "otto_raw_body"

// =============================================================================
// Signature Verification
// =============================================================================

// SignatureHeader carries the vendor's HMAC of the request body.
const SignatureHeader = "x-hub-signature-256"

// signaturePrefix precedes the hex digest in the signature header.
const signaturePrefix = "sha256="

// Error kinds reported in Result.ErrorKind.
const (
	ErrKindMissingSignature = "missing_signature"
	ErrKindInvalidFormat    = "invalid_signature_format"
	ErrKindMismatch         = "signature_mismatch"
)

// Result is the outcome of one signature check.
//
// Valid is true when the request may proceed. Skipped is true when no
// secret was configured and the check did not run; Valid is also true
// in that case. ErrorKind names the failure when Valid is false.
type Result struct {
	Valid     bool
	Skipped   bool
	ErrorKind string
}

// VerifySignature checks the vendor HMAC-SHA256 signature over the raw
// request body.
//
// # Description
//
// Computes HMAC-SHA256 of body under secret and compares it in
// constant time against the digest in the header. The header must be
// of the form "sha256=<64 hex chars>".
//
// # Inputs
//
//   - secret: HMAC key. Empty or nil skips verification entirely.
//   - header: Value of the x-hub-signature-256 request header.
//   - body: Raw request bytes exactly as received.
//
// # Outputs
//
//   - Result: Valid/Skipped flags plus the error kind on failure.
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func VerifySignature(secret []byte, header string, body []byte) Result {
	if len(secret) == 0 {
		return Result{Valid: true, Skipped: true}
	}
	if header == "" {
		return Result{ErrorKind: ErrKindMissingSignature}
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return Result{ErrorKind: ErrKindInvalidFormat}
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil || len(provided) != sha256.Size {
		return Result{ErrorKind: ErrKindInvalidFormat}
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return Result{ErrorKind: ErrKindMismatch}
	}
	return Result{Valid: true}
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetSignatureResult stores the verification result for the handler.
func SetSignatureResult(c *gin.Context, result Result) {
	c.Set(signatureResultKey, result)
}

// GetSignatureResult returns the stored verification result. The
// second return is false when the signature middleware did not run.
func GetSignatureResult(c *gin.Context) (Result, bool) {
	if v, exists := c.Get(signatureResultKey); exists {
		if result, ok := v.(Result); ok {
			return result, true
		}
	}
	return Result{}, false
}

// SetRawBody stores the buffered request body for the handler.
func SetRawBody(c *gin.Context, body []byte) {
	c.Set(rawBodyKey, body)
}

// GetRawBody returns the buffered request body, or nil when the
// signature middleware did not run.
func GetRawBody(c *gin.Context) []byte {
	if v, exists := c.Get(rawBodyKey); exists {
		if body, ok := v.([]byte); ok {
			return body
		}
	}
	return nil
}

// =============================================================================
// Webhook Signature Middleware
// =============================================================================

// WebhookSignature creates a Gin middleware that verifies the vendor
// signature before any parsing happens.
//
// # Description
//
// Buffers the raw request body, restores c.Request.Body for downstream
// readers, and verifies the x-hub-signature-256 header against the
// webhook secret from the provider. Failed verification aborts with
// 401 and a fixed body; the specific error kind is logged, never sent
// to the caller. On success the result and the raw body are stored in
// the context.
//
// # Inputs
//
//   - provider: Secret source. A nil provider, or a provider without
//     the webhook secret, disables verification (result is Skipped).
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func WebhookSignature(provider secrets.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"detail": "invalid_body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var secret []byte
		if provider != nil {
			secret, _ = provider.Secret(secrets.WebhookSecret)
		}

		result := VerifySignature(secret, c.GetHeader(SignatureHeader), body)
		if !result.Valid {
			slog.Warn("webhook_signature_rejected",
				"error_kind", result.ErrorKind,
				"correlation_id", GetCorrelationID(c),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "invalid_signature",
			})
			return
		}

		SetSignatureResult(c, result)
		SetRawBody(c, body)
		c.Next()
	}
}
