// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/middleware"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	webhookURL       string
	webhookFrom      string
	webhookName      string
	webhookMessageID string
	webhookTimeout   time.Duration
)

func init() {
	webhookSendCmd.Flags().StringVar(&webhookURL, "url", "",
		"Base URL of the orchestrator (default http://localhost:<PORT>)")
	webhookSendCmd.Flags().StringVar(&webhookFrom, "from", "5511999999999",
		"Sender wa_id (digits, no plus)")
	webhookSendCmd.Flags().StringVar(&webhookName, "name", "Ottoctl Tester",
		"Sender profile name")
	webhookSendCmd.Flags().StringVar(&webhookMessageID, "message-id", "",
		"Vendor message id; generated when empty. Reuse one to exercise dedupe.")
	webhookSendCmd.Flags().DurationVar(&webhookTimeout, "timeout", 30*time.Second,
		"Request timeout")
}

// =============================================================================
// ENVELOPE CONSTRUCTION
// =============================================================================

// buildEnvelope shapes one text message the way the vendor posts it.
func buildEnvelope(messageID, from, name, text string, ts time.Time) datatypes.WebhookPayload {
	return datatypes.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []datatypes.WebhookEntry{{
			ID: "ottoctl",
			Changes: []datatypes.WebhookChange{{
				Field: "messages",
				Value: datatypes.WebhookValue{
					MessagingProduct: "whatsapp",
					Contacts: []datatypes.WebhookContact{
						{WaID: from, Profile: datatypes.ContactProfile{Name: name}},
					},
					Messages: []datatypes.RawMessage{{
						ID:        messageID,
						From:      from,
						Timestamp: strconv.FormatInt(ts.Unix(), 10),
						Type:      "text",
						Text:      &datatypes.TextBlock{Body: text},
					}},
				},
			}},
		}},
	}
}

// signBody returns the x-hub-signature-256 header value for body, or
// "" when no secret is given.
func signBody(secret, body []byte) string {
	if len(secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// =============================================================================
// WEBHOOK SEND COMMAND
// =============================================================================

// runWebhookSend posts one synthetic text message. The envelope is
// signed with WHATSAPP_WEBHOOK_SECRET when that is set, so it passes
// the same verification real vendor traffic does.
func runWebhookSend(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	messageID := webhookMessageID
	if messageID == "" {
		messageID = "ctl-" + uuid.NewString()
	}

	payload := buildEnvelope(messageID, webhookFrom, webhookName, args[0], time.Now())
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode the envelope: %v\n", err)
		os.Exit(1)
	}

	target := baseURL(webhookURL) + "/webhooks/whatsapp"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid URL %q: %v\n", target, err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.CorrelationIDHeader, "ottoctl-"+messageID)

	secret := os.Getenv(secrets.DefaultEnvMapping()[secrets.WebhookSecret])
	if sig := signBody([]byte(secret), body); sig != "" {
		req.Header.Set(middleware.SignatureHeader, sig)
	} else {
		fmt.Fprintln(os.Stderr, "WHATSAPP_WEBHOOK_SECRET not set; sending unsigned.")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Orchestrator unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("message_id: %s\n%s\n%s\n", messageID, resp.Status, strings.TrimSpace(string(respBody)))

	if resp.StatusCode >= http.StatusMultipleChoices {
		os.Exit(1)
	}
}
