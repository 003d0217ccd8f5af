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
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ottoctl",
		Short: "Operator CLI for the Otto WhatsApp orchestrator",
		Long: `ottoctl works against the same environment configuration as the
orchestrator itself: it validates that configuration, probes a running
instance, replays synthetic webhook envelopes, and verifies the
integrity of per-user audit chains.`,
	}

	// --- Config ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the orchestrator configuration",
	}
	configCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Load the environment configuration and report whether the server would boot",
		Run:   runConfigCheck, // Defined in cmd_config.go
	}

	// --- Health ---
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Probe a running orchestrator's health endpoint",
		Run:   runHealth, // Defined in cmd_health.go
	}

	// --- Webhook ---
	webhookCmd = &cobra.Command{
		Use:   "webhook",
		Short: "Exercise the webhook endpoint of a running orchestrator",
	}
	webhookSendCmd = &cobra.Command{
		Use:   "send [text]",
		Short: "Post a signed synthetic text-message envelope",
		Args:  cobra.ExactArgs(1),
		Run:   runWebhookSend, // Defined in cmd_webhook.go
	}

	// --- Audit ---
	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify per-user audit chains",
	}
	auditVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash-chain integrity of one user's audit log",
		Run:   runAuditVerify, // Defined in cmd_audit.go
	}
	auditTailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit events for one user",
		Run:   runAuditTail, // Defined in cmd_audit.go
	}
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd)

	rootCmd.AddCommand(healthCmd)

	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookSendCmd)

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}
