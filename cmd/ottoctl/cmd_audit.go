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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/audit"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/config"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/identity"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	auditUserKey string // Derived user key, used as-is
	auditPhone   string // Raw phone number, derived with USER_KEY_PEPPER
	auditJSON    bool   // Output the verification result as JSON
	auditLimit   int    // Most recent events to print
)

func init() {
	auditCmd.PersistentFlags().StringVar(&auditUserKey, "user-key", "",
		"Derived user key of the chain to inspect")
	auditCmd.PersistentFlags().StringVar(&auditPhone, "phone", "",
		"Phone number to derive the user key from (requires USER_KEY_PEPPER)")

	auditVerifyCmd.Flags().BoolVar(&auditJSON, "json", false,
		"Output the verification result as JSON")

	auditTailCmd.Flags().IntVar(&auditLimit, "limit", 20,
		"Number of most recent events to print")
}

// =============================================================================
// USER KEY AND STORE RESOLUTION
// =============================================================================

// resolveUserKey returns the chain key to inspect. --user-key wins;
// otherwise --phone is run through the same pepper derivation the
// pipeline uses, so both spellings land on the same chain.
func resolveUserKey() (string, error) {
	if auditUserKey != "" {
		return auditUserKey, nil
	}
	if auditPhone == "" {
		return "", fmt.Errorf("one of --user-key or --phone is required")
	}

	pepper := os.Getenv(secrets.DefaultEnvMapping()[secrets.UserKeyPepper])
	if pepper == "" {
		return "", fmt.Errorf("--phone needs %s so the derived key matches the server's",
			secrets.DefaultEnvMapping()[secrets.UserKeyPepper])
	}
	deriver, err := identity.NewDeriver([]byte(pepper))
	if err != nil {
		return "", err
	}
	return deriver.UserKey(auditPhone), nil
}

// openAuditStore connects to the same audit backend the server is
// configured for. The memory backend is refused regardless of
// environment: a separate process's memory store holds no data, so
// inspecting it would only ever report an empty chain.
func openAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, func(), error) {
	switch cfg.AuditBackend {
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis unreachable: %w", err)
		}
		store, err := audit.New("redis", audit.Options{Environment: cfg.Environment, Redis: client})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, func() { client.Close() }, nil

	case "firestore":
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirestoreProjectID})
		if err != nil {
			return nil, nil, fmt.Errorf("firestore init: %w", err)
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		store, err := audit.New("firestore", audit.Options{Environment: cfg.Environment, Firestore: client})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf(
			"the %s audit backend holds no data outside the server process; point AUDIT_BACKEND at redis or firestore",
			cfg.AuditBackend)
	}
}

// =============================================================================
// AUDIT VERIFY COMMAND
// =============================================================================

// runAuditVerify is the CLI handler for "ottoctl audit verify".
//
// It walks one user's audit chain oldest-first and recomputes every
// link hash, the same check the server's appender relies on. A valid
// result proves the stored history has not been edited or reordered
// since it was written.
//
// # Exit Codes
//
//   - 0: Chain verified successfully
//   - 1: Chain broken, or the backend was unreachable
func runAuditVerify(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userKey, err := resolveUserKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()
	store, cleanup, err := openAuditStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open the audit store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	result, err := audit.VerifyChain(ctx, store, userKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to verify the chain: %v\n", err)
		os.Exit(1)
	}

	if auditJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		if !result.Valid {
			os.Exit(1)
		}
		return
	}

	if result.Valid {
		fmt.Printf("Chain valid: %d events.\n", result.TotalEvents)
		return
	}
	fmt.Printf("Chain BROKEN at event %d (%s): %s\n",
		result.BreakPoint, result.BreakEventID, result.Message)
	os.Exit(1)
}

// =============================================================================
// AUDIT TAIL COMMAND
// =============================================================================

// runAuditTail prints the most recent audit events for one user,
// oldest-first. Reasons and correlation ids come along so an event can
// be matched to the decision record and the request logs.
func runAuditTail(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userKey, err := resolveUserKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()
	store, cleanup, err := openAuditStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open the audit store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	events, err := store.ListEvents(ctx, userKey, auditLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list events: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("No audit events for this user.")
		return
	}

	for _, event := range events {
		fmt.Printf("%s  %-24s", event.Timestamp.UTC().Format(time.RFC3339), event.Action)
		if event.Reason != "" {
			fmt.Printf("  %s", event.Reason)
		}
		if event.CorrelationID != "" {
			fmt.Printf("  correlation_id=%s", event.CorrelationID)
		}
		fmt.Println()
	}
}
