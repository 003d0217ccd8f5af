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
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/config"
)

// =============================================================================
// CONFIG CHECK COMMAND
// =============================================================================

// runConfigCheck loads the environment exactly the way the server does
// and reports the resolved settings plus which secrets are present.
// Secret values never reach stdout, only set/unset.
//
// Exits non-zero when the server would refuse to boot, so deploy
// pipelines can gate on it.
func runConfigCheck(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	fmt.Printf("environment:            %s\n", cfg.Environment)
	fmt.Printf("port:                   %s\n", cfg.Port)
	fmt.Printf("tenant_id:              %s\n", cfg.TenantID)
	fmt.Printf("dedupe_backend:         %s (ttl %s)\n", cfg.DedupeBackend, cfg.DedupeTTL)
	fmt.Printf("session_backend:        %s (ttl %s, history %d)\n",
		cfg.SessionBackend, cfg.SessionTTL, cfg.SessionHistoryMaxEntries)
	fmt.Printf("flood_backend:          %s (%d per %s)\n",
		cfg.FloodBackend, cfg.FloodThreshold, cfg.FloodWindow)
	fmt.Printf("audit_backend:          %s\n", cfg.AuditBackend)
	fmt.Printf("decision_audit_backend: %s\n", cfg.DecisionAuditBackend)
	fmt.Printf("llm_backend:            %s\n", cfg.LLMBackend)
	fmt.Printf("intent_queue_capacity:  %d\n", cfg.IntentQueueCapacity)
	fmt.Printf("max_batch_messages:     %d\n", cfg.MaxBatchMessages)
	fmt.Printf("outbound:               %d workers, %.1f/s, queue %d\n",
		cfg.OutboundWorkers, cfg.OutboundRatePerSecond, cfg.OutboundQueueSize)

	mapping := secrets.DefaultEnvMapping()
	envVars := make([]string, 0, len(mapping))
	for _, envVar := range mapping {
		envVars = append(envVars, envVar)
	}
	sort.Strings(envVars)

	fmt.Println()
	for _, envVar := range envVars {
		state := "unset"
		if os.Getenv(envVar) != "" {
			state = "set"
		}
		fmt.Printf("%s: %s\n", envVar, state)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "\nConfiguration is invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nConfiguration is valid.")
}
