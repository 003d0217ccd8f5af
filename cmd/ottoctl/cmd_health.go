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
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/config"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	healthURL     string
	healthTimeout time.Duration
)

func init() {
	healthCmd.Flags().StringVar(&healthURL, "url", "",
		"Base URL of the orchestrator (default http://localhost:<PORT>)")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second,
		"Request timeout")
}

// =============================================================================
// TARGET RESOLUTION
// =============================================================================

// baseURL resolves the target instance: the --url flag when given,
// else localhost on the configured port.
func baseURL(flagValue string) string {
	if flagValue != "" {
		return strings.TrimRight(flagValue, "/")
	}
	return "http://localhost:" + config.Load().Port
}

// =============================================================================
// HEALTH COMMAND
// =============================================================================

// runHealth hits GET /health and relays the body. Exits non-zero when
// the instance is unreachable or unhealthy, so it works as a probe in
// scripts and container healthchecks.
func runHealth(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	target := baseURL(healthURL) + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid URL %q: %v\n", target, err)
		os.Exit(1)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Orchestrator unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(body)))

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Unhealthy: %s\n", resp.Status)
		os.Exit(1)
	}
}
