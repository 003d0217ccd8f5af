// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ottoctl is the operator CLI for the Otto orchestrator. It
// validates the environment configuration, probes a running instance,
// replays synthetic webhook envelopes, and verifies audit chains.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/OttoOrchestrator/pkg/logging"
)

func main() {
	// Humans at a terminal get text diagnostics; pipes and CI get the
	// same JSON lines the service emits.
	interactive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "ottoctl",
		JSON:    !interactive,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
