// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides a provider-agnostic completion client for the
// advisor stages. Backends: openai, ollama, or none (advisors run on
// deterministic fallbacks).
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrDisabled is returned by the none backend. Callers treat it like
// any other completion failure and fall back deterministically.
var ErrDisabled = errors.New("llm: backend disabled")

// Request is one completion call. Advisors always set ForceJSON; the
// backends translate it to their native JSON output mode.
type Request struct {
	// System is the system prompt establishing the advisor's role.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Temperature, when > 0, overrides the backend default.
	Temperature float32

	// MaxTokens, when > 0, caps the completion length.
	MaxTokens int

	// ForceJSON requests a single JSON object as the completion.
	ForceJSON bool
}

// Client is the interface every LLM backend implements.
//
// Complete returns the raw completion text. Implementations must honor
// ctx cancellation and deadlines; the pipeline budgets a hard timeout
// per advisor stage.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Disabled is the none backend. Every call fails with ErrDisabled so
// advisors produce their deterministic fallbacks.
type Disabled struct{}

// Complete always returns ErrDisabled.
func (Disabled) Complete(ctx context.Context, req Request) (string, error) {
	return "", ErrDisabled
}

var _ Client = Disabled{}

// New resolves a backend by name.
//
// Supported names: "openai" (needs apiKey), "ollama" (needs baseURL),
// "none", and "" (treated as none).
func New(backend, model, baseURL, apiKey string) (Client, error) {
	switch backend {
	case "openai":
		return NewOpenAIClient(apiKey, model)
	case "ollama":
		return NewOllamaClient(baseURL, model)
	case "none", "":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("llm: unknown backend %q", backend)
	}
}
