// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pii masks Brazilian personal identifiers in free text before
// it reaches logs, audit records, or LLM prompts. The mask tokens carry
// no digits or @ signs, so a masked string never re-matches a pattern
// and sanitization is idempotent.
package pii

import (
	"regexp"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
)

// HistoryWindow is how many trailing history entries LLM prompts see.
const HistoryWindow = 5

// Patterns run in declaration order. CNPJ goes before CPF so the CPF
// rule never bites an 11-digit chunk out of a 14-digit CNPJ; phone goes
// last so document and email digits are already gone.
var maskRules = []struct {
	pattern *regexp.Regexp
	token   string
}{
	{regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`), "[CNPJ]"},
	{regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`), "[CPF]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL]"},
	{regexp.MustCompile(`\+\d{10,14}\b|\(?\b\d{2}\)?[\s.-]?\d{4,5}[\s.-]?\d{4}\b`), "[PHONE]"},
}

// Sanitizer is stateless; the zero value is not usable, construct with
// NewSanitizer.
type Sanitizer struct{}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize masks every CNPJ, CPF, email, and phone occurrence.
func (s *Sanitizer) Sanitize(text string) string {
	for _, rule := range maskRules {
		text = rule.pattern.ReplaceAllString(text, rule.token)
	}
	return text
}

// LastMessages returns the trailing n history entries with their
// summaries masked. The input slice is never mutated.
func (s *Sanitizer) LastMessages(history []datatypes.HistoryEntry, n int) []datatypes.HistoryEntry {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]datatypes.HistoryEntry, len(history))
	copy(out, history)
	for i := range out {
		out[i].Summary = s.Sanitize(out[i].Summary)
	}
	return out
}
