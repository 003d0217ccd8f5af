// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// ProcessSummary is the per-request accounting returned in the webhook
// response body. TotalReceived counts normalized messages; duplicates
// are excluded from TotalProcessed and counted in TotalDeduped; guard
// rejections still count as processed.
type ProcessSummary struct {
	TotalReceived      int      `json:"total_received"`
	TotalDeduped       int      `json:"total_deduped"`
	TotalProcessed     int      `json:"total_processed"`
	SignatureValidated bool     `json:"signature_validated"`
	SignatureSkipped   bool     `json:"signature_skipped"`
	Errors             []string `json:"errors"`
	Notes              []string `json:"notes"`
}

// NewProcessSummary returns a summary whose slices serialize as empty
// arrays rather than null.
func NewProcessSummary() *ProcessSummary {
	return &ProcessSummary{
		Errors: []string{},
		Notes:  []string{},
	}
}

// AddError appends a non-fatal per-message error note.
func (s *ProcessSummary) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// AddNote appends an informational note.
func (s *ProcessSummary) AddNote(msg string) {
	s.Notes = append(s.Notes, msg)
}
