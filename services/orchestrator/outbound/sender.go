// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package outbound

import (
	"context"
	"log/slog"
)

// Sender delivers one job to the messaging vendor. Implementations own
// the per-type wire payload; this package never builds vendor HTTP.
//
// # Thread Safety
//
//	Implementations must be safe for concurrent use; the dispatcher
//	calls Send from several workers.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// LoggingSender is the default when no wire client is configured. It
// records that a reply would have gone out and drops it. Phone numbers
// and reply text never reach the log.
type LoggingSender struct{}

var _ Sender = (*LoggingSender)(nil)

func (LoggingSender) Send(_ context.Context, job Job) error {
	slog.Info("outbound_job_logged",
		"message_type", job.MessageType,
		"idempotency_key", job.IdempotencyKey,
		"correlation_id", job.CorrelationID,
		"inbound_event_id", job.InboundEventID,
		"text_chars", len(job.Text),
	)
	return nil
}

// NopSender accepts every job silently.
type NopSender struct{}

var _ Sender = (*NopSender)(nil)

func (NopSender) Send(context.Context, Job) error { return nil }
