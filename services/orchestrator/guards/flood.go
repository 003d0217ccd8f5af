// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps backend failures so callers can distinguish an
// unreachable flood store from a rejection.
var ErrUnavailable = errors.New("guards: backend unavailable")

// FloodDetector rate-limits inbound events per session over a sliding
// window. Allow accepts the event iff fewer than the configured
// threshold of accepted events sit in the trailing window; rejected
// events do not extend the window.
type FloodDetector interface {
	Allow(ctx context.Context, sessionID string) (bool, error)
}

// FloodOptions carries backend wiring for NewFloodDetector.
type FloodOptions struct {
	Environment string
	Threshold   int
	Window      time.Duration
	Redis       redis.Cmdable
}

// NewFloodDetector builds the configured backend. The memory variant
// keeps the window in process memory and is refused outside
// development.
func NewFloodDetector(backend string, opts FloodOptions) (FloodDetector, error) {
	if opts.Threshold <= 0 {
		return nil, fmt.Errorf("guards: flood threshold must be positive, got %d", opts.Threshold)
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("guards: flood window must be positive, got %s", opts.Window)
	}
	switch backend {
	case "memory":
		if opts.Environment != "" && opts.Environment != "development" {
			return nil, fmt.Errorf("guards: memory flood detector is not allowed in %s", opts.Environment)
		}
		return NewMemoryFloodDetector(opts.Threshold, opts.Window), nil
	case "redis":
		if opts.Redis == nil {
			return nil, errors.New("guards: redis flood detector requires a redis client")
		}
		return NewRedisFloodDetector(opts.Redis, opts.Threshold, opts.Window), nil
	default:
		return nil, fmt.Errorf("guards: unknown flood backend %q", backend)
	}
}

// =============================================================================
// Memory backend
// =============================================================================

// floodSweepEvery bounds how often the memory detector walks the whole
// map to drop sessions whose windows have fully drained.
const floodSweepEvery = time.Minute

// MemoryFloodDetector keeps a per-session ring of accepted-event
// timestamps. Suitable for development only: state is lost on restart
// and not shared across instances.
type MemoryFloodDetector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	events    map[string][]time.Time
	lastSweep time.Time

	now func() time.Time
}

var _ FloodDetector = (*MemoryFloodDetector)(nil)

func NewMemoryFloodDetector(threshold int, window time.Duration) *MemoryFloodDetector {
	return &MemoryFloodDetector{
		threshold: threshold,
		window:    window,
		events:    make(map[string][]time.Time),
		now:       time.Now,
	}
}

func (d *MemoryFloodDetector) Allow(_ context.Context, sessionID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.sweepLocked(now)

	cutoff := now.Add(-d.window)
	kept := d.events[sessionID][:0]
	for _, ts := range d.events[sessionID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= d.threshold {
		d.events[sessionID] = kept
		return false, nil
	}
	d.events[sessionID] = append(kept, now)
	return true, nil
}

func (d *MemoryFloodDetector) sweepLocked(now time.Time) {
	if now.Sub(d.lastSweep) < floodSweepEvery {
		return
	}
	d.lastSweep = now
	cutoff := now.Add(-d.window)
	for id, stamps := range d.events {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(d.events, id)
		}
	}
}
