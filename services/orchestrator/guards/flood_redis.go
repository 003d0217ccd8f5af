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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const floodKeyPrefix = "flood:"

// floodScript trims the window, counts it, and conditionally records
// the event in one atomic round trip. Scores are unix milliseconds;
// members are opaque unique tokens so same-millisecond events never
// collapse into one ZSET entry.
//
// KEYS[1] window zset
// ARGV[1] now (unix millis)
// ARGV[2] window (millis)
// ARGV[3] threshold
// ARGV[4] event member
var floodScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], tonumber(ARGV[1]), ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisFloodDetector implements the sliding window on a per-session
// sorted set, shared across orchestrator instances.
type RedisFloodDetector struct {
	client    redis.Cmdable
	threshold int
	window    time.Duration

	now func() time.Time
}

var _ FloodDetector = (*RedisFloodDetector)(nil)

func NewRedisFloodDetector(client redis.Cmdable, threshold int, window time.Duration) *RedisFloodDetector {
	return &RedisFloodDetector{
		client:    client,
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

func (d *RedisFloodDetector) Allow(ctx context.Context, sessionID string) (bool, error) {
	key := floodKeyPrefix + sessionID
	res, err := floodScript.Run(ctx, d.client,
		[]string{key},
		d.now().UnixMilli(),
		d.window.Milliseconds(),
		d.threshold,
		uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: flood check %s: %v", ErrUnavailable, sessionID, err)
	}
	return res == 1, nil
}
