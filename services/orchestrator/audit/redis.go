// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisChainPrefix = "audit:"

// appendScript implements the tail CAS on the server: it decodes only
// the hash field of the list tail and pushes the new event when the
// tail matches the caller's expectation. Returns 1 on success, -1 on
// tail mismatch.
var appendScript = redis.NewScript(`
local tail = redis.call('LINDEX', KEYS[1], -1)
local prev = ''
if tail then
  local doc = cjson.decode(tail)
  prev = doc['hash'] or ''
end
if prev ~= ARGV[1] then
  return -1
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// RedisStore keeps each chain as a list of JSON events under
// audit:{user-key}. Chains carry no TTL; the log is durable.
type RedisStore struct {
	client redis.Cmdable
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func redisChainKey(userKey string) string {
	return redisChainPrefix + userKey
}

func (r *RedisStore) GetLatestEvent(ctx context.Context, userKey string) (*Event, error) {
	raw, err := r.client.LIndex(ctx, redisChainKey(userKey), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: tail %s: %v", ErrUnavailable, userKey, err)
	}

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("audit: decode tail %s: %w", userKey, err)
	}
	return &event, nil
}

func (r *RedisStore) ListEvents(ctx context.Context, userKey string, limit int) ([]Event, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := r.client.LRange(ctx, redisChainKey(userKey), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: range %s: %v", ErrUnavailable, userKey, err)
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("audit: decode chain %s: %w", userKey, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *RedisStore) AppendEvent(ctx context.Context, event Event, expectedPrevHash string) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("audit: encode event %s: %w", event.EventID, err)
	}

	res, err := appendScript.Run(ctx, r.client,
		[]string{redisChainKey(event.UserKey)},
		expectedPrevHash, string(payload),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: append %s: %v", ErrUnavailable, event.UserKey, err)
	}
	return res == 1, nil
}
