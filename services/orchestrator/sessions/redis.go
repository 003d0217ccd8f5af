// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/OttoOrchestrator/pkg/canonical"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
)

const redisSessionPrefix = "session:"

// saveScript performs the revision CAS and the write in one atomic
// step on the server. It decodes only the revision field of the stored
// document. Returns 1 on success, -1 on revision mismatch.
var saveScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[1])
if cur then
  local doc = cjson.decode(cur)
  local rev = tonumber(doc['revision']) or 0
  if rev ~= expected then
    return -1
  end
elseif expected ~= 0 then
  return -1
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisStore keeps each session as one canonical-JSON value under a
// native TTL.
type RedisStore struct {
	client redis.Cmdable
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func redisSessionKey(sessionID string) string {
	return redisSessionPrefix + sessionID
}

func (r *RedisStore) Save(ctx context.Context, session *datatypes.Session, ttl time.Duration) error {
	enforceOutcomeInvariant(session)

	expected := session.Revision
	session.Revision = expected + 1
	payload, err := canonical.Marshal(session)
	if err != nil {
		session.Revision = expected
		return fmt.Errorf("sessions: encode %s: %w", session.SessionID, err)
	}

	res, err := saveScript.Run(ctx, r.client,
		[]string{redisSessionKey(session.SessionID)},
		expected, string(payload), ttl.Milliseconds(),
	).Int()
	if err != nil {
		session.Revision = expected
		return fmt.Errorf("%w: save %s: %v", ErrUnavailable, session.SessionID, err)
	}
	if res != 1 {
		session.Revision = expected
		return fmt.Errorf("%w: session %s", ErrRevisionConflict, session.SessionID)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	raw, err := r.client.Get(ctx, redisSessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, sessionID, err)
	}

	var session datatypes.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("sessions: decode %s: %w", sessionID, err)
	}
	return &session, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Del(ctx, redisSessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: del %s: %v", ErrUnavailable, sessionID, err)
	}
	return n > 0, nil
}

func (r *RedisStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, redisSessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrUnavailable, sessionID, err)
	}
	return n > 0, nil
}
