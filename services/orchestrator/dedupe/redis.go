// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the idempotency contract with Redis. MarkIfNew maps
// to SET NX with a TTL, so atomicity comes from Redis itself and works
// across replicas. UpdateStatus uses SET XX KEEPTTL to preserve the
// entry's remaining lifetime.
type RedisStore struct {
	client redis.Cmdable
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := r.client.SetNX(ctx, key, StatusPending, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return created, nil
}

func (r *RedisStore) IsDuplicate(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrUnavailable, key, err)
	}
	return n > 0, nil
}

func (r *RedisStore) UpdateStatus(ctx context.Context, key, status string) error {
	set, err := r.client.SetXX(ctx, key, status, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: setxx %s: %v", ErrUnavailable, key, err)
	}
	if !set {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
