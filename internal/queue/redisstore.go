// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const createdAtSuffix = ":created_at"

// RedisStore implements Store on top of a redis list per key, with a
// companion "<key>:created_at" string key recording the unix timestamp of
// the first push since the list was last drained.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr. A nil password/db 0 is used, matching
// the pipeline's single-purpose queue store deployment.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by
// tests against miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) RPush(ctx context.Context, key string, items [][]byte) error {
	if len(items) == 0 {
		return nil
	}
	vals := make([]interface{}, len(items))
	for i, it := range items {
		vals[i] = it
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.SetNX(ctx, key+createdAtSuffix, time.Now().Unix(), 0)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: rpush %s: %w", key, err)
	}
	return nil
}

// PopAll drains key atomically: LRANGE and the two DELs run inside a
// single MULTI/EXEC transaction, so no command from another client can be
// interleaved between reading the list and clearing it (spec.md §3/§5).
func (s *RedisStore) PopAll(ctx context.Context, key string) ([][]byte, error) {
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	pipe.Del(ctx, key+createdAtSuffix)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("queue: pop-all %s: %w", key, err)
	}

	vals := rangeCmd.Val()
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: llen %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Age(ctx context.Context, key string) (time.Duration, bool, error) {
	v, err := s.client.Get(ctx, key+createdAtSuffix).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("queue: age %s: %w", key, err)
	}
	return time.Since(time.Unix(v, 0)), true, nil
}

func (s *RedisStore) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if len(k) >= len(createdAtSuffix) && k[len(k)-len(createdAtSuffix):] == createdAtSuffix {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("queue: scan %s*: %w", prefix, err)
	}
	return keys, nil
}

func (s *RedisStore) NewPipeline() Pipeline {
	return &redisPipeline{client: s.client, pipe: s.client.Pipeline()}
}

type redisPipeline struct {
	client *redis.Client
	pipe   redis.Pipeliner
}

func (p *redisPipeline) RPush(ctx context.Context, key string, items [][]byte) {
	if len(items) == 0 {
		return
	}
	vals := make([]interface{}, len(items))
	for i, it := range items {
		vals[i] = it
	}
	p.pipe.RPush(ctx, key, vals...)
	p.pipe.SetNX(ctx, key+createdAtSuffix, time.Now().Unix(), 0)
}

func (p *redisPipeline) Commit(ctx context.Context) error {
	if _, err := p.pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("queue: pipeline commit: %w", err)
	}
	return nil
}
