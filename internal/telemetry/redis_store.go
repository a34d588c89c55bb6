// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tradeaudit/internal/breaker"
	"github.com/tomtom215/tradeaudit/internal/config"
)

// DefaultKeyPrefix namespaces telemetry sorted sets.
const DefaultKeyPrefix = "telemetry:"

// NewRedisClient parses url and pings the server. An empty URL returns nil
// with no error so callers can fall back to the in-process store.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps one sorted set per category, scored by capture time in
// Unix milliseconds. Members are the JSON-encoded entries; each carries its
// event or metric id so identical payloads never collapse.
type RedisStore struct {
	client *redis.Client
	prefix string
	cb     *gobreaker.CircuitBreaker[any]
}

func NewRedisStore(client *redis.Client, cfg config.RedisConfig, bs breaker.Settings) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		cb:     breaker.New("telemetry_fast_store", bs),
	}
}

func (s *RedisStore) key(category Category) string {
	return s.prefix + string(category)
}

func (s *RedisStore) Add(ctx context.Context, category Category, batch []Entry) error {
	if len(batch) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(batch))
	for _, e := range batch {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		members = append(members, redis.Z{Score: float64(e.CapturedAt.UnixMilli()), Member: string(b)})
	}

	_, err := s.cb.Execute(func() (any, error) {
		pipe := s.client.Pipeline()
		pipe.ZAdd(ctx, s.key(category), members...)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

func (s *RedisStore) TrimBefore(ctx context.Context, category Category, cutoff time.Time) error {
	max := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.ZRemRangeByScore(ctx, s.key(category), "-inf", max).Err()
	})
	return err
}

func (s *RedisStore) Range(ctx context.Context, category Category, since time.Time) ([]Entry, error) {
	res, err := s.cb.Execute(func() (any, error) {
		return s.client.ZRangeByScore(ctx, s.key(category), &redis.ZRangeBy{
			Min: strconv.FormatInt(since.UnixMilli(), 10),
			Max: "+inf",
		}).Result()
	})
	if err != nil {
		return nil, err
	}

	raw, _ := res.([]string)
	out := make([]Entry, 0, len(raw))
	for _, m := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Health pings the server.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
