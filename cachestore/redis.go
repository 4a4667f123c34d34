// Package cachestore persists port-scan results in Redis so a restarted
// process keeps serving still-live cache entries. The core only sees the
// scanner.Store interface; everything here is an implementation detail.
package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"netsweep/scanner"
)

const keyPrefix = "netsweep:ports:"

// envelope wraps a PortResult with its absolute expiry so the original
// TTL survives a process restart.
type envelope struct {
	Result    *scanner.PortResult `json:"result"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// RedisStore implements scanner.Store on a Redis client. Keys carry a
// native Redis TTL matching the entry expiry, so abandoned entries decay
// server-side too.
type RedisStore struct {
	client *redis.Client
}

// New constructs a Redis-backed store from an already-connected client.
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(host string) string {
	return keyPrefix + host
}

// Get loads the persisted result for host. A missing, expired or
// unreadable entry reports scanner.ErrNotCached; corrupt payloads are
// deleted on the way out.
func (s *RedisStore) Get(host string) (*scanner.PortResult, time.Time, error) {
	raw, err := s.client.Get(context.Background(), key(host)).Bytes()
	if err == redis.Nil {
		return nil, time.Time{}, scanner.ErrNotCached
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("cache read for %s: %w", host, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Result == nil {
		// Unreadable persisted state is treated as cache-empty.
		_ = s.client.Del(context.Background(), key(host)).Err()
		return nil, time.Time{}, scanner.ErrNotCached
	}
	return env.Result, env.ExpiresAt, nil
}

// Put stores res under host with a native TTL running to expiresAt.
func (s *RedisStore) Put(host string, res *scanner.PortResult, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(envelope{Result: res, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("cache encode for %s: %w", host, err)
	}
	return s.client.Set(context.Background(), key(host), data, ttl).Err()
}

// Delete removes the persisted entry for host.
func (s *RedisStore) Delete(host string) error {
	return s.client.Del(context.Background(), key(host)).Err()
}

// Clear removes every persisted entry under this store's prefix.
func (s *RedisStore) Clear() error {
	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
