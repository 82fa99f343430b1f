package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultDedupTTL        = 5 * time.Minute
	DefaultDedupMaxEntries = 100_000
)

// IdempotencyCache maps a client correlation key to the id of the message
// that was persisted for it. Entries expire individually after a TTL.
type IdempotencyCache interface {
	Lookup(ctx context.Context, key string) (messageID string, ok bool, err error)
	Remember(ctx context.Context, key, messageID string) error
}

func dedupKey(userID, clientMessageID string) string {
	return userID + ":" + clientMessageID
}

// MemoryIdempotencyCache expires entries lazily on access; there is no timer
// per entry.
type MemoryIdempotencyCache struct {
	lru *expirable.LRU[string, string]
}

func NewMemoryIdempotencyCache(maxEntries int, ttl time.Duration) *MemoryIdempotencyCache {
	if maxEntries <= 0 {
		maxEntries = DefaultDedupMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryIdempotencyCache{lru: expirable.NewLRU[string, string](maxEntries, nil, ttl)}
}

func (c *MemoryIdempotencyCache) Lookup(_ context.Context, key string) (string, bool, error) {
	id, ok := c.lru.Get(key)
	return id, ok, nil
}

func (c *MemoryIdempotencyCache) Remember(_ context.Context, key, messageID string) error {
	c.lru.Add(key, messageID)
	return nil
}

func (c *MemoryIdempotencyCache) Len() int {
	return c.lru.Len()
}

const redisDedupPrefix = "chat:dedup:"

type RedisIdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyCache(client *redis.Client, ttl time.Duration) *RedisIdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisIdempotencyCache{client: client, ttl: ttl}
}

func (c *RedisIdempotencyCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := c.client.Get(ctx, redisDedupPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get dedup key: %w", err)
	}
	return id, true, nil
}

// Remember keeps the first mapping written for a key.
func (c *RedisIdempotencyCache) Remember(ctx context.Context, key, messageID string) error {
	if err := c.client.SetNX(ctx, redisDedupPrefix+key, messageID, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set dedup key: %w", err)
	}
	return nil
}
