// Package cache provides a Redis read-through cache for permission records.
// The store stays the single source of truth: every successful mutation
// invalidates the cached record, so readers see at worst one TTL of staleness
// after a miss path races a write.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docvault/api/internal/store"
	"github.com/redis/go-redis/v9"
)

type RecordCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRecordCache creates a Redis-backed cache for permission records.
func NewRecordCache(redisURL string, ttl time.Duration) (*RecordCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRecordCacheWithClient(client, ttl), nil
}

// NewRecordCacheWithClient creates a cache from an existing Redis client.
func NewRecordCacheWithClient(client *redis.Client, ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RecordCache{
		client: client,
		prefix: "permrecord:",
		ttl:    ttl,
	}
}

func (c *RecordCache) key(documentID string) string {
	return c.prefix + documentID
}

// Get returns the cached record for documentID, if present.
func (c *RecordCache) Get(ctx context.Context, documentID string) (store.PermissionRecord, bool, error) {
	jsonData, err := c.client.Get(ctx, c.key(documentID)).Result()
	if err == redis.Nil {
		return store.PermissionRecord{}, false, nil
	}
	if err != nil {
		return store.PermissionRecord{}, false, fmt.Errorf("get cached record: %w", err)
	}

	var record store.PermissionRecord
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return store.PermissionRecord{}, false, fmt.Errorf("unmarshal cached record: %w", err)
	}
	return record, true, nil
}

// Put stores the record with the configured TTL.
func (c *RecordCache) Put(ctx context.Context, record store.PermissionRecord) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := c.client.Set(ctx, c.key(record.DocumentID), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache record: %w", err)
	}
	return nil
}

// Invalidate drops the cached record after a mutation.
func (c *RecordCache) Invalidate(ctx context.Context, documentID string) error {
	if err := c.client.Del(ctx, c.key(documentID)).Err(); err != nil {
		return fmt.Errorf("invalidate record: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RecordCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *RecordCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
