package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries as JSON strings with a TTL and keeps a sorted
// set of entry keys scored by write time as the recency index.
//
//   - prefix+"entry:"+hash => JSON(Entry), expires after ttl
//   - prefix+"index"        => ZSET of entry keys, score = unix ms
type RedisBackend struct {
	client   redis.UniversalClient
	prefix   string
	maxIndex int64
}

// NewRedisBackend creates a backend. The index is trimmed to maxIndex keys.
func NewRedisBackend(client redis.UniversalClient, prefix string, maxIndex int64) *RedisBackend {
	if prefix == "" {
		prefix = "semcache:"
	}
	if maxIndex <= 0 {
		maxIndex = 10000
	}
	return &RedisBackend{client: client, prefix: prefix, maxIndex: maxIndex}
}

func (b *RedisBackend) indexKey() string { return b.prefix + "index" }

// Prefix returns the key prefix entries are written under.
func (b *RedisBackend) Prefix() string { return b.prefix }

func (b *RedisBackend) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, entry.Key, data, ttl)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(entry.Timestamp), Member: entry.Key})
	pipe.ZRemRangeByRank(ctx, b.indexKey(), 0, -(b.maxIndex + 1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (b *RedisBackend) FindSimilar(ctx context.Context, embedding []float32, limit int) (*Match, error) {
	keys, err := b.client.ZRevRange(ctx, b.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recency index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	candidates := make([]*Entry, 0, len(values))
	var stale []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired entries linger in the index until trimmed here.
			stale = append(stale, keys[i])
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			slog.Warn("semantic cache: dropping undecodable entry", "key", keys[i], "error", err)
			stale = append(stale, keys[i])
			continue
		}
		candidates = append(candidates, &entry)
	}
	b.forget(ctx, stale)

	match, err := bestMatch(embedding, candidates)
	if keys := mismatchedKeys(err); len(keys) > 0 {
		slog.Warn("semantic cache: evicting entries of another embedding dimension", "count", len(keys))
		b.forget(ctx, keys)
	}
	return match, err
}

// forget deletes entries and drops them from the recency index.
func (b *RedisBackend) forget(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe := b.client.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, b.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("semantic cache: failed to trim index keys", "error", err)
	}
}

func (b *RedisBackend) DeleteByProduct(ctx context.Context, productID string) (int, error) {
	deleted := 0
	iter := b.client.Scan(ctx, 0, b.prefix+"entry:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := b.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("redis get %s: %w", key, err)
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil || !entry.References(productID) {
			continue
		}
		if err := b.client.Del(ctx, key).Err(); err != nil {
			return deleted, fmt.Errorf("redis del %s: %w", key, err)
		}
		_ = b.client.ZRem(ctx, b.indexKey(), key).Err()
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	return deleted, nil
}

func (b *RedisBackend) Flush(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := b.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis flush: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis flush scan: %w", err)
	}
	if len(batch) > 0 {
		if err := b.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis flush: %w", err)
		}
	}
	return nil
}

// Len counts live entries. Index keys whose entry has expired are pruned.
func (b *RedisBackend) Len(ctx context.Context) (int, error) {
	keys, err := b.client.ZRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis recency index: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := b.client.Pipeline()
	exists := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		exists[i] = pipe.Exists(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis exists: %w", err)
	}

	var stale []string
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, keys[i])
		}
	}
	b.forget(ctx, stale)
	return len(keys) - len(stale), nil
}
