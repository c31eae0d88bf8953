package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces tag keys.
const DefaultRedisPrefix = "inbox:tags:"

// RedisBackend stores each conversation's tags as a JSON list under one key,
// which lets several gateway instances share annotations.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(conversationID string) string {
	return r.prefix + conversationID
}

func (r *RedisBackend) Load(ctx context.Context) (map[string][]string, error) {
	out := make(map[string][]string)

	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}

		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		if len(list) > 0 {
			out[strings.TrimPrefix(key, r.prefix)] = list
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tags: %w", err)
	}
	return out, nil
}

func (r *RedisBackend) Save(ctx context.Context, conversationID string, tags []string) error {
	if len(tags) == 0 {
		return r.client.Del(ctx, r.key(conversationID)).Err()
	}

	data, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	return r.client.Set(ctx, r.key(conversationID), data, 0).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
