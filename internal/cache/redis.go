package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores JSON values in Redis under a key prefix.
type Cache struct {
	client *redis.Client
	prefix string
}

func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// GetMany fetches keys in one round trip. found[i] reports whether keys[i] was
// present; dest is called with the raw value of each hit.
func (c *Cache) GetMany(ctx context.Context, keys []string, dest func(i int, raw []byte) error) (found []bool, err error) {
	found = make([]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}

	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return found, fmt.Errorf("cache mget: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if err := dest(i, []byte(s)); err != nil {
			return found, fmt.Errorf("cache decode %s: %w", keys[i], err)
		}
		found[i] = true
	}
	return found, nil
}

// SetMany writes all entries in a single pipeline.
func (c *Cache) SetMany(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for k, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", k, err)
		}
		pipe.Set(ctx, c.prefix+k, data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache pipeline: %w", err)
	}
	return nil
}
