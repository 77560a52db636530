package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "soap:scores:"

// RedisCache keeps one string value per key and reads them in a single MGET.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(addr, password string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Lookup(ctx context.Context, keys []string) (map[string]Scores, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	return decodeValues(keys, vals), nil
}

func (c *RedisCache) Store(ctx context.Context, entries map[string]Scores, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, s := range entries {
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			p.Set(ctx, keyPrefix+k, data, ttl)
		}
		return nil
	})
	return err
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// decodeValues pairs MGET results with their keys. Nil and undecodable
// values count as misses.
func decodeValues(keys []string, vals []any) map[string]Scores {
	out := make(map[string]Scores, len(vals))
	for i, v := range vals {
		if i >= len(keys) {
			break
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s Scores
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		out[keys[i]] = s
	}
	return out
}
