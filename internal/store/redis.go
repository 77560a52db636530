package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"soap-evaluator/internal/retry"
)

const (
	redisKeyPrefix   = "soap:session:"
	redisMaxAttempts = 5
	redisRetryBase   = 10 * time.Millisecond
)

// RedisStore keeps one hash per session and applies updates with
// optimistic WATCH/MULTI transactions.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(session string) string {
	return redisKeyPrefix + session
}

func (s *RedisStore) Load(ctx context.Context, session string) (Values, error) {
	raw, err := s.client.HGetAll(ctx, redisKey(session)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", session, err)
	}
	v := Values(raw)
	if err := CheckVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *RedisStore) Update(ctx context.Context, session string, fn UpdateFunc) error {
	key := redisKey(session)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current := Values(raw)
		if err := CheckVersion(current); err != nil {
			return err
		}
		m, err := fn(current)
		if err != nil {
			return err
		}
		m = stamp(m)
		if m.Empty() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(m.Delete) > 0 {
				pipe.HDel(ctx, key, m.Delete...)
			}
			if len(m.Set) > 0 {
				pipe.HSet(ctx, key, hashArgs(m.Set))
			}
			return nil
		})
		return err
	}

	if err := watchRetry(ctx, redisMaxAttempts, redisRetryBase, func() error {
		return s.client.Watch(ctx, txf, key)
	}); err != nil {
		return fmt.Errorf("redis update %s: %w", session, err)
	}
	return nil
}

// ErrContention is returned when optimistic transactions keep losing to
// concurrent writers.
var ErrContention = errors.New("too many concurrent writers")

// watchRetry runs attempt until it succeeds, fails with an error other than
// redis.TxFailedErr, or has lost the WATCH race attempts times.
func watchRetry(ctx context.Context, attempts int, base time.Duration, attempt func() error) error {
	for i := 0; i < attempts; i++ {
		err := attempt()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(i, base)):
		}
	}
	return ErrContention
}

func hashArgs(set map[string]string) map[string]any {
	out := make(map[string]any, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
