package cache

import (
	"context"
	"time"
)

// NoOpCache misses on every lookup and drops every write. It backs
// CACHE_PROVIDER=none.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache { return &NoOpCache{} }

func (NoOpCache) Lookup(context.Context, []string) (map[string]Scores, error) { return nil, nil }

func (NoOpCache) Store(context.Context, map[string]Scores, time.Duration) error { return nil }

func (NoOpCache) Close() error { return nil }
