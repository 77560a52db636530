package cache

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockCache is a mock implementation of Cache using testify/mock.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Lookup(ctx context.Context, keys []string) (map[string]Scores, error) {
	args := m.Called(ctx, keys)
	hits, _ := args.Get(0).(map[string]Scores)
	return hits, args.Error(1)
}

func (m *MockCache) Store(ctx context.Context, entries map[string]Scores, ttl time.Duration) error {
	return m.Called(ctx, entries, ttl).Error(0)
}

func (m *MockCache) Close() error {
	return m.Called().Error(0)
}
