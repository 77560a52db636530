package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of Queue using testify/mock.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, task Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *MockQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	return m.Called(ctx, taskType, handler).Error(0)
}

// Enqueued returns the tasks passed to Enqueue, in call order.
func (m *MockQueue) Enqueued() []Task {
	var tasks []Task
	for _, c := range m.Calls {
		if c.Method == "Enqueue" {
			tasks = append(tasks, c.Arguments.Get(1).(Task))
		}
	}
	return tasks
}
