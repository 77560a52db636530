package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"soap-evaluator/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	// TaskTypeAnalyze hands an evaluated session to the analysis worker.
	TaskTypeAnalyze TaskType = "analyze"
)

// Task represents a unit of work handed between services.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// AnalyzePayload identifies the evaluated session and the epoch it was
// evaluated under.
type AnalyzePayload struct {
	SessionID string `json:"session_id"`
	Epoch     string `json:"epoch"`
}

// NewAnalyzeTask builds an analyze task for session.
func NewAnalyzeTask(sessionID, epoch string) (Task, error) {
	body, err := json.Marshal(AnalyzePayload{SessionID: sessionID, Epoch: epoch})
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: TaskTypeAnalyze, Payload: body, MaxAttempts: 5}, nil
}

// DecodeAnalyze extracts the payload of an analyze task.
func DecodeAnalyze(task Task) (AnalyzePayload, error) {
	if task.Type != TaskTypeAnalyze {
		return AnalyzePayload{}, fmt.Errorf("unexpected task type %q", task.Type)
	}
	var p AnalyzePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return AnalyzePayload{}, fmt.Errorf("decode analyze payload: %w", err)
	}
	if p.SessionID == "" {
		return AnalyzePayload{}, fmt.Errorf("analyze payload missing session_id")
	}
	return p, nil
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := q.Enqueue(ctx, task); err == nil {
			return nil
		} else if attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, base)):
		}
	}
	return nil
}
