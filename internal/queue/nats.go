package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"soap-evaluator/internal/retry"
)

const (
	subjectPrefix  = "soap.tasks."
	redeliverBase  = time.Second
	redeliverLimit = 30 * time.Second
	defaultRetries = 5
	taskIDHeader   = "Soap-Task-Id"
)

// NewNATS returns a Queue that publishes tasks on soap.tasks.<type> and
// consumes them through a queue group per task type.
func NewNATS(log *slog.Logger, nc *nats.Conn) Queue {
	return &natsQueue{log: log, nc: nc}
}

type natsQueue struct {
	log *slog.Logger
	nc  *nats.Conn
}

func subject(t TaskType) string { return subjectPrefix + string(t) }

func (q *natsQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.Type == "" {
		return errors.New("task type required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	msg := nats.NewMsg(subject(task.Type))
	msg.Header.Set(taskIDHeader, task.ID.String())
	msg.Data = body
	return q.nc.PublishMsg(msg)
}

func (q *natsQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	sub, err := q.nc.QueueSubscribe(subject(taskType), "soap-"+string(taskType), func(msg *nats.Msg) {
		q.handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", taskType, err)
	}
	q.log.Info("worker subscribed", "subject", sub.Subject, "queue", sub.Queue)
	<-ctx.Done()
	return sub.Drain()
}

func (q *natsQueue) handleMessage(ctx context.Context, msg *nats.Msg, handler Handler) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err, "task_id", msg.Header.Get(taskIDHeader))
		return
	}

	if wait := time.Until(task.NotBefore); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	handlerErr := handler(ctx, task)
	if handlerErr == nil {
		return
	}
	next, ok := redeliver(task, time.Now())
	if !ok {
		q.log.Error("task permanently failed", "task_id", task.ID, "type", task.Type, "attempts", next.Attempts, "err", handlerErr)
		return
	}
	q.log.Warn("task failed, scheduling retry", "task_id", task.ID, "type", task.Type, "attempt", next.Attempts, "err", handlerErr)
	if err := q.Enqueue(context.WithoutCancel(ctx), next); err != nil {
		q.log.Error("failed to re-enqueue task", "task_id", task.ID, "err", err)
	}
}

// redeliver counts a failed attempt and reports whether the task may run
// again, with NotBefore pushed out by a capped exponential delay.
func redeliver(task Task, now time.Time) (Task, bool) {
	task.Attempts++
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = defaultRetries
	}
	if task.Attempts >= task.MaxAttempts {
		return task, false
	}
	task.NotBefore = now.Add(retry.Capped(task.Attempts, redeliverBase, redeliverLimit))
	return task, true
}
