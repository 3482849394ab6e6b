package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-close/internal/close"
	"github.com/odyssey-erp/odyssey-close/internal/ids"
)

// Enqueuer is the subset of *asynq.Client used by producers.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventBus publishes period close events as asynq tasks.
type EventBus struct {
	queue Enqueuer
}

// NewEventBus wraps an asynq client.
func NewEventBus(queue Enqueuer) *EventBus {
	return &EventBus{queue: queue}
}

// Publish implements close.EventPublisher. The event id doubles as the task id,
// so publishing the same event twice enqueues it once.
func (b *EventBus) Publish(ctx context.Context, event close.Event) error {
	if b == nil || b.queue == nil {
		return errors.New("event bus: not configured")
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Name, err)
	}
	task := asynq.NewTask(TaskPeriodCloseEvent, data)
	_, err = b.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.TaskID(event.ID),
		asynq.MaxRetry(10),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

var _ close.EventPublisher = (*EventBus)(nil)
