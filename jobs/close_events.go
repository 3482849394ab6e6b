package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/odyssey-erp/odyssey-close/internal/close"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

const closeEventModule = "period_close.event"

// IdempotencyStore claims processed message keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// CloseEventHandler consumes period close events. Lock, completion and reopen
// events fan out as notification emails.
type CloseEventHandler struct {
	Store      IdempotencyStore
	Queue      Enqueuer
	Recipients []string
	Limiter    *rate.Limiter
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

var notifiable = map[string]string{
	close.EventLocked:    "locked",
	close.EventCompleted: "completed",
	close.EventReopened:  "reopened",
}

// Handle processes one TaskPeriodCloseEvent task.
func (h *CloseEventHandler) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var event close.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("decode close event: %v: %w", err, asynq.SkipRetry)
	}
	if event.ID == "" {
		return fmt.Errorf("close event without id: %w", asynq.SkipRetry)
	}
	tracker := h.Metrics.Track(TaskPeriodCloseEvent)
	defer func() { err = tracker.End(err) }()

	logger := h.Logger.With(
		slog.String("event", event.Name),
		slog.String("event_id", event.ID),
		slog.Int64("close_id", event.CloseID),
	)
	if h.Store != nil {
		if err := h.Store.CheckAndInsert(ctx, event.ID, closeEventModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				logger.Debug("close event already processed")
				return nil
			}
			return err
		}
	}
	logger.Info("period close event",
		slog.Int64("company_id", event.CompanyID),
		slog.Int64("period_id", event.PeriodID),
		slog.Int64("actor_id", event.ActorID),
	)

	verb, ok := notifiable[event.Name]
	if !ok || len(h.Recipients) == 0 {
		return nil
	}
	if err := h.notify(ctx, event, verb); err != nil {
		if h.Store != nil {
			if delErr := h.Store.Delete(ctx, event.ID, closeEventModule); delErr != nil {
				logger.Warn("release close event key", slog.Any("error", delErr))
			}
		}
		return err
	}
	return nil
}

func (h *CloseEventHandler) notify(ctx context.Context, event close.Event, verb string) error {
	subject, body := renderNotification(event, verb)
	for _, to := range h.Recipients {
		if h.Limiter != nil {
			if err := h.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		task, err := NewSendEmailTask(SendEmailPayload{To: to, Subject: subject, Body: body})
		if err != nil {
			return err
		}
		if _, err := h.Queue.EnqueueContext(ctx, task, asynq.Queue(QueueDefault)); err != nil {
			h.Metrics.CountNotification(event.Name, "failed")
			return fmt.Errorf("enqueue notification to %s: %w", to, err)
		}
		h.Metrics.CountNotification(event.Name, "queued")
	}
	return nil
}

func renderNotification(event close.Event, verb string) (string, string) {
	subject := fmt.Sprintf("Period close %d %s", event.CloseID, verb)
	var b strings.Builder
	fmt.Fprintf(&b, "Period close %d for company %d, period %d was %s by user %d at %s.\n",
		event.CloseID, event.CompanyID, event.PeriodID, verb, event.ActorID,
		event.OccurredAt.UTC().Format("2006-01-02 15:04 MST"))
	for _, key := range []string{"reason", "summary", "reopen_until", "lock_expires_at", "score"} {
		if v, ok := event.Payload[key]; ok && v != nil && v != "" {
			fmt.Fprintf(&b, "%s: %v\n", close.Label(key), v)
		}
	}
	return subject, b.String()
}
