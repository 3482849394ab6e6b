package close

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-close/internal/ids"
)

// Workflow event names.
const (
	EventStarted          = "period_close.started"
	EventValidated        = "period_close.validated"
	EventSubmitted        = "period_close.submitted"
	EventLocked           = "period_close.locked"
	EventUnlocked         = "period_close.unlocked"
	EventCompleted        = "period_close.completed"
	EventReopened         = "period_close.reopened"
	EventTaskUpdated      = "period_close.task_updated"
	EventAdjustmentMade   = "period_close.adjustment_created"
	EventAdjustmentVoided = "period_close.adjustment_deleted"
	EventTemplateUpdated  = "period_close.template.updated"
	EventTemplateArchived = "period_close.template.archived"
	EventTemplateSynced   = "period_close.template.synced"
)

// Event is the payload handed to the event bus.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	CloseID    int64          `json:"close_id,omitempty"`
	CompanyID  int64          `json:"company_id,omitempty"`
	PeriodID   int64          `json:"period_id,omitempty"`
	TemplateID int64          `json:"template_id,omitempty"`
	ActorID    int64          `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func newEvent(name string, c PeriodClose, actorID int64, at time.Time, payload map[string]any) Event {
	return Event{
		ID:         ids.At(at),
		Name:       name,
		CloseID:    c.ID,
		CompanyID:  c.CompanyID,
		PeriodID:   c.PeriodID,
		ActorID:    actorID,
		OccurredAt: at,
		Payload:    payload,
	}
}

// emit publishes after commit. Failures never fail the operation.
func (s *Service) emit(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("period close event publish failed",
			slog.String("event", event.Name),
			slog.Int64("close_id", event.CloseID),
			slog.Any("error", err))
	}
}
