package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-close/internal/close"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
)

type expiredLockLister interface {
	ExpiredLocks(ctx context.Context) ([]close.PeriodClose, error)
	ExpiredReopenWindows(ctx context.Context) ([]close.PeriodClose, error)
}

// LockSweepJob reports closes that stayed locked past the maximum lock age.
// Such closes cannot complete until they are unlocked and locked again.
// Reopened closes still open after their reopen_until are reported too.
type LockSweepJob struct {
	Service expiredLockLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLockSweepJob initialises the sweep handler.
func NewLockSweepJob(service expiredLockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LockSweepJob {
	return &LockSweepJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *LockSweepJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("lock sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskPeriodCloseLockSweep)
	defer func() { err = tracker.End(err) }()

	expired, err := j.Service.ExpiredLocks(ctx)
	if err != nil {
		j.Logger.Error("lock sweep failed", slog.Any("error", err))
		return err
	}
	now := j.clock()
	for _, c := range expired {
		attrs := []any{
			slog.Int64("close_id", c.ID),
			slog.Int64("company_id", c.CompanyID),
			slog.Int64("period_id", c.PeriodID),
		}
		if c.LockedAt != nil {
			attrs = append(attrs, slog.Duration("locked_for", now.Sub(*c.LockedAt).Round(time.Minute)))
		}
		j.Logger.Warn("period close lock expired", attrs...)
	}
	j.Metrics.SetExpiredLocks(len(expired))

	overdue, err := j.Service.ExpiredReopenWindows(ctx)
	if err != nil {
		j.Logger.Error("reopen sweep failed", slog.Any("error", err))
		return err
	}
	for _, c := range overdue {
		attrs := []any{
			slog.Int64("close_id", c.ID),
			slog.Int64("company_id", c.CompanyID),
			slog.Int64("period_id", c.PeriodID),
			slog.String("status", string(c.Status)),
		}
		if until := c.Metadata.ReopenUntil; until != nil {
			attrs = append(attrs, slog.Duration("overdue_by", now.Sub(*until).Round(time.Minute)))
		}
		j.Logger.Warn("period close reopen window expired", attrs...)
	}
	j.Metrics.SetOverdueReopens(len(overdue))
	j.Logger.Info("lock sweep completed", slog.Int("expired", len(expired)), slog.Int("overdue_reopens", len(overdue)))
	return nil
}

// NewLockSweepTask builds the cron task.
func NewLockSweepTask() *asynq.Task {
	return asynq.NewTask(TaskPeriodCloseLockSweep, nil, asynq.MaxRetry(0))
}
