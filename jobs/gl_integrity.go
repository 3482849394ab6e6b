package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-close/internal/close"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
)

type periodDiagnoser interface {
	DiagnoseByStatus(ctx context.Context, status close.PeriodStatus) ([]close.Report, error)
}

// GLIntegrityJob validates the ledger of every period that is being closed.
type GLIntegrityJob struct {
	Service periodDiagnoser
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle runs the validation engine for closing periods and logs the unbalanced ones.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("gl integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() { err = tracker.End(err) }()

	reports, err := j.Service.DiagnoseByStatus(ctx, close.PeriodStatusClosing)
	if err != nil {
		// Partial reports are still logged below.
		j.Logger.Error("gl integrity check failed", slog.Int("checked", len(reports)), slog.Any("error", err))
	}
	unbalanced := 0
	for _, rep := range reports {
		tb := rep.Result.TrialBalance
		if tb.Severity != close.SeverityError {
			continue
		}
		unbalanced++
		j.Logger.Warn("unbalanced closing period",
			slog.Int64("company_id", rep.Result.CompanyID),
			slog.Int64("period_id", rep.Result.PeriodID),
			slog.String("debits", tb.TotalDebits.StringFixed(2)),
			slog.String("credits", tb.TotalCredits.StringFixed(2)),
			slog.String("variance", tb.Variance.StringFixed(2)),
		)
		j.Metrics.AddUnbalanced(rep.Result.CompanyID, 1)
	}
	j.Logger.Info("gl integrity check executed",
		slog.String("job", TaskGLIntegrity),
		slog.Int("periods", len(reports)),
		slog.Int("unbalanced", unbalanced),
	)
	return err
}

// NewGLIntegrityTask builds the cron task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil, asynq.MaxRetry(1))
}
