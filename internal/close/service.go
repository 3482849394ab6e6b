package close

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// TransitionRecorder counts transition outcomes.
type TransitionRecorder interface {
	RecordTransition(op, outcome string)
}

// Service orchestrates the period close workflow.
type Service struct {
	repo      Repository
	validator Validator
	authz     Authorizer
	events    EventPublisher
	locker    Locker
	audit     AuditPort
	approver  AdjustmentApprover
	metrics   TransitionRecorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	flight    singleflight.Group
}

// Option customises optional collaborators.
type Option func(*Service)

// WithEvents wires the event bus.
func WithEvents(p EventPublisher) Option { return func(s *Service) { s.events = p } }

// WithLocker wires the cross-process transition lock.
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

// WithAudit wires the shared audit log.
func WithAudit(a AuditPort) Option { return func(s *Service) { s.audit = a } }

// WithAdjustmentApprover wires the deletion policy for adjustments.
func WithAdjustmentApprover(a AdjustmentApprover) Option {
	return func(s *Service) { s.approver = a }
}

// WithMetrics wires transition counters.
func WithMetrics(m TransitionRecorder) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService constructs a Service instance.
func NewService(repo Repository, validator Validator, authz Authorizer, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		validator: validator,
		authz:     authz,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Get returns a close with its tasks.
func (s *Service) Get(ctx context.Context, id int64) (PeriodClose, error) {
	return s.repo.GetClose(ctx, id)
}

// GetByPeriod returns the close of a period.
func (s *Service) GetByPeriod(ctx context.Context, periodID int64) (PeriodClose, error) {
	return s.repo.GetCloseByPeriod(ctx, periodID)
}

// List returns closes matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PeriodClose, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListCloses(ctx, filter)
}

// Start opens a close for an ended accounting period and instantiates its checklist.
func (s *Service) Start(ctx context.Context, in StartInput) (PeriodClose, error) {
	fields := map[string]string{}
	if in.CompanyID <= 0 {
		fields["company_id"] = "required"
	}
	if in.PeriodID <= 0 {
		fields["period_id"] = "required"
	}
	if in.ActorID <= 0 {
		fields["actor_id"] = "required"
	}
	if len(fields) > 0 {
		return PeriodClose{}, inputErr("start requires company, period and actor", fields)
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseStart); err != nil {
		return PeriodClose{}, err
	}
	now := s.now()
	var created PeriodClose
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		if period.CompanyID != in.CompanyID {
			return fmt.Errorf("%w: period %d for company %d", ErrNotFound, in.PeriodID, in.CompanyID)
		}
		exists, err := tx.CloseExistsForPeriod(ctx, period.ID)
		if err != nil {
			return err
		}
		if exists {
			return guardErr("start", "period already has a close")
		}
		if !period.CanBeClosed(now) {
			if period.Status != PeriodStatusOpen {
				return guardErr("start", fmt.Sprintf("period status is %s", period.Status))
			}
			return guardErr("start", fmt.Sprintf("period ends on %s", period.EndDate.Format(time.DateOnly)))
		}
		fy, err := tx.GetFiscalYear(ctx, period.FiscalYearID)
		if err != nil {
			return err
		}
		if fy.Status != FiscalYearStatusActive {
			return guardErr("start", fmt.Sprintf("fiscal year %s is %s", fy.Name, fy.Status))
		}
		earlier, err := tx.HasUnclosedPeriodBefore(ctx, fy.ID, period.StartDate)
		if err != nil {
			return err
		}
		if earlier {
			return guardErr("start", "earlier periods in the fiscal year are not closed")
		}

		tasks, templateID, err := s.resolveTasks(ctx, tx, period)
		if err != nil {
			return err
		}
		c := PeriodClose{
			CompanyID:  in.CompanyID,
			PeriodID:   period.ID,
			Status:     StatusInReview,
			StartedBy:  in.ActorID,
			StartedAt:  now,
			TemplateID: templateID,
			Notes:      in.Notes,
		}
		details := map[string]any{"task_count": len(tasks)}
		if templateID != nil {
			details["template_id"] = *templateID
		}
		s.appendAudit(&c, "started", in.ActorID, "", StatusInReview, details)
		created, err = tx.InsertClose(ctx, c)
		if err != nil {
			return err
		}
		created.Tasks, err = tx.InsertTasks(ctx, created.ID, tasks)
		if err != nil {
			return err
		}
		return tx.UpdatePeriodStatus(ctx, period.ID, PeriodStatusClosing)
	})
	s.observe("start", err)
	if err != nil {
		return PeriodClose{}, err
	}
	s.record(ctx, "period_close.start", created, in.ActorID, map[string]any{"period_id": created.PeriodID})
	s.emit(ctx, newEvent(EventStarted, created, in.ActorID, now, map[string]any{"task_count": len(created.Tasks)}))
	return created, nil
}

// Validate runs the validation engine for a close under review.
func (s *Service) Validate(ctx context.Context, closeID, actorID int64) (Report, error) {
	if err := s.authorize(ctx, actorID, shared.PermPeriodCloseValidate); err != nil {
		return Report{}, err
	}
	c, err := s.repo.GetClose(ctx, closeID)
	if err != nil {
		return Report{}, err
	}
	if !c.Status.Reviewable() {
		return Report{}, guardErr("validate", fmt.Sprintf("close status is %s", c.Status))
	}
	period, err := s.repo.GetPeriod(ctx, c.PeriodID)
	if err != nil {
		return Report{}, err
	}
	result, err := s.runValidation(ctx, period)
	if err != nil {
		return Report{}, err
	}
	report := BuildReport(result)
	s.emit(ctx, newEvent(EventValidated, c, actorID, s.now(), map[string]any{
		"score":          result.Score,
		"overall_status": report.OverallStatus,
	}))
	return report, nil
}

// Diagnose validates a period regardless of close status.
func (s *Service) Diagnose(ctx context.Context, periodID int64) (Report, error) {
	period, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return Report{}, err
	}
	result, err := s.runValidation(ctx, period)
	if err != nil {
		return Report{}, err
	}
	return BuildReport(result), nil
}

// DiagnoseByStatus validates every period currently in status.
func (s *Service) DiagnoseByStatus(ctx context.Context, status PeriodStatus) ([]Report, error) {
	periods, err := s.repo.ListPeriodsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(periods))
	for _, p := range periods {
		result, err := s.runValidation(ctx, p)
		if err != nil {
			return reports, fmt.Errorf("period %d: %w", p.ID, err)
		}
		reports = append(reports, BuildReport(result))
	}
	return reports, nil
}

// SubmitForApproval moves a reviewed close to awaiting approval.
func (s *Service) SubmitForApproval(ctx context.Context, closeID, actorID int64) (PeriodClose, error) {
	if err := s.authorize(ctx, actorID, shared.PermPeriodCloseLock); err != nil {
		return PeriodClose{}, err
	}
	var updated PeriodClose
	err := s.transition(ctx, closeID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, closeID)
		if err != nil {
			return err
		}
		if cur.Status != StatusInReview {
			return guardErr("submit", fmt.Sprintf("close status is %s", cur.Status))
		}
		tasks, err := tx.ListTasks(ctx, closeID)
		if err != nil {
			return err
		}
		if err := requiredTasksDone("submit", tasks); err != nil {
			return err
		}
		s.appendAudit(&cur, "submitted", actorID, cur.Status, StatusAwaitingApproval, nil)
		cur.Status = StatusAwaitingApproval
		updated, err = tx.UpdateClose(ctx, cur)
		updated.Tasks = tasks
		return err
	})
	s.observe("submit", err)
	if err != nil {
		return PeriodClose{}, err
	}
	s.record(ctx, "period_close.submit", updated, actorID, nil)
	s.emit(ctx, newEvent(EventSubmitted, updated, actorID, s.now(), nil))
	return updated, nil
}

// Lock freezes a close once required tasks are done and validation passes.
func (s *Service) Lock(ctx context.Context, in LockInput) (PeriodClose, error) {
	if in.CloseID <= 0 || in.ActorID <= 0 {
		return PeriodClose{}, inputErr("lock requires close and actor", nil)
	}
	if utf8.RuneCountInString(in.Reason) > 500 {
		return PeriodClose{}, inputErr("lock reason too long", map[string]string{"reason": "max 500 characters"})
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseLock); err != nil {
		return PeriodClose{}, err
	}
	now := s.now()
	var (
		updated PeriodClose
		score   *int
	)
	err := s.transition(ctx, in.CloseID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, in.CloseID)
		if err != nil {
			return err
		}
		if !cur.Status.Reviewable() {
			return guardErr("lock", fmt.Sprintf("close status is %s", cur.Status))
		}
		tasks, err := tx.ListTasks(ctx, in.CloseID)
		if err != nil {
			return err
		}
		if err := requiredTasksDone("lock", tasks); err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, cur.PeriodID)
		if err != nil {
			return err
		}
		result, err := s.runValidation(ctx, period)
		switch {
		case err != nil && s.cfg.LockSkipValidationOnError:
			s.logger.Warn("lock validation unavailable, continuing",
				slog.Int64("close_id", cur.ID),
				slog.Any("error", err))
		case err != nil:
			return err
		default:
			if issues := result.BlockingIssues(); len(issues) > 0 {
				return guardErr("lock", "blocking validation issues", issues...)
			}
			if result.Score < s.cfg.MinLockScore {
				return guardErr("lock", fmt.Sprintf("validation score %d is below %d", result.Score, s.cfg.MinLockScore))
			}
			score = &result.Score
		}

		details := map[string]any{"reason": in.Reason}
		if score != nil {
			details["score"] = *score
		}
		s.appendAudit(&cur, "locked", in.ActorID, cur.Status, StatusLocked, details)
		actor := in.ActorID
		cur.Status = StatusLocked
		cur.LockedBy = &actor
		cur.LockedAt = &now
		cur.LockReason = in.Reason
		updated, err = tx.UpdateClose(ctx, cur)
		updated.Tasks = tasks
		return err
	})
	s.observe("lock", err)
	if err != nil {
		return PeriodClose{}, err
	}
	s.record(ctx, "period_close.lock", updated, in.ActorID, map[string]any{"reason": in.Reason})
	payload := map[string]any{"lock_expires_at": now.Add(s.cfg.MaxLockAge)}
	if score != nil {
		payload["score"] = *score
	}
	s.emit(ctx, newEvent(EventLocked, updated, in.ActorID, now, payload))
	return updated, nil
}

// Unlock returns a locked close to review.
func (s *Service) Unlock(ctx context.Context, closeID, actorID int64, reason string) (PeriodClose, error) {
	if err := s.authorize(ctx, actorID, shared.PermPeriodCloseLock); err != nil {
		return PeriodClose{}, err
	}
	var updated PeriodClose
	err := s.transition(ctx, closeID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, closeID)
		if err != nil {
			return err
		}
		if cur.Status != StatusLocked {
			return guardErr("unlock", fmt.Sprintf("close status is %s", cur.Status))
		}
		s.appendAudit(&cur, "unlocked", actorID, cur.Status, StatusInReview, map[string]any{"reason": reason})
		cur.Status = StatusInReview
		cur.LockedBy = nil
		cur.LockedAt = nil
		cur.LockReason = ""
		updated, err = tx.UpdateClose(ctx, cur)
		return err
	})
	s.observe("unlock", err)
	if err != nil {
		return PeriodClose{}, err
	}
	s.record(ctx, "period_close.unlock", updated, actorID, map[string]any{"reason": reason})
	s.emit(ctx, newEvent(EventUnlocked, updated, actorID, s.now(), nil))
	return updated, nil
}

// Complete performs the final checks and closes the accounting period.
func (s *Service) Complete(ctx context.Context, in CompleteInput) (PeriodClose, error) {
	if in.CloseID <= 0 || in.ActorID <= 0 {
		return PeriodClose{}, inputErr("complete requires close and actor", nil)
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseComplete); err != nil {
		return PeriodClose{}, err
	}
	now := s.now()
	var updated PeriodClose
	err := s.transition(ctx, in.CloseID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, in.CloseID)
		if err != nil {
			return err
		}
		if cur.Status != StatusLocked {
			return guardErr("complete", fmt.Sprintf("close status is %s", cur.Status))
		}
		period, err := tx.GetPeriodForUpdate(ctx, cur.PeriodID)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusClosed || period.Status == PeriodStatusFuture {
			return guardErr("complete", fmt.Sprintf("period status is %s", period.Status))
		}
		if !cur.IsLocked() {
			return guardErr("complete", "lock is missing, relock required")
		}
		if age := now.Sub(*cur.LockedAt); age > s.cfg.MaxLockAge {
			return guardErr("complete", "lock expired",
				fmt.Sprintf("locked %s ago, maximum is %s", age.Truncate(time.Minute), s.cfg.MaxLockAge))
		}
		tasks, err := tx.ListTasks(ctx, in.CloseID)
		if err != nil {
			return err
		}
		if pending := incompleteCodes(tasks, false); len(pending) > 0 {
			return guardErr("complete", fmt.Sprintf("%d tasks not completed", len(pending)), pending...)
		}
		unposted, err := tx.CountUnpostedJournals(ctx, cur.CompanyID, period.StartDate, period.EndDate)
		if err != nil {
			return err
		}
		if unposted > 0 {
			return guardErr("complete", fmt.Sprintf("%d unposted journal entries in period", unposted))
		}
		result, err := s.runValidation(ctx, period)
		switch {
		case err != nil && s.cfg.RequireFinalValidation:
			return err
		case err != nil:
			s.logger.Warn("final validation unavailable, completing without it",
				slog.Int64("close_id", cur.ID),
				slog.Any("error", err))
		case result.Score < s.cfg.MinCompletionScore:
			return guardErr("complete", fmt.Sprintf("validation score %d is below %d", result.Score, s.cfg.MinCompletionScore))
		}

		s.appendAudit(&cur, "completed", in.ActorID, cur.Status, StatusClosed, map[string]any{"summary": in.Summary})
		actor := in.ActorID
		cur.Status = StatusClosed
		cur.ClosedBy = &actor
		cur.ClosedAt = &now
		cur.ClosingSummary = in.Summary
		cur.Metadata.ReopenUntil = nil
		updated, err = tx.UpdateClose(ctx, cur)
		if err != nil {
			return err
		}
		updated.Tasks = tasks
		return tx.UpdatePeriodStatus(ctx, period.ID, PeriodStatusClosed)
	})
	s.observe("complete", err)
	if err != nil {
		return PeriodClose{}, err
	}
	s.record(ctx, "period_close.complete", updated, in.ActorID, nil)
	s.emit(ctx, newEvent(EventCompleted, updated, in.ActorID, now, map[string]any{"summary": in.Summary}))
	return updated, nil
}

// ExpiredLocks lists locked closes whose lock is older than the maximum age.
func (s *Service) ExpiredLocks(ctx context.Context) ([]PeriodClose, error) {
	return s.repo.ListLockedBefore(ctx, s.now().Add(-s.cfg.MaxLockAge))
}

// ExpiredReopenWindows lists reopened closes still open past their reopen_until.
func (s *Service) ExpiredReopenWindows(ctx context.Context) ([]PeriodClose, error) {
	return s.repo.ListReopenedBefore(ctx, s.now())
}

func (s *Service) runValidation(ctx context.Context, period AccountingPeriod) (ValidationResult, error) {
	if s.validator == nil {
		return ValidationResult{}, ErrValidationUnavailable
	}
	ch := s.flight.DoChan(strconv.FormatInt(period.ID, 10), func() (any, error) {
		return s.validator.Validate(context.WithoutCancel(ctx), period)
	})
	select {
	case <-ctx.Done():
		return ValidationResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrValidationUnavailable) {
				return ValidationResult{}, res.Err
			}
			return ValidationResult{}, fmt.Errorf("%w: %v", ErrValidationUnavailable, res.Err)
		}
		return res.Val.(ValidationResult), nil
	}
}

func (s *Service) authorize(ctx context.Context, actorID int64, capability string) error {
	if actorID <= 0 {
		return inputErr("actor required", map[string]string{"actor_id": "required"})
	}
	if s.authz == nil {
		return &ForbiddenError{ActorID: actorID, Capability: capability}
	}
	ok, err := s.authz.UserCan(ctx, actorID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return &ForbiddenError{ActorID: actorID, Capability: capability}
	}
	return nil
}

// transition serialises writers on the close and runs fn in one transaction.
func (s *Service) transition(ctx context.Context, closeID int64, fn func(context.Context, TxRepository) error) error {
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, shared.PeriodCloseLockKey(closeID), s.cfg.TransitionLockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransitionInProgress
		}
		defer release(context.WithoutCancel(ctx))
	}
	return s.repo.WithTx(ctx, fn)
}

func (s *Service) appendAudit(c *PeriodClose, action string, actorID int64, from, to Status, details map[string]any) {
	c.AuditTrail = append(c.AuditTrail, AuditEntry{
		ID:         uuid.NewString(),
		Action:     action,
		ActorID:    actorID,
		At:         s.now(),
		FromStatus: from,
		ToStatus:   to,
		Details:    details,
	})
}

func (s *Service) record(ctx context.Context, action string, c PeriodClose, actorID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = string(c.Status)
	meta["company_id"] = c.CompanyID
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "period_close",
		EntityID: strconv.FormatInt(c.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("period close audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrGuardViolation):
		outcome = "guard"
	case errors.Is(err, ErrInvalidInput):
		outcome = "invalid"
	case errors.Is(err, ErrForbidden):
		outcome = "forbidden"
	default:
		outcome = "error"
	}
	s.metrics.RecordTransition(op, outcome)
}

func requiredTasksDone(op string, tasks []Task) error {
	pending := incompleteCodes(tasks, true)
	if len(pending) == 0 {
		return nil
	}
	return guardErr(op, fmt.Sprintf("%d required tasks not completed", len(pending)), pending...)
}

func incompleteCodes(tasks []Task, requiredOnly bool) []string {
	var codes []string
	for _, t := range tasks {
		if requiredOnly && !t.IsRequired {
			continue
		}
		if !t.Completed() {
			codes = append(codes, t.Code)
		}
	}
	return codes
}
