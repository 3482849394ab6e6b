package close

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// Repository persists period close state.
type Repository interface {
	GetClose(ctx context.Context, id int64) (PeriodClose, error)
	GetCloseByPeriod(ctx context.Context, periodID int64) (PeriodClose, error)
	ListCloses(ctx context.Context, filter ListFilter) ([]PeriodClose, error)
	ListLockedBefore(ctx context.Context, cutoff time.Time) ([]PeriodClose, error)
	ListReopenedBefore(ctx context.Context, deadline time.Time) ([]PeriodClose, error)
	GetPeriod(ctx context.Context, id int64) (AccountingPeriod, error)
	ListPeriodsByStatus(ctx context.Context, status PeriodStatus) ([]AccountingPeriod, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error)
	GetTemplate(ctx context.Context, id int64) (Template, error)
	ListAdjustments(ctx context.Context, closeID int64) ([]Adjustment, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the statements that run inside a transition transaction.
type TxRepository interface {
	GetPeriodForUpdate(ctx context.Context, id int64) (AccountingPeriod, error)
	GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error)
	HasUnclosedPeriodBefore(ctx context.Context, fiscalYearID int64, before time.Time) (bool, error)
	UpdatePeriodStatus(ctx context.Context, id int64, status PeriodStatus) error

	CloseExistsForPeriod(ctx context.Context, periodID int64) (bool, error)
	InsertClose(ctx context.Context, c PeriodClose) (PeriodClose, error)
	GetCloseForUpdate(ctx context.Context, id int64) (PeriodClose, error)
	// UpdateClose writes the close when its stored version still equals c.Version and bumps it.
	UpdateClose(ctx context.Context, c PeriodClose) (PeriodClose, error)

	ListTasks(ctx context.Context, closeID int64) ([]Task, error)
	InsertTasks(ctx context.Context, closeID int64, tasks []Task) ([]Task, error)
	UpdateTask(ctx context.Context, task Task) error
	DeleteTasks(ctx context.Context, ids []int64) error

	FindDefaultTemplate(ctx context.Context, companyID *int64, frequency Frequency) (Template, bool, error)
	GetTemplateForUpdate(ctx context.Context, id int64) (Template, error)
	InsertTemplate(ctx context.Context, tpl Template) (Template, error)
	UpdateTemplate(ctx context.Context, tpl Template) error
	ClearDefaultTemplates(ctx context.Context, companyID *int64, frequency Frequency, exceptID int64) error
	InsertTemplateTasks(ctx context.Context, templateID int64, tasks []TemplateTask) ([]TemplateTask, error)
	UpdateTemplateTask(ctx context.Context, task TemplateTask) error
	DeleteTemplateTasks(ctx context.Context, ids []int64) error
	CountActiveTemplateUsages(ctx context.Context, templateID int64) (int, error)
	CountOtherActiveTemplates(ctx context.Context, companyID *int64, exceptID int64) (int, error)

	CountUnpostedJournals(ctx context.Context, companyID int64, from, to time.Time) (int, error)
	AccountsBelongingToCompany(ctx context.Context, ids []int64, companyID int64) ([]int64, error)
	CreateAdjustmentEntry(ctx context.Context, entry AdjustmentEntry) (Adjustment, error)
	GetAdjustment(ctx context.Context, closeID, entryID int64) (Adjustment, error)
	DeleteAdjustmentEntry(ctx context.Context, entryID int64) error
}

// ListFilter narrows close listings.
type ListFilter struct {
	CompanyID int64
	Status    Status
	Limit     int
	Offset    int
}

// TemplateFilter narrows template listings. A nil CompanyID lists system templates.
type TemplateFilter struct {
	CompanyID       *int64
	IncludeSystem   bool
	IncludeArchived bool
}

// Validator computes the period health used as a transition gate.
type Validator interface {
	Validate(ctx context.Context, period AccountingPeriod) (ValidationResult, error)
}

// Authorizer answers capability checks for an actor.
type Authorizer interface {
	UserCan(ctx context.Context, userID int64, capability string) (bool, error)
	RoleOf(ctx context.Context, userID int64) (string, error)
}

// EventPublisher emits fire-and-forget workflow events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Locker serialises transitions on the same close across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// AuditPort records transitions in the shared audit log.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AdjustmentApprover decides whether an adjustment may be deleted.
type AdjustmentApprover interface {
	ApproveDeletion(ctx context.Context, actorID int64, adj Adjustment) error
}
