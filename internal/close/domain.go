package close

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodStatus enumerates accounting period lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen    PeriodStatus = "open"
	PeriodStatusClosing PeriodStatus = "closing"
	PeriodStatusClosed  PeriodStatus = "closed"
	PeriodStatusFuture  PeriodStatus = "future"
)

// FiscalYearStatus captures whether a fiscal year still accepts closes.
type FiscalYearStatus string

const (
	FiscalYearStatusActive FiscalYearStatus = "active"
	FiscalYearStatusClosed FiscalYearStatus = "closed"
)

// Status captures the lifecycle of a period close.
type Status string

const (
	StatusInReview         Status = "in_review"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusLocked           Status = "locked"
	StatusClosed           Status = "closed"
)

// IsActive reports whether the close is still in a non-terminal status.
func (s Status) IsActive() bool {
	switch s {
	case StatusInReview, StatusAwaitingApproval, StatusLocked:
		return true
	default:
		return false
	}
}

// Reviewable reports whether tasks and templates may still change.
func (s Status) Reviewable() bool {
	return s == StatusInReview || s == StatusAwaitingApproval
}

// AllowsAdjustments reports whether adjustment entries may be booked.
func (s Status) AllowsAdjustments() bool {
	return s.IsActive()
}

// TaskStatus describes checklist progress.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusWaived     TaskStatus = "waived"
)

// Valid reports whether the status is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusBlocked, TaskStatusWaived:
		return true
	default:
		return false
	}
}

// TaskCategory groups checklist items.
type TaskCategory string

const (
	CategoryTrialBalance    TaskCategory = "trial_balance"
	CategoryReconciliations TaskCategory = "reconciliations"
	CategoryCompliance      TaskCategory = "compliance"
	CategoryReporting       TaskCategory = "reporting"
	CategoryAdjustments     TaskCategory = "adjustments"
	CategoryOther           TaskCategory = "other"
)

// Categories lists every task category in display order.
func Categories() []TaskCategory {
	return []TaskCategory{
		CategoryTrialBalance,
		CategoryReconciliations,
		CategoryAdjustments,
		CategoryCompliance,
		CategoryReporting,
		CategoryOther,
	}
}

// Valid reports whether the category belongs to the closed set.
func (c TaskCategory) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Frequency describes the cadence a template applies to.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
	FrequencyCustom    Frequency = "custom"
)

// Valid reports whether the frequency is supported.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly, FrequencyCustom:
		return true
	default:
		return false
	}
}

// AccountingPeriod is a fiscal sub-period scoped to a company.
type AccountingPeriod struct {
	ID           int64        `json:"id"`
	CompanyID    int64        `json:"company_id"`
	FiscalYearID int64        `json:"fiscal_year_id"`
	Name         string       `json:"name"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	Status       PeriodStatus `json:"status"`
}

// CanBeClosed reports whether a close may start for the period.
func (p AccountingPeriod) CanBeClosed(now time.Time) bool {
	return p.Status == PeriodStatusOpen && !now.Before(p.EndDate)
}

// Cadence derives the template frequency from the period length.
func (p AccountingPeriod) Cadence() Frequency {
	days := int(p.EndDate.Sub(p.StartDate).Hours()/24) + 1
	switch {
	case days <= 31:
		return FrequencyMonthly
	case days <= 92:
		return FrequencyQuarterly
	default:
		return FrequencyYearly
	}
}

// FiscalYear groups accounting periods.
type FiscalYear struct {
	ID        int64            `json:"id"`
	CompanyID int64            `json:"company_id"`
	Name      string           `json:"name"`
	StartDate time.Time        `json:"start_date"`
	EndDate   time.Time        `json:"end_date"`
	Status    FiscalYearStatus `json:"status"`
}

// PeriodClose is the workflow instance closing one accounting period.
type PeriodClose struct {
	ID             int64        `json:"id"`
	CompanyID      int64        `json:"company_id"`
	PeriodID       int64        `json:"period_id"`
	Status         Status       `json:"status"`
	StartedBy      int64        `json:"started_by"`
	StartedAt      time.Time    `json:"started_at"`
	LockedBy       *int64       `json:"locked_by,omitempty"`
	LockedAt       *time.Time   `json:"locked_at,omitempty"`
	LockReason     string       `json:"lock_reason,omitempty"`
	ClosedBy       *int64       `json:"closed_by,omitempty"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
	ClosingSummary string       `json:"closing_summary,omitempty"`
	TemplateID     *int64       `json:"template_id,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	AuditTrail     []AuditEntry `json:"audit_trail"`
	Metadata       Metadata     `json:"metadata"`
	Version        int64        `json:"version"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Tasks          []Task       `json:"tasks"`
}

// IsLocked reports whether both lock fields are populated.
func (c PeriodClose) IsLocked() bool {
	return c.LockedAt != nil && c.LockedBy != nil
}

// Metadata carries reopen counters and other non-relational attributes.
type Metadata struct {
	ReopenCount  int           `json:"reopen_count"`
	ReopenUntil  *time.Time    `json:"reopen_until,omitempty"`
	ReopenEvents []ReopenEvent `json:"reopen_events,omitempty"`
}

// ReopenEvent records a compensating reopen.
type ReopenEvent struct {
	At          time.Time `json:"at"`
	ActorID     int64     `json:"actor_id"`
	Role        string    `json:"role"`
	Reason      string    `json:"reason"`
	ReopenUntil time.Time `json:"reopen_until"`
}

// AuditEntry is one append-only record in a close's audit trail.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ActorID    int64          `json:"actor_id"`
	At         time.Time      `json:"at"`
	FromStatus Status         `json:"from_status,omitempty"`
	ToStatus   Status         `json:"to_status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Task is one checklist item of a close.
type Task struct {
	ID             int64        `json:"id"`
	CloseID        int64        `json:"close_id"`
	Code           string       `json:"code"`
	Title          string       `json:"title"`
	Category       TaskCategory `json:"category"`
	Sequence       int          `json:"sequence"`
	IsRequired     bool         `json:"is_required"`
	Status         TaskStatus   `json:"status"`
	Notes          string       `json:"notes,omitempty"`
	CompletedBy    *int64       `json:"completed_by,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	TemplateTaskID *int64       `json:"template_task_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Completed reports whether the task counts toward gating.
func (t Task) Completed() bool {
	return t.Status == TaskStatusCompleted
}

// FromTemplate reports whether the task was generated from a template task.
func (t Task) FromTemplate() bool {
	return t.TemplateTaskID != nil
}

// Template is a reusable task set definition.
type Template struct {
	ID          int64          `json:"id"`
	CompanyID   *int64         `json:"company_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Frequency   Frequency      `json:"frequency"`
	IsDefault   bool           `json:"is_default"`
	Active      bool           `json:"active"`
	Tasks       []TemplateTask `json:"tasks"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TemplateTask is the blueprint of a checklist item.
type TemplateTask struct {
	ID           int64        `json:"id"`
	TemplateID   int64        `json:"template_id"`
	Code         string       `json:"code"`
	Title        string       `json:"title"`
	Category     TaskCategory `json:"category"`
	Sequence     int          `json:"sequence"`
	IsRequired   bool         `json:"is_required"`
	DefaultNotes string       `json:"default_notes,omitempty"`
}

// AdjustmentLine is one side of a period adjustment.
type AdjustmentLine struct {
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

// Adjustment is a balanced journal entry booked during a close.
type Adjustment struct {
	JournalEntryID int64            `json:"journal_entry_id"`
	CloseID        int64            `json:"close_id"`
	CompanyID      int64            `json:"company_id"`
	Reference      string           `json:"reference"`
	Description    string           `json:"description,omitempty"`
	Date           time.Time        `json:"date"`
	Lines          []AdjustmentLine `json:"lines"`
	TotalDebit     decimal.Decimal  `json:"total_debit"`
	TotalCredit    decimal.Decimal  `json:"total_credit"`
	CreatedBy      int64            `json:"created_by"`
	CreatedAt      time.Time        `json:"created_at"`
}

// AdjustmentEntry is the request handed to the ledger to persist an adjustment.
type AdjustmentEntry struct {
	CompanyID   int64
	CloseID     int64
	Reference   string
	Description string
	Date        time.Time
	ActorID     int64
	Lines       []AdjustmentLine
}

// StartInput bundles parameters for starting a close.
type StartInput struct {
	CompanyID int64
	PeriodID  int64
	ActorID   int64
	Notes     string
}

// LockInput bundles parameters for locking a close.
type LockInput struct {
	CloseID int64
	ActorID int64
	Reason  string
}

// CompleteInput bundles parameters for completing a close.
type CompleteInput struct {
	CloseID int64
	ActorID int64
	Summary string
}

// ReopenInput bundles parameters for reopening a closed period.
type ReopenInput struct {
	CloseID     int64
	ActorID     int64
	Reason      string
	ReopenUntil time.Time
}

// TaskUpdateInput controls checklist status changes.
type TaskUpdateInput struct {
	CloseID int64
	TaskID  int64
	ActorID int64
	Status  TaskStatus
	Notes   *string
}

// NewTaskInput adds a manual task to a close.
type NewTaskInput struct {
	CloseID    int64
	ActorID    int64
	Code       string
	Title      string
	Category   TaskCategory
	IsRequired bool
	Notes      string
}

// AdjustmentInput carries a requested period adjustment.
type AdjustmentInput struct {
	CloseID     int64
	ActorID     int64
	Reference   string
	Description string
	Date        *time.Time
	Lines       []AdjustmentLine
}

// TemplateInput describes a template create or update request.
type TemplateInput struct {
	CompanyID   *int64
	ActorID     int64
	Name        string
	Description string
	Frequency   Frequency
	IsDefault   bool
	Tasks       []TemplateTaskInput
}

// TemplateTaskInput describes one task of a template request. A zero ID creates a new task.
type TemplateTaskInput struct {
	ID           int64
	Code         string
	Title        string
	Category     TaskCategory
	Sequence     int
	IsRequired   bool
	DefaultNotes string
}
