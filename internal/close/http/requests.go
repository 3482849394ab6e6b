package closehttp

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/close"
)

type startRequest struct {
	CompanyID int64  `json:"company_id" validate:"required,gt=0"`
	PeriodID  int64  `json:"period_id" validate:"required,gt=0"`
	Notes     string `json:"notes" validate:"max=2000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type completeRequest struct {
	Summary string `json:"summary" validate:"max=4000"`
}

type reopenRequest struct {
	Reason      string    `json:"reason" validate:"required"`
	ReopenUntil time.Time `json:"reopen_until" validate:"required"`
}

type newTaskRequest struct {
	Code       string `json:"code" validate:"required,max=64"`
	Title      string `json:"title" validate:"required,max=200"`
	Category   string `json:"category" validate:"required,oneof=trial_balance reconciliations adjustments compliance reporting other"`
	IsRequired bool   `json:"is_required"`
	Notes      string `json:"notes" validate:"max=2000"`
}

type taskUpdateRequest struct {
	Status string  `json:"status" validate:"required,oneof=pending in_progress completed blocked waived"`
	Notes  *string `json:"notes" validate:"omitempty,max=2000"`
}

type adjustmentLineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description" validate:"max=500"`
}

type adjustmentRequest struct {
	Reference   string                  `json:"reference" validate:"required,max=64"`
	Description string                  `json:"description" validate:"required,max=500"`
	Date        *time.Time              `json:"date"`
	Lines       []adjustmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type decisionRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note" validate:"max=500"`
}

type syncTemplateRequest struct {
	TemplateID int64 `json:"template_id" validate:"required,gt=0"`
}

type templateTaskRequest struct {
	ID           int64  `json:"id" validate:"gte=0"`
	Code         string `json:"code" validate:"required,max=64"`
	Title        string `json:"title" validate:"required,max=200"`
	Category     string `json:"category" validate:"required,oneof=trial_balance reconciliations adjustments compliance reporting other"`
	Sequence     int    `json:"sequence" validate:"gte=0"`
	IsRequired   bool   `json:"is_required"`
	DefaultNotes string `json:"default_notes" validate:"max=2000"`
}

type templateRequest struct {
	CompanyID   *int64                `json:"company_id" validate:"omitempty,gt=0"`
	Name        string                `json:"name" validate:"required,max=120"`
	Description string                `json:"description" validate:"max=1000"`
	Frequency   string                `json:"frequency" validate:"required,oneof=monthly quarterly yearly custom"`
	IsDefault   bool                  `json:"is_default"`
	Tasks       []templateTaskRequest `json:"tasks" validate:"dive"`
}

func (r templateRequest) input(actorID int64) close.TemplateInput {
	tasks := make([]close.TemplateTaskInput, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		tasks = append(tasks, close.TemplateTaskInput{
			ID:           t.ID,
			Code:         t.Code,
			Title:        t.Title,
			Category:     close.TaskCategory(t.Category),
			Sequence:     t.Sequence,
			IsRequired:   t.IsRequired,
			DefaultNotes: t.DefaultNotes,
		})
	}
	return close.TemplateInput{
		CompanyID:   r.CompanyID,
		ActorID:     actorID,
		Name:        r.Name,
		Description: r.Description,
		Frequency:   close.Frequency(r.Frequency),
		IsDefault:   r.IsDefault,
		Tasks:       tasks,
	}
}
