package close

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

var builtinTasks = []TemplateTask{
	{Code: "TB-01", Title: "Review trial balance", Category: CategoryTrialBalance, IsRequired: true},
	{Code: "TB-02", Title: "Investigate trial balance variances", Category: CategoryTrialBalance, IsRequired: true},
	{Code: "REC-01", Title: "Reconcile bank accounts", Category: CategoryReconciliations, IsRequired: true},
	{Code: "REC-02", Title: "Reconcile accounts receivable subledger", Category: CategoryReconciliations, IsRequired: true},
	{Code: "REC-03", Title: "Reconcile accounts payable subledger", Category: CategoryReconciliations, IsRequired: true},
	{Code: "ADJ-01", Title: "Record accruals and period adjustments", Category: CategoryAdjustments, IsRequired: true},
	{Code: "CMP-01", Title: "Review tax and compliance filings", Category: CategoryCompliance},
	{Code: "RPT-01", Title: "Prepare management reports", Category: CategoryReporting},
}

// BuiltinTasks returns the checklist used when no template applies.
func BuiltinTasks() []TemplateTask {
	out := make([]TemplateTask, len(builtinTasks))
	copy(out, builtinTasks)
	for i := range out {
		out[i].Sequence = i + 1
	}
	return out
}

// resolveTasks picks the company default for the cadence, then the system
// default, then the built-in list.
func (s *Service) resolveTasks(ctx context.Context, tx TxRepository, period AccountingPeriod) ([]Task, *int64, error) {
	cadence := period.Cadence()
	companyID := period.CompanyID
	for _, scope := range []*int64{&companyID, nil} {
		tpl, ok, err := tx.FindDefaultTemplate(ctx, scope, cadence)
		if err != nil {
			return nil, nil, err
		}
		if ok && tpl.Active && len(tpl.Tasks) > 0 {
			id := tpl.ID
			return tasksFromTemplate(tpl.Tasks, true), &id, nil
		}
	}
	return tasksFromTemplate(BuiltinTasks(), false), nil, nil
}

func tasksFromTemplate(blueprint []TemplateTask, link bool) []Task {
	ordered := make([]TemplateTask, len(blueprint))
	copy(ordered, blueprint)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })
	tasks := make([]Task, 0, len(ordered))
	for i, tt := range ordered {
		t := Task{
			Code:       tt.Code,
			Title:      tt.Title,
			Category:   tt.Category,
			Sequence:   i + 1,
			IsRequired: tt.IsRequired,
			Status:     TaskStatusPending,
			Notes:      tt.DefaultNotes,
		}
		if link {
			id := tt.ID
			t.TemplateTaskID = &id
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// Resequence orders tasks by sequence, breaking ties by id, and renumbers them 1..N.
func Resequence(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	for i := range out {
		out[i].Sequence = i + 1
	}
	return out
}

// UpdateTask changes the status or notes of a checklist item.
func (s *Service) UpdateTask(ctx context.Context, in TaskUpdateInput) (Task, error) {
	if in.CloseID <= 0 || in.TaskID <= 0 {
		return Task{}, inputErr("task update requires close and task", nil)
	}
	if !in.Status.Valid() {
		return Task{}, inputErr("unknown task status", map[string]string{"status": fmt.Sprintf("%q is not a task status", in.Status)})
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseTasksUpdate); err != nil {
		return Task{}, err
	}
	now := s.now()
	var (
		updated Task
		owner   PeriodClose
	)
	err := s.transition(ctx, in.CloseID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, in.CloseID)
		if err != nil {
			return err
		}
		if !cur.Status.Reviewable() {
			return guardErr("update task", fmt.Sprintf("close status is %s", cur.Status))
		}
		tasks, err := tx.ListTasks(ctx, in.CloseID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range tasks {
			if tasks[i].ID == in.TaskID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: task %d in close %d", ErrNotFound, in.TaskID, in.CloseID)
		}
		task := tasks[idx]
		from := task.Status
		task.Status = in.Status
		if in.Notes != nil {
			task.Notes = *in.Notes
		}
		if in.Status == TaskStatusCompleted {
			if from != TaskStatusCompleted {
				actor := in.ActorID
				task.CompletedBy = &actor
				task.CompletedAt = &now
			}
		} else {
			task.CompletedBy = nil
			task.CompletedAt = nil
		}
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		s.appendAudit(&cur, "task_updated", in.ActorID, "", "", map[string]any{
			"task_id": task.ID,
			"code":    task.Code,
			"from":    string(from),
			"to":      string(task.Status),
		})
		owner, err = tx.UpdateClose(ctx, cur)
		updated = task
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.emit(ctx, newEvent(EventTaskUpdated, owner, in.ActorID, now, map[string]any{
		"task_id": updated.ID,
		"code":    updated.Code,
		"status":  string(updated.Status),
	}))
	return updated, nil
}

// AddTask appends a manually created task to the checklist.
func (s *Service) AddTask(ctx context.Context, in NewTaskInput) (Task, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Title = strings.TrimSpace(in.Title)
	fields := map[string]string{}
	if in.Code == "" || utf8.RuneCountInString(in.Code) > 50 {
		fields["code"] = "required, max 50 characters"
	}
	if in.Title == "" || utf8.RuneCountInString(in.Title) > 255 {
		fields["title"] = "required, max 255 characters"
	}
	if !in.Category.Valid() {
		fields["category"] = "unknown category"
	}
	if len(fields) > 0 {
		return Task{}, inputErr("invalid task", fields)
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseTasksUpdate); err != nil {
		return Task{}, err
	}
	var created Task
	err := s.transition(ctx, in.CloseID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, in.CloseID)
		if err != nil {
			return err
		}
		if !cur.Status.Reviewable() {
			return guardErr("add task", fmt.Sprintf("close status is %s", cur.Status))
		}
		tasks, err := tx.ListTasks(ctx, in.CloseID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if strings.EqualFold(t.Code, in.Code) {
				return inputErr("duplicate task code", map[string]string{"code": in.Code + " already exists"})
			}
		}
		if err := s.applySequence(ctx, tx, tasks); err != nil {
			return err
		}
		inserted, err := tx.InsertTasks(ctx, in.CloseID, []Task{{
			Code:       in.Code,
			Title:      in.Title,
			Category:   in.Category,
			Sequence:   len(tasks) + 1,
			IsRequired: in.IsRequired,
			Status:     TaskStatusPending,
			Notes:      in.Notes,
		}})
		if err != nil {
			return err
		}
		created = inserted[0]
		s.appendAudit(&cur, "task_added", in.ActorID, "", "", map[string]any{"code": created.Code})
		_, err = tx.UpdateClose(ctx, cur)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return created, nil
}

// applySequence renumbers tasks 1..N and writes the ones that moved.
func (s *Service) applySequence(ctx context.Context, tx TxRepository, tasks []Task) error {
	before := make(map[int64]int, len(tasks))
	for _, t := range tasks {
		before[t.ID] = t.Sequence
	}
	for _, t := range Resequence(tasks) {
		if before[t.ID] == t.Sequence {
			continue
		}
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
