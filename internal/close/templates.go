package close

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/odyssey-erp/odyssey-close/internal/ids"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// ListTemplates returns templates visible for the filter.
func (s *Service) ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error) {
	return s.repo.ListTemplates(ctx, filter)
}

// GetTemplate returns a template with its tasks.
func (s *Service) GetTemplate(ctx context.Context, id int64) (Template, error) {
	return s.repo.GetTemplate(ctx, id)
}

// CreateTemplate stores a new template. A default template clears the
// default flag of its siblings in the same transaction.
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (Template, error) {
	if err := validateTemplateInput(in); err != nil {
		return Template{}, err
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseTemplates); err != nil {
		return Template{}, err
	}
	var created Template
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertTemplate(ctx, Template{
			CompanyID:   in.CompanyID,
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			Frequency:   in.Frequency,
			IsDefault:   in.IsDefault,
			Active:      true,
		})
		if err != nil {
			return err
		}
		created.Tasks, err = tx.InsertTemplateTasks(ctx, created.ID, templateTasks(in.Tasks))
		if err != nil {
			return err
		}
		if created.IsDefault {
			return tx.ClearDefaultTemplates(ctx, created.CompanyID, created.Frequency, created.ID)
		}
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	s.emit(ctx, templateEvent(EventTemplateUpdated, created, in.ActorID, s.now(), map[string]any{"created": true}))
	return created, nil
}

// UpdateTemplate replaces the template definition, diffing its task list:
// incoming tasks with an id update, tasks without one are created and
// existing tasks missing from the request are deleted.
func (s *Service) UpdateTemplate(ctx context.Context, id int64, in TemplateInput) (Template, error) {
	if err := validateTemplateInput(in); err != nil {
		return Template{}, err
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseTemplates); err != nil {
		return Template{}, err
	}
	var (
		updated Template
		stats   = map[string]any{}
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tpl, err := tx.GetTemplateForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !tpl.Active {
			return guardErr("update template", "template is archived")
		}
		existing := make(map[int64]TemplateTask, len(tpl.Tasks))
		for _, t := range tpl.Tasks {
			existing[t.ID] = t
		}
		keep := map[int64]bool{}
		var updates, inserts []TemplateTask
		for _, incoming := range in.Tasks {
			task := templateTask(incoming)
			if incoming.ID == 0 {
				inserts = append(inserts, task)
				continue
			}
			if _, ok := existing[incoming.ID]; !ok {
				return inputErr("unknown template task", map[string]string{
					"tasks": fmt.Sprintf("task %d does not belong to template %d", incoming.ID, id),
				})
			}
			task.ID = incoming.ID
			task.TemplateID = id
			keep[incoming.ID] = true
			updates = append(updates, task)
		}
		var deletes []int64
		for _, t := range tpl.Tasks {
			if !keep[t.ID] {
				deletes = append(deletes, t.ID)
			}
		}
		// Removed rows go first so a kept or new task may take over their code.
		if len(deletes) > 0 {
			if err := tx.DeleteTemplateTasks(ctx, deletes); err != nil {
				return err
			}
		}
		for _, task := range updates {
			if err := tx.UpdateTemplateTask(ctx, task); err != nil {
				return err
			}
		}
		if len(inserts) > 0 {
			if _, err := tx.InsertTemplateTasks(ctx, id, inserts); err != nil {
				return err
			}
		}
		stats["updated"] = len(updates)
		stats["created"] = len(inserts)
		stats["deleted"] = len(deletes)

		tpl.Name = strings.TrimSpace(in.Name)
		tpl.Description = in.Description
		tpl.Frequency = in.Frequency
		tpl.IsDefault = in.IsDefault
		if err := tx.UpdateTemplate(ctx, tpl); err != nil {
			return err
		}
		if tpl.IsDefault {
			if err := tx.ClearDefaultTemplates(ctx, tpl.CompanyID, tpl.Frequency, tpl.ID); err != nil {
				return err
			}
		}
		updated, err = tx.GetTemplateForUpdate(ctx, id)
		return err
	})
	if err != nil {
		return Template{}, err
	}
	s.emit(ctx, templateEvent(EventTemplateUpdated, updated, in.ActorID, s.now(), stats))
	return updated, nil
}

// ArchiveTemplate deactivates a template that no active close uses.
func (s *Service) ArchiveTemplate(ctx context.Context, id, actorID int64) (Template, error) {
	if err := s.authorize(ctx, actorID, shared.PermPeriodCloseTemplates); err != nil {
		return Template{}, err
	}
	var archived Template
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tpl, err := tx.GetTemplateForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !tpl.Active {
			return guardErr("archive template", "template is already archived")
		}
		usages, err := tx.CountActiveTemplateUsages(ctx, id)
		if err != nil {
			return err
		}
		if usages > 0 {
			return guardErr("archive template", fmt.Sprintf("template is used by %d active period closes", usages))
		}
		others, err := tx.CountOtherActiveTemplates(ctx, tpl.CompanyID, id)
		if err != nil {
			return err
		}
		if others == 0 {
			return guardErr("archive template", "at least one other active template must remain")
		}
		tpl.Active = false
		tpl.IsDefault = false
		if err := tx.UpdateTemplate(ctx, tpl); err != nil {
			return err
		}
		archived = tpl
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	s.emit(ctx, templateEvent(EventTemplateArchived, archived, actorID, s.now(), nil))
	return archived, nil
}

// SyncTemplate applies a template onto a close under review. Template-derived
// tasks are matched by template task id; manually added tasks are kept and
// ordered after the template tasks.
func (s *Service) SyncTemplate(ctx context.Context, closeID, templateID, actorID int64) (PeriodClose, error) {
	if err := s.authorize(ctx, actorID, shared.PermPeriodCloseTemplates); err != nil {
		return PeriodClose{}, err
	}
	var (
		updated PeriodClose
		stats   = map[string]any{}
	)
	err := s.transition(ctx, closeID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, closeID)
		if err != nil {
			return err
		}
		if !cur.Status.Reviewable() {
			return guardErr("sync template", fmt.Sprintf("close status is %s", cur.Status))
		}
		tpl, err := tx.GetTemplateForUpdate(ctx, templateID)
		if err != nil {
			return err
		}
		if !tpl.Active {
			return guardErr("sync template", "template is archived")
		}
		if tpl.CompanyID != nil && *tpl.CompanyID != cur.CompanyID {
			return fmt.Errorf("%w: template %d for company %d", ErrNotFound, templateID, cur.CompanyID)
		}
		tasks, err := tx.ListTasks(ctx, closeID)
		if err != nil {
			return err
		}
		merged, inserts, deletes := mergeTemplate(tasks, tpl.Tasks)
		if len(deletes) > 0 {
			if err := tx.DeleteTasks(ctx, deletes); err != nil {
				return err
			}
		}
		for _, t := range merged {
			if t.ID == 0 {
				continue
			}
			if err := tx.UpdateTask(ctx, t); err != nil {
				return err
			}
		}
		if len(inserts) > 0 {
			if _, err := tx.InsertTasks(ctx, closeID, inserts); err != nil {
				return err
			}
		}
		stats["created"] = len(inserts)
		stats["deleted"] = len(deletes)
		stats["template_id"] = templateID

		tplID := tpl.ID
		cur.TemplateID = &tplID
		s.appendAudit(&cur, "template_synced", actorID, "", "", stats)
		updated, err = tx.UpdateClose(ctx, cur)
		if err != nil {
			return err
		}
		updated.Tasks, err = tx.ListTasks(ctx, closeID)
		return err
	})
	if err != nil {
		return PeriodClose{}, err
	}
	s.emit(ctx, newEvent(EventTemplateSynced, updated, actorID, s.now(), stats))
	return updated, nil
}

// mergeTemplate computes the synced checklist. merged holds every surviving
// task with its final sequence; inserts are the new ones, deletes the ids of
// template-derived tasks no longer in the template.
func mergeTemplate(tasks []Task, blueprint []TemplateTask) (merged, inserts []Task, deletes []int64) {
	byTemplateTask := map[int64]Task{}
	var manual []Task
	for _, t := range tasks {
		if t.FromTemplate() {
			byTemplateTask[*t.TemplateTaskID] = t
		} else {
			manual = append(manual, t)
		}
	}
	ordered := make([]TemplateTask, len(blueprint))
	copy(ordered, blueprint)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	seen := map[int64]bool{}
	seq := 0
	for _, tt := range ordered {
		seq++
		seen[tt.ID] = true
		if t, ok := byTemplateTask[tt.ID]; ok {
			t.Code = tt.Code
			t.Title = tt.Title
			t.Category = tt.Category
			t.IsRequired = tt.IsRequired
			t.Sequence = seq
			merged = append(merged, t)
			continue
		}
		id := tt.ID
		t := Task{
			Code:           tt.Code,
			Title:          tt.Title,
			Category:       tt.Category,
			Sequence:       seq,
			IsRequired:     tt.IsRequired,
			Status:         TaskStatusPending,
			Notes:          tt.DefaultNotes,
			TemplateTaskID: &id,
		}
		merged = append(merged, t)
		inserts = append(inserts, t)
	}
	for _, t := range Resequence(manual) {
		seq++
		t.Sequence = seq
		merged = append(merged, t)
	}
	for ttID, t := range byTemplateTask {
		if !seen[ttID] {
			deletes = append(deletes, t.ID)
		}
	}
	sort.Slice(deletes, func(i, j int) bool { return deletes[i] < deletes[j] })
	return merged, inserts, deletes
}

func validateTemplateInput(in TemplateInput) error {
	fields := map[string]string{}
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(name) > 255 {
		fields["name"] = "required, max 255 characters"
	}
	if !in.Frequency.Valid() {
		fields["frequency"] = "must be monthly, quarterly, yearly or custom"
	}
	if len(in.Tasks) == 0 {
		fields["tasks"] = "at least one task is required"
	}
	codes := map[string]bool{}
	seqs := map[int]bool{}
	for i, t := range in.Tasks {
		key := fmt.Sprintf("tasks[%d]", i)
		code := strings.ToUpper(strings.TrimSpace(t.Code))
		if code == "" || utf8.RuneCountInString(code) > 50 {
			fields[key+".code"] = "required, max 50 characters"
		} else if codes[code] {
			fields[key+".code"] = "duplicate code " + t.Code
		}
		codes[code] = true
		if strings.TrimSpace(t.Title) == "" || utf8.RuneCountInString(t.Title) > 255 {
			fields[key+".title"] = "required, max 255 characters"
		}
		if !t.Category.Valid() {
			fields[key+".category"] = "unknown category"
		}
		if seqs[t.Sequence] {
			fields[key+".sequence"] = fmt.Sprintf("duplicate sequence %d", t.Sequence)
		}
		seqs[t.Sequence] = true
	}
	if len(in.Tasks) > 0 {
		for n := 1; n <= len(in.Tasks); n++ {
			if !seqs[n] {
				fields["tasks.sequence"] = fmt.Sprintf("sequences must be contiguous from 1 to %d", len(in.Tasks))
				break
			}
		}
	}
	if len(fields) > 0 {
		return inputErr("invalid template", fields)
	}
	return nil
}

func templateTask(in TemplateTaskInput) TemplateTask {
	return TemplateTask{
		Code:         strings.TrimSpace(in.Code),
		Title:        strings.TrimSpace(in.Title),
		Category:     in.Category,
		Sequence:     in.Sequence,
		IsRequired:   in.IsRequired,
		DefaultNotes: in.DefaultNotes,
	}
}

func templateTasks(in []TemplateTaskInput) []TemplateTask {
	out := make([]TemplateTask, 0, len(in))
	for _, t := range in {
		out = append(out, templateTask(t))
	}
	return out
}

func templateEvent(name string, tpl Template, actorID int64, at time.Time, payload map[string]any) Event {
	ev := Event{
		ID:         ids.At(at),
		Name:       name,
		TemplateID: tpl.ID,
		ActorID:    actorID,
		OccurredAt: at,
		Payload:    payload,
	}
	if tpl.CompanyID != nil {
		ev.CompanyID = *tpl.CompanyID
	}
	return ev
}
