package close

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func monthlyTemplate(company *int64, name string, isDefault bool, codes ...string) TemplateInput {
	in := TemplateInput{CompanyID: company, ActorID: 7, Name: name, Frequency: FrequencyMonthly, IsDefault: isDefault}
	for i, code := range codes {
		in.Tasks = append(in.Tasks, TemplateTaskInput{Code: code, Title: "Task " + code, Category: CategoryOther, Sequence: i + 1, IsRequired: true})
	}
	return in
}

func TestDefaultTemplateIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := int64(1)

	y, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Y", true, "Y1"))
	require.NoError(t, err)
	x, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "X", false, "X1"))
	require.NoError(t, err)
	require.True(t, f.repo.templates[y.ID].IsDefault)

	updated, err := f.svc.UpdateTemplate(ctx, x.ID, TemplateInput{
		CompanyID: &company, ActorID: 7, Name: "X", Frequency: FrequencyMonthly, IsDefault: true,
		Tasks: []TemplateTaskInput{{ID: x.Tasks[0].ID, Code: "X1", Title: "Task X1", Category: CategoryOther, Sequence: 1}},
	})
	require.NoError(t, err)
	require.True(t, updated.IsDefault)
	require.False(t, f.repo.templates[y.ID].IsDefault)

	other := int64(2)
	z, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&other, "Z", true, "Z1"))
	require.NoError(t, err)
	require.True(t, f.repo.templates[z.ID].IsDefault)
	require.True(t, f.repo.templates[x.ID].IsDefault)
}

func TestUpdateTemplateDiffsTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := int64(1)
	tpl, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Monthly", false, "A", "B"))
	require.NoError(t, err)
	a, b := tpl.Tasks[0], tpl.Tasks[1]

	updated, err := f.svc.UpdateTemplate(ctx, tpl.ID, TemplateInput{
		CompanyID: &company, ActorID: 7, Name: "Monthly v2", Frequency: FrequencyMonthly,
		Tasks: []TemplateTaskInput{
			{Code: "C", Title: "New first", Category: CategoryCompliance, Sequence: 1},
			{ID: a.ID, Code: "A", Title: "Renamed", Category: CategoryOther, Sequence: 2, IsRequired: true},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Monthly v2", updated.Name)
	require.Len(t, updated.Tasks, 2)
	require.Equal(t, "C", updated.Tasks[0].Code)
	require.Equal(t, a.ID, updated.Tasks[1].ID)
	require.Equal(t, "Renamed", updated.Tasks[1].Title)
	require.NotContains(t, f.repo.templateTasks, b.ID)

	payload := f.events.events[len(f.events.events)-1].Payload
	require.Equal(t, 1, payload["created"])
	require.Equal(t, 1, payload["deleted"])
	require.Equal(t, 1, payload["updated"])

	_, err = f.svc.UpdateTemplate(ctx, tpl.ID, TemplateInput{
		CompanyID: &company, ActorID: 7, Name: "Monthly", Frequency: FrequencyMonthly,
		Tasks: []TemplateTaskInput{{ID: 424242, Code: "A", Title: "A", Category: CategoryOther, Sequence: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Len(t, f.repo.withTemplateTasks(f.repo.templates[tpl.ID]).Tasks, 2)
}

func TestUpdateTemplateReusesRemovedCode(t *testing.T) {
	f := newFixture(t)
	f.repo.immediateCodes = true
	ctx := context.Background()
	company := int64(1)
	tpl, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Monthly", false, "A", "B", "C"))
	require.NoError(t, err)
	a, b, c := tpl.Tasks[0], tpl.Tasks[1], tpl.Tasks[2]

	// A takes over B's code and a new task takes over C's while B and C go.
	updated, err := f.svc.UpdateTemplate(ctx, tpl.ID, TemplateInput{
		CompanyID: &company, ActorID: 7, Name: "Monthly", Frequency: FrequencyMonthly,
		Tasks: []TemplateTaskInput{
			{ID: a.ID, Code: "B", Title: "Task B", Category: CategoryOther, Sequence: 1},
			{Code: "C", Title: "Task C again", Category: CategoryOther, Sequence: 2},
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.Tasks, 2)
	require.Equal(t, a.ID, updated.Tasks[0].ID)
	require.Equal(t, "B", updated.Tasks[0].Code)
	require.Equal(t, "C", updated.Tasks[1].Code)
	require.NotContains(t, f.repo.templateTasks, b.ID)
	require.NotContains(t, f.repo.templateTasks, c.ID)
}

func TestUpdateTemplateSwapsCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := int64(1)
	tpl, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Monthly", false, "A", "B"))
	require.NoError(t, err)
	a, b := tpl.Tasks[0], tpl.Tasks[1]

	updated, err := f.svc.UpdateTemplate(ctx, tpl.ID, TemplateInput{
		CompanyID: &company, ActorID: 7, Name: "Monthly", Frequency: FrequencyMonthly,
		Tasks: []TemplateTaskInput{
			{ID: a.ID, Code: "B", Title: "Task B", Category: CategoryOther, Sequence: 1},
			{ID: b.ID, Code: "A", Title: "Task A", Category: CategoryOther, Sequence: 2},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "B", f.repo.templateTasks[a.ID].Code)
	require.Equal(t, "A", f.repo.templateTasks[b.ID].Code)
	require.Len(t, updated.Tasks, 2)
}

func TestUpdateTemplateRejectsCommittedDuplicateCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := int64(1)
	tpl, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Monthly", false, "A", "B"))
	require.NoError(t, err)

	err = f.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		task := tpl.Tasks[1]
		task.Code = "A"
		return tx.UpdateTemplateTask(ctx, task)
	})
	require.Error(t, err)
	require.Equal(t, "B", f.repo.templateTasks[tpl.Tasks[1].ID].Code)
}

func TestValidateTemplateInput(t *testing.T) {
	cases := []struct {
		name  string
		in    TemplateInput
		field string
	}{
		{"missing name", TemplateInput{Frequency: FrequencyMonthly, Tasks: monthlyTemplate(nil, "", false, "A").Tasks}, "name"},
		{"bad frequency", TemplateInput{Name: "T", Frequency: "weekly", Tasks: monthlyTemplate(nil, "", false, "A").Tasks}, "frequency"},
		{"no tasks", TemplateInput{Name: "T", Frequency: FrequencyMonthly}, "tasks"},
		{"duplicate code", monthlyTemplate(nil, "T", false, "A", "a"), "tasks[1].code"},
		{"gap in sequence", TemplateInput{Name: "T", Frequency: FrequencyMonthly, Tasks: []TemplateTaskInput{
			{Code: "A", Title: "A", Category: CategoryOther, Sequence: 1},
			{Code: "B", Title: "B", Category: CategoryOther, Sequence: 3},
		}}, "tasks.sequence"},
		{"duplicate sequence", TemplateInput{Name: "T", Frequency: FrequencyMonthly, Tasks: []TemplateTaskInput{
			{Code: "A", Title: "A", Category: CategoryOther, Sequence: 1},
			{Code: "B", Title: "B", Category: CategoryOther, Sequence: 1},
		}}, "tasks[1].sequence"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateTemplateInput(tc.in)
			var inErr *InputError
			require.ErrorAs(t, err, &inErr)
			require.Contains(t, inErr.Fields, tc.field)
		})
	}
	require.NoError(t, validateTemplateInput(monthlyTemplate(nil, "T", true, "A", "B", "C")))
	require.NoError(t, validateTemplateInput(monthlyTemplate(nil, strings.Repeat("Ä", 255), false, strings.Repeat("Ü", 50))))
}

func TestArchiveTemplateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := int64(1)
	used, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Used", true, "U1"))
	require.NoError(t, err)

	_, err = f.svc.ArchiveTemplate(ctx, used.ID, 7)
	requireGuard(t, err, "at least one other active template must remain")

	spare, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Spare", false, "S1"))
	require.NoError(t, err)
	f.start(t)

	_, err = f.svc.ArchiveTemplate(ctx, used.ID, 7)
	requireGuard(t, err, "used by 1 active period closes")

	archived, err := f.svc.ArchiveTemplate(ctx, spare.ID, 7)
	require.NoError(t, err)
	require.False(t, archived.Active)
	require.False(t, archived.IsDefault)

	_, err = f.svc.ArchiveTemplate(ctx, spare.ID, 7)
	requireGuard(t, err, "already archived")

	listed, err := f.svc.ListTemplates(ctx, TemplateFilter{CompanyID: &company})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	listed, err = f.svc.ListTemplates(ctx, TemplateFilter{CompanyID: &company, IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestSyncTemplateKeepsManualTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := int64(1)
	first, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "First", true, "A", "B"))
	require.NoError(t, err)
	second, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Second", false, "C", "D", "E"))
	require.NoError(t, err)

	c := f.start(t)
	require.Equal(t, first.ID, *c.TemplateID)
	manual, err := f.svc.AddTask(ctx, NewTaskInput{CloseID: c.ID, ActorID: 7, Code: "M", Title: "Manual", Category: CategoryOther})
	require.NoError(t, err)
	_, err = f.svc.UpdateTask(ctx, TaskUpdateInput{CloseID: c.ID, TaskID: manual.ID, ActorID: 7, Status: TaskStatusCompleted})
	require.NoError(t, err)

	synced, err := f.svc.SyncTemplate(ctx, c.ID, second.ID, 7)
	require.NoError(t, err)
	require.Equal(t, second.ID, *synced.TemplateID)

	codes := make([]string, 0, len(synced.Tasks))
	for i, task := range synced.Tasks {
		require.Equal(t, i+1, task.Sequence)
		codes = append(codes, task.Code)
	}
	require.Equal(t, []string{"C", "D", "E", "M"}, codes)
	require.Equal(t, TaskStatusCompleted, synced.Tasks[3].Status)
	require.Equal(t, EventTemplateSynced, f.events.names()[len(f.events.events)-1])
}

func TestSyncTemplatePreservesProgressOnResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := int64(1)
	tpl, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Monthly", true, "A", "B"))
	require.NoError(t, err)
	c := f.start(t)
	_, err = f.svc.UpdateTask(ctx, TaskUpdateInput{CloseID: c.ID, TaskID: c.Tasks[1].ID, ActorID: 7, Status: TaskStatusCompleted})
	require.NoError(t, err)

	_, err = f.svc.UpdateTemplate(ctx, tpl.ID, TemplateInput{
		CompanyID: &company, ActorID: 7, Name: "Monthly", Frequency: FrequencyMonthly, IsDefault: true,
		Tasks: []TemplateTaskInput{
			{ID: tpl.Tasks[1].ID, Code: "B", Title: "B first now", Category: CategoryOther, Sequence: 1, IsRequired: true},
			{ID: tpl.Tasks[0].ID, Code: "A", Title: "A second", Category: CategoryOther, Sequence: 2, IsRequired: true},
		},
	})
	require.NoError(t, err)

	synced, err := f.svc.SyncTemplate(ctx, c.ID, tpl.ID, 7)
	require.NoError(t, err)
	require.Len(t, synced.Tasks, 2)
	require.Equal(t, "B", synced.Tasks[0].Code)
	require.Equal(t, "B first now", synced.Tasks[0].Title)
	require.Equal(t, TaskStatusCompleted, synced.Tasks[0].Status)
	require.Equal(t, c.Tasks[1].ID, synced.Tasks[0].ID)
}

func TestSyncTemplateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := int64(2)
	foreign, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&other, "Foreign", false, "F"))
	require.NoError(t, err)
	c := f.start(t)

	_, err = f.svc.SyncTemplate(ctx, c.ID, foreign.ID, 7)
	require.ErrorIs(t, err, ErrNotFound)

	f.completeTasks(t, c, true)
	f.lock(t, c.ID)
	company := int64(1)
	own, err := f.svc.CreateTemplate(ctx, monthlyTemplate(&company, "Own", false, "O"))
	require.NoError(t, err)
	_, err = f.svc.SyncTemplate(ctx, c.ID, own.ID, 7)
	requireGuard(t, err, "close status is locked")
}

func TestResequence(t *testing.T) {
	got := Resequence([]Task{
		{ID: 3, Code: "c", Sequence: 5},
		{ID: 1, Code: "a", Sequence: 2},
		{ID: 2, Code: "b", Sequence: 2},
	})
	require.Equal(t, "a", got[0].Code)
	require.Equal(t, "b", got[1].Code)
	require.Equal(t, "c", got[2].Code)
	for i, task := range got {
		require.Equal(t, i+1, task.Sequence)
	}
}

func TestMergeTemplate(t *testing.T) {
	tt1, tt2 := int64(11), int64(12)
	tasks := []Task{
		{ID: 1, Code: "OLD", Sequence: 1, TemplateTaskID: &tt1},
		{ID: 2, Code: "KEEP", Sequence: 2, TemplateTaskID: &tt2, Status: TaskStatusCompleted},
		{ID: 3, Code: "MAN", Sequence: 3},
	}
	blueprint := []TemplateTask{
		{ID: 13, Code: "NEW", Sequence: 2},
		{ID: 12, Code: "KEEP", Title: "Kept", Sequence: 1},
	}

	merged, inserts, deletes := mergeTemplate(tasks, blueprint)
	require.Equal(t, []int64{1}, deletes)
	require.Len(t, inserts, 1)
	require.Equal(t, "NEW", inserts[0].Code)
	require.Equal(t, 2, inserts[0].Sequence)
	require.Len(t, merged, 3)
	require.Equal(t, int64(2), merged[0].ID)
	require.Equal(t, "Kept", merged[0].Title)
	require.Equal(t, TaskStatusCompleted, merged[0].Status)
	require.Equal(t, "MAN", merged[2].Code)
	require.Equal(t, 3, merged[2].Sequence)
}
