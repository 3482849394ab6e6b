package close

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

type memoryState struct {
	periods       map[int64]AccountingPeriod
	years         map[int64]FiscalYear
	closes        map[int64]PeriodClose
	tasks         map[int64]Task
	templates     map[int64]Template
	templateTasks map[int64]TemplateTask
	adjustments   map[int64]Adjustment
	accounts      map[int64]int64
	unposted      map[int64]int
	nextID        int64
}

func (s memoryState) clone() memoryState {
	return memoryState{
		periods:       maps.Clone(s.periods),
		years:         maps.Clone(s.years),
		closes:        maps.Clone(s.closes),
		tasks:         maps.Clone(s.tasks),
		templates:     maps.Clone(s.templates),
		templateTasks: maps.Clone(s.templateTasks),
		adjustments:   maps.Clone(s.adjustments),
		accounts:      maps.Clone(s.accounts),
		unposted:      maps.Clone(s.unposted),
		nextID:        s.nextID,
	}
}

// memoryRepo implements Repository and TxRepository. WithTx restores the
// previous state when fn fails.
type memoryRepo struct {
	mu sync.Mutex
	memoryState
	txCalls int
	// immediateCodes checks template task code uniqueness after every write
	// instead of at commit.
	immediateCodes bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{memoryState: memoryState{
		periods:       map[int64]AccountingPeriod{},
		years:         map[int64]FiscalYear{},
		closes:        map[int64]PeriodClose{},
		tasks:         map[int64]Task{},
		templates:     map[int64]Template{},
		templateTasks: map[int64]TemplateTask{},
		adjustments:   map[int64]Adjustment{},
		accounts:      map[int64]int64{},
		unposted:      map[int64]int{},
		nextID:        1000,
	}}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCalls++
	saved := r.memoryState.clone()
	err := fn(ctx, r)
	if err == nil {
		err = r.duplicateTemplateCode()
	}
	if err != nil {
		r.memoryState = saved
		return err
	}
	return nil
}

// duplicateTemplateCode enforces uq_template_tasks_code.
func (r *memoryRepo) duplicateTemplateCode() error {
	type key struct {
		template int64
		code     string
	}
	seen := make(map[key]int64, len(r.templateTasks))
	for id, t := range r.templateTasks {
		k := key{t.TemplateID, t.Code}
		if other, ok := seen[k]; ok {
			return fmt.Errorf("uq_template_tasks_code: tasks %d and %d share code %s", other, id, t.Code)
		}
		seen[k] = id
	}
	return nil
}

func (r *memoryRepo) checkCodesNow() error {
	if !r.immediateCodes {
		return nil
	}
	return r.duplicateTemplateCode()
}

func (r *memoryRepo) GetClose(ctx context.Context, id int64) (PeriodClose, error) {
	return r.GetCloseForUpdate(ctx, id)
}

func (r *memoryRepo) GetCloseByPeriod(ctx context.Context, periodID int64) (PeriodClose, error) {
	for _, c := range r.closes {
		if c.PeriodID == periodID {
			return r.withTasks(c), nil
		}
	}
	return PeriodClose{}, fmt.Errorf("%w: close for period %d", ErrNotFound, periodID)
}

func (r *memoryRepo) ListCloses(ctx context.Context, filter ListFilter) ([]PeriodClose, error) {
	var out []PeriodClose
	for _, c := range r.closes {
		if filter.CompanyID != 0 && c.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, r.withTasks(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListLockedBefore(ctx context.Context, cutoff time.Time) ([]PeriodClose, error) {
	var out []PeriodClose
	for _, c := range r.closes {
		if c.Status == StatusLocked && c.LockedAt != nil && c.LockedAt.Before(cutoff) {
			out = append(out, r.withTasks(c))
		}
	}
	return out, nil
}

func (r *memoryRepo) ListReopenedBefore(ctx context.Context, deadline time.Time) ([]PeriodClose, error) {
	var out []PeriodClose
	for _, c := range r.closes {
		if until := c.Metadata.ReopenUntil; c.Status.IsActive() && until != nil && until.Before(deadline) {
			out = append(out, r.withTasks(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetPeriod(ctx context.Context, id int64) (AccountingPeriod, error) {
	return r.GetPeriodForUpdate(ctx, id)
}

func (r *memoryRepo) ListPeriodsByStatus(ctx context.Context, status PeriodStatus) ([]AccountingPeriod, error) {
	var out []AccountingPeriod
	for _, p := range r.periods {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error) {
	var out []Template
	for _, tpl := range r.templates {
		sameCompany := (tpl.CompanyID == nil && filter.CompanyID == nil) ||
			(tpl.CompanyID != nil && filter.CompanyID != nil && *tpl.CompanyID == *filter.CompanyID)
		if !sameCompany && !(filter.IncludeSystem && tpl.CompanyID == nil) {
			continue
		}
		if !tpl.Active && !filter.IncludeArchived {
			continue
		}
		out = append(out, r.withTemplateTasks(tpl))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetTemplate(ctx context.Context, id int64) (Template, error) {
	return r.GetTemplateForUpdate(ctx, id)
}

func (r *memoryRepo) ListAdjustments(ctx context.Context, closeID int64) ([]Adjustment, error) {
	var out []Adjustment
	for _, adj := range r.adjustments {
		if adj.CloseID == closeID {
			out = append(out, adj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JournalEntryID < out[j].JournalEntryID })
	return out, nil
}

func (r *memoryRepo) GetPeriodForUpdate(ctx context.Context, id int64) (AccountingPeriod, error) {
	p, ok := r.periods[id]
	if !ok {
		return AccountingPeriod{}, fmt.Errorf("%w: period %d", ErrNotFound, id)
	}
	return p, nil
}

func (r *memoryRepo) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	fy, ok := r.years[id]
	if !ok {
		return FiscalYear{}, fmt.Errorf("%w: fiscal year %d", ErrNotFound, id)
	}
	return fy, nil
}

func (r *memoryRepo) HasUnclosedPeriodBefore(ctx context.Context, fiscalYearID int64, before time.Time) (bool, error) {
	for _, p := range r.periods {
		if p.FiscalYearID == fiscalYearID && p.EndDate.Before(before) && p.Status != PeriodStatusClosed {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) UpdatePeriodStatus(ctx context.Context, id int64, status PeriodStatus) error {
	p, ok := r.periods[id]
	if !ok {
		return fmt.Errorf("%w: period %d", ErrNotFound, id)
	}
	p.Status = status
	r.periods[id] = p
	return nil
}

func (r *memoryRepo) CloseExistsForPeriod(ctx context.Context, periodID int64) (bool, error) {
	for _, c := range r.closes {
		if c.PeriodID == periodID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) InsertClose(ctx context.Context, c PeriodClose) (PeriodClose, error) {
	c.ID = r.id()
	c.Version = 1
	c.Tasks = nil
	r.closes[c.ID] = c
	return c, nil
}

func (r *memoryRepo) GetCloseForUpdate(ctx context.Context, id int64) (PeriodClose, error) {
	c, ok := r.closes[id]
	if !ok {
		return PeriodClose{}, fmt.Errorf("%w: close %d", ErrNotFound, id)
	}
	return r.withTasks(c), nil
}

func (r *memoryRepo) UpdateClose(ctx context.Context, c PeriodClose) (PeriodClose, error) {
	stored, ok := r.closes[c.ID]
	if !ok {
		return PeriodClose{}, fmt.Errorf("%w: close %d", ErrNotFound, c.ID)
	}
	if stored.Version != c.Version {
		return PeriodClose{}, ErrConcurrentUpdate
	}
	c.Version++
	c.Tasks = nil
	c.AuditTrail = append([]AuditEntry(nil), c.AuditTrail...)
	c.Metadata.ReopenEvents = append([]ReopenEvent(nil), c.Metadata.ReopenEvents...)
	r.closes[c.ID] = c
	return r.withTasks(c), nil
}

func (r *memoryRepo) withTasks(c PeriodClose) PeriodClose {
	c.Tasks, _ = r.ListTasks(context.Background(), c.ID)
	return c
}

func (r *memoryRepo) ListTasks(ctx context.Context, closeID int64) ([]Task, error) {
	var out []Task
	for _, t := range r.tasks {
		if t.CloseID == closeID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryRepo) InsertTasks(ctx context.Context, closeID int64, tasks []Task) ([]Task, error) {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		t.ID = r.id()
		t.CloseID = closeID
		r.tasks[t.ID] = t
		out = append(out, t)
	}
	return out, nil
}

func (r *memoryRepo) UpdateTask(ctx context.Context, task Task) error {
	if _, ok := r.tasks[task.ID]; !ok {
		return fmt.Errorf("%w: task %d", ErrNotFound, task.ID)
	}
	r.tasks[task.ID] = task
	return nil
}

func (r *memoryRepo) DeleteTasks(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		delete(r.tasks, id)
	}
	return nil
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *memoryRepo) FindDefaultTemplate(ctx context.Context, companyID *int64, frequency Frequency) (Template, bool, error) {
	for _, tpl := range r.templates {
		if sameScope(tpl.CompanyID, companyID) && tpl.Frequency == frequency && tpl.IsDefault && tpl.Active {
			return r.withTemplateTasks(tpl), true, nil
		}
	}
	return Template{}, false, nil
}

func (r *memoryRepo) GetTemplateForUpdate(ctx context.Context, id int64) (Template, error) {
	tpl, ok := r.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: template %d", ErrNotFound, id)
	}
	return r.withTemplateTasks(tpl), nil
}

func (r *memoryRepo) withTemplateTasks(tpl Template) Template {
	tpl.Tasks = nil
	for _, t := range r.templateTasks {
		if t.TemplateID == tpl.ID {
			tpl.Tasks = append(tpl.Tasks, t)
		}
	}
	sort.Slice(tpl.Tasks, func(i, j int) bool { return tpl.Tasks[i].Sequence < tpl.Tasks[j].Sequence })
	return tpl
}

func (r *memoryRepo) InsertTemplate(ctx context.Context, tpl Template) (Template, error) {
	tpl.ID = r.id()
	tpl.Tasks = nil
	r.templates[tpl.ID] = tpl
	return tpl, nil
}

func (r *memoryRepo) UpdateTemplate(ctx context.Context, tpl Template) error {
	tpl.Tasks = nil
	r.templates[tpl.ID] = tpl
	return nil
}

func (r *memoryRepo) ClearDefaultTemplates(ctx context.Context, companyID *int64, frequency Frequency, exceptID int64) error {
	for id, tpl := range r.templates {
		if id != exceptID && sameScope(tpl.CompanyID, companyID) && tpl.Frequency == frequency {
			tpl.IsDefault = false
			r.templates[id] = tpl
		}
	}
	return nil
}

func (r *memoryRepo) InsertTemplateTasks(ctx context.Context, templateID int64, tasks []TemplateTask) ([]TemplateTask, error) {
	out := make([]TemplateTask, 0, len(tasks))
	for _, t := range tasks {
		t.ID = r.id()
		t.TemplateID = templateID
		r.templateTasks[t.ID] = t
		out = append(out, t)
	}
	if err := r.checkCodesNow(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *memoryRepo) UpdateTemplateTask(ctx context.Context, task TemplateTask) error {
	r.templateTasks[task.ID] = task
	return r.checkCodesNow()
}

func (r *memoryRepo) DeleteTemplateTasks(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		delete(r.templateTasks, id)
	}
	return nil
}

func (r *memoryRepo) CountActiveTemplateUsages(ctx context.Context, templateID int64) (int, error) {
	n := 0
	for _, c := range r.closes {
		if c.TemplateID != nil && *c.TemplateID == templateID && c.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) CountOtherActiveTemplates(ctx context.Context, companyID *int64, exceptID int64) (int, error) {
	n := 0
	for id, tpl := range r.templates {
		if id != exceptID && tpl.Active && sameScope(tpl.CompanyID, companyID) {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) CountUnpostedJournals(ctx context.Context, companyID int64, from, to time.Time) (int, error) {
	return r.unposted[companyID], nil
}

func (r *memoryRepo) AccountsBelongingToCompany(ctx context.Context, ids []int64, companyID int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if r.accounts[id] == companyID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateAdjustmentEntry(ctx context.Context, entry AdjustmentEntry) (Adjustment, error) {
	adj := Adjustment{
		JournalEntryID: r.id(),
		CloseID:        entry.CloseID,
		CompanyID:      entry.CompanyID,
		Reference:      entry.Reference,
		Description:    entry.Description,
		Date:           entry.Date,
		Lines:          entry.Lines,
		TotalDebit:     decimal.Zero,
		TotalCredit:    decimal.Zero,
		CreatedBy:      entry.ActorID,
	}
	for _, l := range entry.Lines {
		adj.TotalDebit = adj.TotalDebit.Add(l.Debit)
		adj.TotalCredit = adj.TotalCredit.Add(l.Credit)
	}
	r.adjustments[adj.JournalEntryID] = adj
	return adj, nil
}

func (r *memoryRepo) GetAdjustment(ctx context.Context, closeID, entryID int64) (Adjustment, error) {
	adj, ok := r.adjustments[entryID]
	if !ok || adj.CloseID != closeID {
		return Adjustment{}, fmt.Errorf("%w: adjustment %d", ErrNotFound, entryID)
	}
	return adj, nil
}

func (r *memoryRepo) DeleteAdjustmentEntry(ctx context.Context, entryID int64) error {
	if _, ok := r.adjustments[entryID]; !ok {
		return fmt.Errorf("%w: adjustment %d", ErrNotFound, entryID)
	}
	delete(r.adjustments, entryID)
	return nil
}

type stubAuthorizer struct {
	denied map[string]bool
	roles  map[int64]string
}

func allowAll() *stubAuthorizer {
	return &stubAuthorizer{denied: map[string]bool{}, roles: map[int64]string{}}
}

func (a *stubAuthorizer) UserCan(ctx context.Context, userID int64, capability string) (bool, error) {
	return !a.denied[capability], nil
}

func (a *stubAuthorizer) RoleOf(ctx context.Context, userID int64) (string, error) {
	return a.roles[userID], nil
}

type stubValidator struct {
	mu     sync.Mutex
	result ValidationResult
	err    error
	calls  int
}

func healthy() *stubValidator {
	return &stubValidator{result: ValidationResult{
		TrialBalance: NewTrialBalance(decimal.NewFromInt(1000), decimal.NewFromInt(1000)),
		Score:        100,
	}}
}

func (v *stubValidator) Validate(ctx context.Context, period AccountingPeriod) (ValidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return ValidationResult{}, v.err
	}
	res := v.result
	res.PeriodID = period.ID
	return res, nil
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) names() []string {
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Name)
	}
	return out
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	return nil, false, nil
}

type memoryApprovals struct {
	logs []shared.ApprovalLog
}

func (m *memoryApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memoryApprovals) EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error {
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref && l.Action == shared.ApprovalSubmit {
			return nil
		}
	}
	return m.Record(ctx, shared.ApprovalLog{Module: module, RefID: ref, ActorID: actorID, Action: shared.ApprovalSubmit, Note: note})
}

func (m *memoryApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	if log.Action == "" {
		return errors.New("action required")
	}
	m.logs = append(m.logs, log)
	return nil
}
