package close

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/ledger"
	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
)

const uniqueClosePerPeriod = "uq_period_closes_period"

// PostgresRepository persists period close state in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs a PostgresRepository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, queries: queries{db: pool}}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("close: repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{db: tx}})
	})
	return txError(err)
}

// txError reports serialization failures and deadlocks as ErrConcurrentUpdate
// so the caller can retry.
func txError(err error) error {
	if err == nil || errors.Is(err, ErrConcurrentUpdate) || !db.IsSerializationFailure(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConcurrentUpdate, err)
}

// queries holds the statements shared by pool reads and transactional writes.
type queries struct {
	db db.DBTX
}

type txRepository struct {
	queries
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ledger.ErrEntryNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

// --- periods ---

const periodColumns = `id, company_id, fiscal_year_id, name, start_date, end_date, status`

func scanPeriod(row pgx.Row) (AccountingPeriod, error) {
	var (
		p      AccountingPeriod
		status string
	)
	if err := row.Scan(&p.ID, &p.CompanyID, &p.FiscalYearID, &p.Name, &p.StartDate, &p.EndDate, &status); err != nil {
		return AccountingPeriod{}, err
	}
	p.Status = PeriodStatus(status)
	return p, nil
}

func (q queries) GetPeriod(ctx context.Context, id int64) (AccountingPeriod, error) {
	p, err := scanPeriod(q.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1`, id))
	if err != nil {
		return AccountingPeriod{}, notFound(err, "period %d", id)
	}
	return p, nil
}

func (q queries) ListPeriodsByStatus(ctx context.Context, status PeriodStatus) ([]AccountingPeriod, error) {
	rows, err := q.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE status=$1 ORDER BY company_id, start_date`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []AccountingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (q queries) GetPeriodForUpdate(ctx context.Context, id int64) (AccountingPeriod, error) {
	p, err := scanPeriod(q.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return AccountingPeriod{}, notFound(err, "period %d", id)
	}
	return p, nil
}

func (q queries) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	var (
		fy     FiscalYear
		status string
	)
	err := q.db.QueryRow(ctx, `SELECT id, company_id, name, start_date, end_date, status FROM fiscal_years WHERE id=$1`, id).
		Scan(&fy.ID, &fy.CompanyID, &fy.Name, &fy.StartDate, &fy.EndDate, &status)
	if err != nil {
		return FiscalYear{}, notFound(err, "fiscal year %d", id)
	}
	fy.Status = FiscalYearStatus(status)
	return fy, nil
}

func (q queries) HasUnclosedPeriodBefore(ctx context.Context, fiscalYearID int64, before time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounting_periods
WHERE fiscal_year_id=$1 AND end_date < $2 AND status <> 'closed')`, fiscalYearID, before).Scan(&exists)
	return exists, err
}

func (q queries) UpdatePeriodStatus(ctx context.Context, id int64, status PeriodStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE accounting_periods SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: period %d", ErrNotFound, id)
	}
	return nil
}

// --- closes ---

const closeColumns = `id, company_id, period_id, status, started_by, started_at, locked_by, locked_at,
COALESCE(lock_reason,''), closed_by, closed_at, COALESCE(closing_summary,''), template_id, COALESCE(notes,''),
audit_trail, metadata, version, created_at, updated_at`

func scanClose(row pgx.Row) (PeriodClose, error) {
	var (
		c           PeriodClose
		status      string
		trail, meta []byte
	)
	err := row.Scan(&c.ID, &c.CompanyID, &c.PeriodID, &status, &c.StartedBy, &c.StartedAt, &c.LockedBy, &c.LockedAt,
		&c.LockReason, &c.ClosedBy, &c.ClosedAt, &c.ClosingSummary, &c.TemplateID, &c.Notes,
		&trail, &meta, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return PeriodClose{}, err
	}
	c.Status = Status(status)
	if len(trail) > 0 {
		if err := json.Unmarshal(trail, &c.AuditTrail); err != nil {
			return PeriodClose{}, fmt.Errorf("close: decode audit trail: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return PeriodClose{}, fmt.Errorf("close: decode metadata: %w", err)
		}
	}
	return c, nil
}

func (q queries) loadClose(ctx context.Context, query string, args ...any) (PeriodClose, error) {
	c, err := scanClose(q.db.QueryRow(ctx, query, args...))
	if err != nil {
		return PeriodClose{}, err
	}
	c.Tasks, err = q.ListTasks(ctx, c.ID)
	if err != nil {
		return PeriodClose{}, err
	}
	return c, nil
}

func (q queries) GetClose(ctx context.Context, id int64) (PeriodClose, error) {
	c, err := q.loadClose(ctx, `SELECT `+closeColumns+` FROM period_closes WHERE id=$1`, id)
	if err != nil {
		return PeriodClose{}, notFound(err, "close %d", id)
	}
	return c, nil
}

func (q queries) GetCloseByPeriod(ctx context.Context, periodID int64) (PeriodClose, error) {
	c, err := q.loadClose(ctx, `SELECT `+closeColumns+` FROM period_closes WHERE period_id=$1`, periodID)
	if err != nil {
		return PeriodClose{}, notFound(err, "close for period %d", periodID)
	}
	return c, nil
}

func (q queries) GetCloseForUpdate(ctx context.Context, id int64) (PeriodClose, error) {
	c, err := q.loadClose(ctx, `SELECT `+closeColumns+` FROM period_closes WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		return PeriodClose{}, notFound(err, "close %d", id)
	}
	return c, nil
}

func (q queries) ListCloses(ctx context.Context, filter ListFilter) ([]PeriodClose, error) {
	rows, err := q.db.Query(ctx, `SELECT `+closeColumns+` FROM period_closes
WHERE ($1::bigint = 0 OR company_id=$1) AND ($2::text = '' OR status=$2)
ORDER BY started_at DESC, id DESC LIMIT $3 OFFSET $4`, filter.CompanyID, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return q.collectCloses(ctx, rows)
}

func (q queries) ListLockedBefore(ctx context.Context, cutoff time.Time) ([]PeriodClose, error) {
	rows, err := q.db.Query(ctx, `SELECT `+closeColumns+` FROM period_closes
WHERE status='locked' AND locked_at < $1 ORDER BY locked_at`, cutoff)
	if err != nil {
		return nil, err
	}
	return q.collectCloses(ctx, rows)
}

// ListReopenedBefore returns active closes whose reopen deadline passed before deadline.
func (q queries) ListReopenedBefore(ctx context.Context, deadline time.Time) ([]PeriodClose, error) {
	rows, err := q.db.Query(ctx, `SELECT `+closeColumns+` FROM period_closes
WHERE status <> 'closed' AND metadata ? 'reopen_until'
AND (metadata->>'reopen_until')::timestamptz < $1
ORDER BY (metadata->>'reopen_until')::timestamptz`, deadline)
	if err != nil {
		return nil, err
	}
	return q.collectCloses(ctx, rows)
}

func (q queries) collectCloses(ctx context.Context, rows pgx.Rows) ([]PeriodClose, error) {
	var (
		closes []PeriodClose
		ids    []int64
	)
	for rows.Next() {
		c, err := scanClose(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		closes = append(closes, c)
		ids = append(ids, c.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return closes, nil
	}
	tasks, err := q.queryTasks(ctx, `WHERE close_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	byClose := make(map[int64][]Task, len(ids))
	for _, t := range tasks {
		byClose[t.CloseID] = append(byClose[t.CloseID], t)
	}
	for i := range closes {
		closes[i].Tasks = byClose[closes[i].ID]
	}
	return closes, nil
}

func (q queries) CloseExistsForPeriod(ctx context.Context, periodID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM period_closes WHERE period_id=$1)`, periodID).Scan(&exists)
	return exists, err
}

func encodeClose(c PeriodClose) (trail, meta []byte, err error) {
	if trail, err = json.Marshal(c.AuditTrail); err != nil {
		return nil, nil, err
	}
	if meta, err = json.Marshal(c.Metadata); err != nil {
		return nil, nil, err
	}
	return trail, meta, nil
}

func (q queries) InsertClose(ctx context.Context, c PeriodClose) (PeriodClose, error) {
	trail, meta, err := encodeClose(c)
	if err != nil {
		return PeriodClose{}, err
	}
	err = q.db.QueryRow(ctx, `INSERT INTO period_closes (company_id, period_id, status, started_by, started_at, template_id, notes, audit_trail, metadata, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1) RETURNING id, version, created_at, updated_at`,
		c.CompanyID, c.PeriodID, string(c.Status), c.StartedBy, c.StartedAt, c.TemplateID, c.Notes, trail, meta).
		Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, uniqueClosePerPeriod) {
			return PeriodClose{}, ErrCloseExists
		}
		return PeriodClose{}, err
	}
	return c, nil
}

func (q queries) UpdateClose(ctx context.Context, c PeriodClose) (PeriodClose, error) {
	trail, meta, err := encodeClose(c)
	if err != nil {
		return PeriodClose{}, err
	}
	err = q.db.QueryRow(ctx, `UPDATE period_closes SET status=$3, locked_by=$4, locked_at=$5, lock_reason=$6,
closed_by=$7, closed_at=$8, closing_summary=$9, template_id=$10, notes=$11, audit_trail=$12, metadata=$13,
version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2 RETURNING version, updated_at`,
		c.ID, c.Version, string(c.Status), c.LockedBy, c.LockedAt, c.LockReason,
		c.ClosedBy, c.ClosedAt, c.ClosingSummary, c.TemplateID, c.Notes, trail, meta).
		Scan(&c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PeriodClose{}, fmt.Errorf("%w: close %d", ErrConcurrentUpdate, c.ID)
		}
		return PeriodClose{}, err
	}
	c.Tasks, err = q.ListTasks(ctx, c.ID)
	if err != nil {
		return PeriodClose{}, err
	}
	return c, nil
}

// --- tasks ---

const taskColumns = `id, close_id, code, title, category, sequence, is_required, status, COALESCE(notes,''),
completed_by, completed_at, template_task_id, created_at, updated_at`

func (q queries) queryTasks(ctx context.Context, where string, args ...any) ([]Task, error) {
	rows, err := q.db.Query(ctx, `SELECT `+taskColumns+` FROM period_close_tasks `+where+` ORDER BY close_id, sequence, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []Task
	for rows.Next() {
		var (
			t                Task
			category, status string
		)
		if err := rows.Scan(&t.ID, &t.CloseID, &t.Code, &t.Title, &category, &t.Sequence, &t.IsRequired, &status, &t.Notes,
			&t.CompletedBy, &t.CompletedAt, &t.TemplateTaskID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Category = TaskCategory(category)
		t.Status = TaskStatus(status)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (q queries) ListTasks(ctx context.Context, closeID int64) ([]Task, error) {
	return q.queryTasks(ctx, `WHERE close_id=$1`, closeID)
}

func (q queries) InsertTasks(ctx context.Context, closeID int64, tasks []Task) ([]Task, error) {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		t.CloseID = closeID
		if t.Status == "" {
			t.Status = TaskStatusPending
		}
		err := q.db.QueryRow(ctx, `INSERT INTO period_close_tasks
(close_id, code, title, category, sequence, is_required, status, notes, completed_by, completed_at, template_task_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id, created_at, updated_at`,
			closeID, t.Code, t.Title, string(t.Category), t.Sequence, t.IsRequired, string(t.Status), t.Notes,
			t.CompletedBy, t.CompletedAt, t.TemplateTaskID).
			Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (q queries) UpdateTask(ctx context.Context, t Task) error {
	tag, err := q.db.Exec(ctx, `UPDATE period_close_tasks SET code=$2, title=$3, category=$4, sequence=$5, is_required=$6,
status=$7, notes=$8, completed_by=$9, completed_at=$10, template_task_id=$11, updated_at=NOW() WHERE id=$1`,
		t.ID, t.Code, t.Title, string(t.Category), t.Sequence, t.IsRequired, string(t.Status), t.Notes,
		t.CompletedBy, t.CompletedAt, t.TemplateTaskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %d", ErrNotFound, t.ID)
	}
	return nil
}

func (q queries) DeleteTasks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM period_close_tasks WHERE id = ANY($1)`, ids)
	return err
}

// --- templates ---

const templateColumns = `id, company_id, name, COALESCE(description,''), frequency, is_default, active, created_at, updated_at`

func scanTemplate(row pgx.Row) (Template, error) {
	var (
		tpl  Template
		freq string
	)
	if err := row.Scan(&tpl.ID, &tpl.CompanyID, &tpl.Name, &tpl.Description, &freq, &tpl.IsDefault, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return Template{}, err
	}
	tpl.Frequency = Frequency(freq)
	return tpl, nil
}

func (q queries) templateTasks(ctx context.Context, templateIDs []int64) (map[int64][]TemplateTask, error) {
	out := make(map[int64][]TemplateTask, len(templateIDs))
	if len(templateIDs) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, `SELECT id, template_id, code, title, category, sequence, is_required, COALESCE(default_notes,'')
FROM period_close_template_tasks WHERE template_id = ANY($1) ORDER BY template_id, sequence, id`, templateIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t        TemplateTask
			category string
		)
		if err := rows.Scan(&t.ID, &t.TemplateID, &t.Code, &t.Title, &category, &t.Sequence, &t.IsRequired, &t.DefaultNotes); err != nil {
			return nil, err
		}
		t.Category = TaskCategory(category)
		out[t.TemplateID] = append(out[t.TemplateID], t)
	}
	return out, rows.Err()
}

func (q queries) loadTemplate(ctx context.Context, query string, args ...any) (Template, error) {
	tpl, err := scanTemplate(q.db.QueryRow(ctx, query, args...))
	if err != nil {
		return Template{}, err
	}
	tasks, err := q.templateTasks(ctx, []int64{tpl.ID})
	if err != nil {
		return Template{}, err
	}
	tpl.Tasks = tasks[tpl.ID]
	return tpl, nil
}

func (q queries) ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error) {
	rows, err := q.db.Query(ctx, `SELECT `+templateColumns+` FROM period_close_templates
WHERE (company_id IS NOT DISTINCT FROM $1 OR ($2 AND company_id IS NULL)) AND ($3 OR active)
ORDER BY company_id NULLS LAST, frequency, name`, filter.CompanyID, filter.IncludeSystem, filter.IncludeArchived)
	if err != nil {
		return nil, err
	}
	var (
		templates []Template
		ids       []int64
	)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		templates = append(templates, tpl)
		ids = append(ids, tpl.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tasks, err := q.templateTasks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		templates[i].Tasks = tasks[templates[i].ID]
	}
	return templates, nil
}

func (q queries) GetTemplate(ctx context.Context, id int64) (Template, error) {
	tpl, err := q.loadTemplate(ctx, `SELECT `+templateColumns+` FROM period_close_templates WHERE id=$1`, id)
	if err != nil {
		return Template{}, notFound(err, "template %d", id)
	}
	return tpl, nil
}

func (q queries) GetTemplateForUpdate(ctx context.Context, id int64) (Template, error) {
	tpl, err := q.loadTemplate(ctx, `SELECT `+templateColumns+` FROM period_close_templates WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		return Template{}, notFound(err, "template %d", id)
	}
	return tpl, nil
}

func (q queries) FindDefaultTemplate(ctx context.Context, companyID *int64, frequency Frequency) (Template, bool, error) {
	tpl, err := q.loadTemplate(ctx, `SELECT `+templateColumns+` FROM period_close_templates
WHERE company_id IS NOT DISTINCT FROM $1 AND frequency=$2 AND is_default AND active
ORDER BY updated_at DESC, id DESC LIMIT 1`, companyID, string(frequency))
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, false, nil
	}
	if err != nil {
		return Template{}, false, err
	}
	return tpl, true, nil
}

func (q queries) InsertTemplate(ctx context.Context, tpl Template) (Template, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO period_close_templates (company_id, name, description, frequency, is_default, active)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at, updated_at`,
		tpl.CompanyID, tpl.Name, tpl.Description, string(tpl.Frequency), tpl.IsDefault, tpl.Active).
		Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (q queries) UpdateTemplate(ctx context.Context, tpl Template) error {
	tag, err := q.db.Exec(ctx, `UPDATE period_close_templates SET name=$2, description=$3, frequency=$4, is_default=$5,
active=$6, updated_at=NOW() WHERE id=$1`, tpl.ID, tpl.Name, tpl.Description, string(tpl.Frequency), tpl.IsDefault, tpl.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %d", ErrNotFound, tpl.ID)
	}
	return nil
}

func (q queries) ClearDefaultTemplates(ctx context.Context, companyID *int64, frequency Frequency, exceptID int64) error {
	_, err := q.db.Exec(ctx, `UPDATE period_close_templates SET is_default=FALSE, updated_at=NOW()
WHERE company_id IS NOT DISTINCT FROM $1 AND frequency=$2 AND id<>$3 AND is_default`, companyID, string(frequency), exceptID)
	return err
}

func (q queries) InsertTemplateTasks(ctx context.Context, templateID int64, tasks []TemplateTask) ([]TemplateTask, error) {
	out := make([]TemplateTask, 0, len(tasks))
	for _, t := range tasks {
		t.TemplateID = templateID
		err := q.db.QueryRow(ctx, `INSERT INTO period_close_template_tasks (template_id, code, title, category, sequence, is_required, default_notes)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, templateID, t.Code, t.Title, string(t.Category), t.Sequence, t.IsRequired, t.DefaultNotes).
			Scan(&t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (q queries) UpdateTemplateTask(ctx context.Context, t TemplateTask) error {
	_, err := q.db.Exec(ctx, `UPDATE period_close_template_tasks SET code=$2, title=$3, category=$4, sequence=$5,
is_required=$6, default_notes=$7 WHERE id=$1`, t.ID, t.Code, t.Title, string(t.Category), t.Sequence, t.IsRequired, t.DefaultNotes)
	return err
}

func (q queries) DeleteTemplateTasks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM period_close_template_tasks WHERE id = ANY($1)`, ids)
	return err
}

func (q queries) CountActiveTemplateUsages(ctx context.Context, templateID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM period_closes
WHERE template_id=$1 AND status IN ('in_review','awaiting_approval','locked')`, templateID).Scan(&n)
	return n, err
}

func (q queries) CountOtherActiveTemplates(ctx context.Context, companyID *int64, exceptID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM period_close_templates
WHERE company_id IS NOT DISTINCT FROM $1 AND id<>$2 AND active`, companyID, exceptID).Scan(&n)
	return n, err
}

// --- ledger ---

func (q queries) CountUnpostedJournals(ctx context.Context, companyID int64, from, to time.Time) (int, error) {
	return ledger.New(q.db).CountUnposted(ctx, ledger.KindJournalEntries, companyID, from, to)
}

func (q queries) AccountsBelongingToCompany(ctx context.Context, ids []int64, companyID int64) ([]int64, error) {
	return ledger.New(q.db).AccountsBelongingToCompany(ctx, ids, companyID)
}

func (q queries) CreateAdjustmentEntry(ctx context.Context, entry AdjustmentEntry) (Adjustment, error) {
	lines := make([]ledger.Line, 0, len(entry.Lines))
	for _, l := range entry.Lines {
		lines = append(lines, ledger.Line{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description})
	}
	created, err := ledger.New(q.db).CreateAdjustmentEntry(ctx, ledger.AdjustmentInput{
		CompanyID:     entry.CompanyID,
		PeriodCloseID: entry.CloseID,
		Reference:     entry.Reference,
		Memo:          entry.Description,
		Date:          entry.Date,
		CreatedBy:     entry.ActorID,
		Lines:         lines,
	})
	if err != nil {
		return Adjustment{}, err
	}
	return adjustmentFromEntry(created), nil
}

func (q queries) ListAdjustments(ctx context.Context, closeID int64) ([]Adjustment, error) {
	entries, err := ledger.New(q.db).ListAdjustments(ctx, closeID)
	if err != nil {
		return nil, err
	}
	out := make([]Adjustment, 0, len(entries))
	for _, e := range entries {
		out = append(out, adjustmentFromEntry(e))
	}
	return out, nil
}

func (q queries) GetAdjustment(ctx context.Context, closeID, entryID int64) (Adjustment, error) {
	e, err := ledger.New(q.db).GetAdjustment(ctx, closeID, entryID)
	if err != nil {
		return Adjustment{}, notFound(err, "adjustment %d in close %d", entryID, closeID)
	}
	return adjustmentFromEntry(e), nil
}

func (q queries) DeleteAdjustmentEntry(ctx context.Context, entryID int64) error {
	if err := ledger.New(q.db).DeleteAdjustmentEntry(ctx, entryID); err != nil {
		return notFound(err, "adjustment %d", entryID)
	}
	return nil
}

func adjustmentFromEntry(e ledger.Entry) Adjustment {
	adj := Adjustment{
		JournalEntryID: e.ID,
		CompanyID:      e.CompanyID,
		Reference:      e.Reference,
		Description:    e.Memo,
		Date:           e.Date,
		CreatedBy:      e.CreatedBy,
		CreatedAt:      e.CreatedAt,
	}
	if e.PeriodCloseID != nil {
		adj.CloseID = *e.PeriodCloseID
	}
	for _, l := range e.Lines {
		adj.Lines = append(adj.Lines, AdjustmentLine{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description})
	}
	adj.TotalDebit, adj.TotalCredit = e.Totals()
	return adj
}

// ledgerReader feeds the validation engine from the ledger store.
type ledgerReader struct {
	store *ledger.Store
}

// NewLedgerReader adapts the ledger store to the validation engine.
func NewLedgerReader(conn db.DBTX) LedgerReader {
	return ledgerReader{store: ledger.New(conn)}
}

func (r ledgerReader) SumPostedDebitsCredits(ctx context.Context, companyID int64, from, to time.Time) (decimal.Decimal, decimal.Decimal, error) {
	return r.store.SumPostedDebitsCredits(ctx, companyID, from, to)
}

func (r ledgerReader) CountUnposted(ctx context.Context, doc DocumentType, companyID int64, from, to time.Time) (int, error) {
	return r.store.CountUnposted(ctx, ledger.DocumentKind(doc), companyID, from, to)
}

var (
	_ Repository   = (*PostgresRepository)(nil)
	_ TxRepository = (*txRepository)(nil)
)
