package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
)

// Store runs ledger statements on a pool or inside a caller's transaction.
type Store struct {
	db db.DBTX
}

// New constructs a Store.
func New(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// unpostedQueries count not-yet-posted documents dated inside [$2, $3] for company $1.
var unpostedQueries = map[DocumentKind]string{
	KindInvoices: `SELECT COUNT(*) FROM invoices
WHERE company_id=$1 AND status IN ('DRAFT','PENDING','APPROVED') AND issue_date BETWEEN $2 AND $3`,
	KindJournalEntries: `SELECT COUNT(*) FROM journal_entries
WHERE company_id=$1 AND status='DRAFT' AND date BETWEEN $2 AND $3`,
	KindBills: `SELECT COUNT(*) FROM bills
WHERE company_id=$1 AND status IN ('DRAFT','PENDING','APPROVED') AND bill_date BETWEEN $2 AND $3`,
	KindPayments: `SELECT COUNT(*) FROM payments
WHERE company_id=$1 AND status IN ('DRAFT','PENDING') AND payment_date BETWEEN $2 AND $3`,
	KindExpenseReports: `SELECT COUNT(*) FROM expense_reports
WHERE company_id=$1 AND status IN ('SUBMITTED','APPROVED') AND report_date BETWEEN $2 AND $3`,
}

// CountUnposted counts documents of kind not yet posted in the date range.
func (s *Store) CountUnposted(ctx context.Context, kind DocumentKind, companyID int64, from, to time.Time) (int, error) {
	query, ok := unpostedQueries[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDocument, kind)
	}
	var n int
	if err := s.db.QueryRow(ctx, query, companyID, from, to).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SumPostedDebitsCredits totals posted journal lines in the date range.
func (s *Store) SumPostedDebitsCredits(ctx context.Context, companyID int64, from, to time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit string
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0)::text, COALESCE(SUM(l.credit),0)::text
FROM journal_lines l
JOIN journal_entries e ON e.id = l.je_id
WHERE e.company_id=$1 AND e.status='POSTED' AND e.date BETWEEN $2 AND $3`, companyID, from, to).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	d, err := decimal.NewFromString(debit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	c, err := decimal.NewFromString(credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return d, c, nil
}

// AccountsBelongingToCompany filters ids down to accounts owned by the company.
func (s *Store) AccountsBelongingToCompany(ctx context.Context, ids []int64, companyID int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id FROM accounts WHERE company_id=$1 AND id = ANY($2) ORDER BY id`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var valid []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		valid = append(valid, id)
	}
	return valid, rows.Err()
}

// CreateAdjustmentEntry posts a period adjustment journal entry with its lines.
func (s *Store) CreateAdjustmentEntry(ctx context.Context, in AdjustmentInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	closeID := in.PeriodCloseID
	entry := Entry{
		CompanyID:     in.CompanyID,
		PeriodCloseID: &closeID,
		EntryType:     EntryTypePeriodAdjustment,
		Reference:     in.Reference,
		Memo:          in.Memo,
		Date:          in.Date,
		Status:        EntryStatusPosted,
		CreatedBy:     in.CreatedBy,
	}
	err := s.db.QueryRow(ctx, `INSERT INTO journal_entries (company_id, period_close_id, entry_type, reference, memo, date, status, created_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,'POSTED',$7,NOW()) RETURNING id, number, created_at`,
		in.CompanyID, in.PeriodCloseID, EntryTypePeriodAdjustment, in.Reference, in.Memo, in.Date, in.CreatedBy).
		Scan(&entry.ID, &entry.Number, &entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	for _, line := range in.Lines {
		line.EntryID = entry.ID
		err := s.db.QueryRow(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, description)
VALUES ($1,$2,$3::numeric,$4::numeric,$5) RETURNING id`, entry.ID, line.AccountID, line.Debit.String(), line.Credit.String(), line.Description).
			Scan(&line.ID)
		if err != nil {
			return Entry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, nil
}

const adjustmentColumns = `id, number, company_id, period_close_id, entry_type, reference, memo, date, status, created_by, created_at`

// ListAdjustments returns the adjustments booked by a period close, oldest first.
func (s *Store) ListAdjustments(ctx context.Context, periodCloseID int64) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+adjustmentColumns+`
FROM journal_entries WHERE period_close_id=$1 AND entry_type=$2 ORDER BY id`, periodCloseID, EntryTypePeriodAdjustment)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		lines, err := s.lines(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Lines = lines
	}
	return entries, nil
}

// GetAdjustment loads one adjustment of a period close.
func (s *Store) GetAdjustment(ctx context.Context, periodCloseID, entryID int64) (Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+adjustmentColumns+`
FROM journal_entries WHERE id=$1 AND period_close_id=$2 AND entry_type=$3`, entryID, periodCloseID, EntryTypePeriodAdjustment)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	entry.Lines, err = s.lines(ctx, entry.ID)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// DeleteAdjustmentEntry removes an adjustment entry and its lines.
func (s *Store) DeleteAdjustmentEntry(ctx context.Context, entryID int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM journal_lines WHERE je_id=$1`, entryID); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1 AND entry_type=$2`, entryID, EntryTypePeriodAdjustment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *Store) lines(ctx context.Context, entryID int64) ([]Line, error) {
	rows, err := s.db.Query(ctx, `SELECT id, je_id, account_id, debit::text, credit::text, COALESCE(description,'')
FROM journal_lines WHERE je_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var (
			line          Line
			debit, credit string
		)
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &debit, &credit, &line.Description); err != nil {
			return nil, err
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e      Entry
		status string
	)
	err := row.Scan(&e.ID, &e.Number, &e.CompanyID, &e.PeriodCloseID, &e.EntryType, &e.Reference, &e.Memo, &e.Date, &status, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Status = EntryStatus(status)
	return e, nil
}
