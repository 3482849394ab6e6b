// Package ledger reads and writes the general ledger tables the period close depends on.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
	EntryStatusVoid   EntryStatus = "VOID"
)

// EntryTypePeriodAdjustment tags journal entries booked by a period close.
const EntryTypePeriodAdjustment = "period_adjustment"

// DocumentKind names a source document family counted for unposted items.
type DocumentKind string

const (
	KindInvoices       DocumentKind = "invoices"
	KindJournalEntries DocumentKind = "journal_entries"
	KindBills          DocumentKind = "bills"
	KindPayments       DocumentKind = "payments"
	KindExpenseReports DocumentKind = "expense_reports"
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrNoLines indicates an entry without lines.
	ErrNoLines = errors.New("ledger: journal requires at least one line")
	// ErrEntryNotFound indicates a missing entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrUnknownDocument indicates an unsupported document kind.
	ErrUnknownDocument = errors.New("ledger: unknown document kind")
)

// Tolerance is the largest accepted debit/credit difference.
var Tolerance = decimal.NewFromFloat(0.01)

// Line stores a debit or credit amount for an account.
type Line struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Entry is a journal entry with its lines.
type Entry struct {
	ID            int64
	Number        int64
	CompanyID     int64
	PeriodCloseID *int64
	EntryType     string
	Reference     string
	Memo          string
	Date          time.Time
	Status        EntryStatus
	CreatedBy     int64
	CreatedAt     time.Time
	Lines         []Line
}

// Totals sums the debit and credit sides.
func (e Entry) Totals() (debit, credit decimal.Decimal) {
	return Totals(e.Lines)
}

// AdjustmentInput is a period adjustment to post.
type AdjustmentInput struct {
	CompanyID     int64
	PeriodCloseID int64
	Reference     string
	Memo          string
	Date          time.Time
	CreatedBy     int64
	Lines         []Line
}

// Totals sums the debit and credit sides of lines.
func Totals(lines []Line) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Validate ensures the lines can be posted.
func (in AdjustmentInput) Validate() error {
	if in.CompanyID == 0 || in.PeriodCloseID == 0 {
		return errors.New("ledger: company and period close required")
	}
	if len(in.Lines) == 0 {
		return ErrNoLines
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("ledger: line %d must have exactly one of debit or credit", idx)
		}
	}
	debit, credit := Totals(in.Lines)
	if debit.Sub(credit).Abs().GreaterThan(Tolerance) {
		return ErrUnbalanced
	}
	return nil
}
