package close

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// AdjustmentTolerance is the largest debit/credit difference accepted as balanced.
var AdjustmentTolerance = decimal.NewFromFloat(0.01)

// CreateAdjustment books a balanced period adjustment against an active close.
func (s *Service) CreateAdjustment(ctx context.Context, in AdjustmentInput) (Adjustment, error) {
	if in.CloseID <= 0 {
		return Adjustment{}, inputErr("adjustment requires a close", map[string]string{"close_id": "required"})
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseAdjust); err != nil {
		return Adjustment{}, err
	}
	var (
		created Adjustment
		owner   PeriodClose
	)
	err := s.transition(ctx, in.CloseID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, in.CloseID)
		if err != nil {
			return err
		}
		if !cur.Status.AllowsAdjustments() {
			return guardErr("create adjustment", fmt.Sprintf("close status is %s", cur.Status))
		}
		period, err := tx.GetPeriodForUpdate(ctx, cur.PeriodID)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusClosed || period.Status == PeriodStatusFuture {
			return guardErr("create adjustment", fmt.Sprintf("period status is %s", period.Status))
		}
		date, err := ValidateAdjustment(in, period)
		if err != nil {
			return err
		}
		if err := checkAccounts(ctx, tx, in.Lines, cur.CompanyID); err != nil {
			return err
		}
		created, err = tx.CreateAdjustmentEntry(ctx, AdjustmentEntry{
			CompanyID:   cur.CompanyID,
			CloseID:     cur.ID,
			Reference:   strings.TrimSpace(in.Reference),
			Description: strings.TrimSpace(in.Description),
			Date:        date,
			ActorID:     in.ActorID,
			Lines:       in.Lines,
		})
		if err != nil {
			return err
		}
		s.appendAudit(&cur, "adjustment_created", in.ActorID, "", "", map[string]any{
			"journal_entry_id": created.JournalEntryID,
			"reference":        created.Reference,
			"amount":           created.TotalDebit.String(),
		})
		owner, err = tx.UpdateClose(ctx, cur)
		return err
	})
	if err != nil {
		return Adjustment{}, err
	}
	s.record(ctx, "period_close.adjustment.create", owner, in.ActorID, map[string]any{
		"journal_entry_id": created.JournalEntryID,
	})
	s.emit(ctx, newEvent(EventAdjustmentMade, owner, in.ActorID, s.now(), map[string]any{
		"journal_entry_id": created.JournalEntryID,
		"reference":        created.Reference,
	}))
	return created, nil
}

// ValidateAdjustment checks the request shape and balance and returns the entry date.
func ValidateAdjustment(in AdjustmentInput, period AccountingPeriod) (time.Time, error) {
	fields := map[string]string{}
	ref := strings.TrimSpace(in.Reference)
	desc := strings.TrimSpace(in.Description)
	if ref == "" || utf8.RuneCountInString(ref) > 50 {
		fields["reference"] = "required, max 50 characters"
	}
	if desc == "" || utf8.RuneCountInString(desc) > 500 {
		fields["description"] = "required, max 500 characters"
	}
	date := period.EndDate
	if in.Date != nil {
		date = *in.Date
		if date.Before(period.StartDate) || date.After(period.EndDate) {
			fields["date"] = "must fall within the period"
		}
	}
	if len(in.Lines) == 0 {
		fields["lines"] = "at least one line is required"
	}
	debits, credits := decimal.Zero, decimal.Zero
	for i, line := range in.Lines {
		key := fmt.Sprintf("lines[%d]", i)
		if line.AccountID <= 0 {
			fields[key+".account_id"] = "required"
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			fields[key] = "amounts must not be negative"
		} else if line.Debit.IsPositive() == line.Credit.IsPositive() {
			fields[key] = "exactly one of debit or credit must be non-zero"
		}
		if utf8.RuneCountInString(line.Description) > 255 {
			fields[key+".description"] = "max 255 characters"
		}
		debits = debits.Add(line.Debit)
		credits = credits.Add(line.Credit)
	}
	if len(fields) > 0 {
		return time.Time{}, inputErr("invalid adjustment", fields)
	}
	if diff := debits.Sub(credits).Abs(); diff.GreaterThan(AdjustmentTolerance) {
		return time.Time{}, inputErr(
			fmt.Sprintf("adjustment lines must balance: debits %s, credits %s. Difference: %s", debits, credits, diff),
			map[string]string{"lines": "debits and credits must balance"})
	}
	return date, nil
}

func checkAccounts(ctx context.Context, tx TxRepository, lines []AdjustmentLine, companyID int64) error {
	seen := map[int64]bool{}
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			ids = append(ids, l.AccountID)
		}
	}
	valid, err := tx.AccountsBelongingToCompany(ctx, ids, companyID)
	if err != nil {
		return err
	}
	ok := make(map[int64]bool, len(valid))
	for _, id := range valid {
		ok[id] = true
	}
	fields := map[string]string{}
	for i, l := range lines {
		if !ok[l.AccountID] {
			fields[fmt.Sprintf("lines[%d].account_id", i)] = fmt.Sprintf("account %d does not belong to the company", l.AccountID)
		}
	}
	if len(fields) > 0 {
		return inputErr("invalid adjustment accounts", fields)
	}
	return nil
}

// ListAdjustments returns the adjustments booked against a close.
func (s *Service) ListAdjustments(ctx context.Context, closeID int64) ([]Adjustment, error) {
	return s.repo.ListAdjustments(ctx, closeID)
}

// DeleteAdjustment removes an adjustment while the close still allows adjustments.
func (s *Service) DeleteAdjustment(ctx context.Context, closeID, entryID, actorID int64) error {
	if err := s.authorize(ctx, actorID, shared.PermPeriodCloseAdjust); err != nil {
		return err
	}
	var owner PeriodClose
	err := s.transition(ctx, closeID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, closeID)
		if err != nil {
			return err
		}
		if !cur.Status.AllowsAdjustments() {
			return guardErr("delete adjustment", fmt.Sprintf("close status is %s", cur.Status))
		}
		period, err := tx.GetPeriodForUpdate(ctx, cur.PeriodID)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusClosed {
			return guardErr("delete adjustment", "period is closed")
		}
		adj, err := tx.GetAdjustment(ctx, closeID, entryID)
		if err != nil {
			return err
		}
		if s.approver != nil {
			if err := s.approver.ApproveDeletion(ctx, actorID, adj); err != nil {
				return err
			}
		}
		if err := tx.DeleteAdjustmentEntry(ctx, entryID); err != nil {
			return err
		}
		s.appendAudit(&cur, "adjustment_deleted", actorID, "", "", map[string]any{
			"journal_entry_id": entryID,
			"reference":        adj.Reference,
		})
		owner, err = tx.UpdateClose(ctx, cur)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, "period_close.adjustment.delete", owner, actorID, map[string]any{"journal_entry_id": entryID})
	s.emit(ctx, newEvent(EventAdjustmentVoided, owner, actorID, s.now(), map[string]any{"journal_entry_id": entryID}))
	return nil
}
