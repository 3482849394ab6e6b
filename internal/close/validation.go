package close

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DocumentType names a source document family that may be left unposted.
type DocumentType string

const (
	DocInvoices       DocumentType = "invoices"
	DocJournalEntries DocumentType = "journal_entries"
	DocBills          DocumentType = "bills"
	DocPayments       DocumentType = "payments"
	DocExpenseReports DocumentType = "expense_reports"
)

// DocumentTypes lists the checked document families; blocking types come first.
func DocumentTypes() []DocumentType {
	return []DocumentType{DocInvoices, DocJournalEntries, DocBills, DocPayments, DocExpenseReports}
}

// Blocking reports whether unposted documents of this type stop a lock.
func (d DocumentType) Blocking() bool {
	return d == DocInvoices || d == DocJournalEntries
}

// TrialBalanceSeverity tiers the trial balance variance.
type TrialBalanceSeverity string

const (
	SeverityBalanced TrialBalanceSeverity = "balanced"
	SeverityRounding TrialBalanceSeverity = "rounding"
	SeverityError    TrialBalanceSeverity = "error"
)

// Warning categories used for grouping.
const (
	WarningBalance        = "balance"
	WarningReconciliation = "reconciliation"
	WarningDate           = "date"
	WarningGeneral        = "general"
)

var (
	balanceTolerance  = decimal.NewFromFloat(0.01)
	roundingTolerance = decimal.NewFromInt(1)
)

// TrialBalance is the posted debit and credit totals for a period.
type TrialBalance struct {
	TotalDebits  decimal.Decimal      `json:"total_debits"`
	TotalCredits decimal.Decimal      `json:"total_credits"`
	Variance     decimal.Decimal      `json:"variance"`
	IsBalanced   bool                 `json:"is_balanced"`
	Severity     TrialBalanceSeverity `json:"severity"`
}

// NewTrialBalance derives variance and severity from the totals.
func NewTrialBalance(debits, credits decimal.Decimal) TrialBalance {
	variance := debits.Sub(credits)
	abs := variance.Abs()
	tb := TrialBalance{
		TotalDebits:  debits,
		TotalCredits: credits,
		Variance:     variance,
		IsBalanced:   abs.LessThan(balanceTolerance),
	}
	switch {
	case tb.IsBalanced:
		tb.Severity = SeverityBalanced
	case abs.LessThan(roundingTolerance):
		tb.Severity = SeverityRounding
	default:
		tb.Severity = SeverityError
	}
	return tb
}

// DocumentCount is the number of unposted documents of one type.
type DocumentCount struct {
	Type     DocumentType `json:"type"`
	Count    int          `json:"count"`
	Blocking bool         `json:"blocking"`
}

// ValidationWarning is an advisory message.
type ValidationWarning struct {
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// ValidationResult is a point-in-time health check of a period.
type ValidationResult struct {
	PeriodID          int64               `json:"period_id"`
	CompanyID         int64               `json:"company_id"`
	GeneratedAt       time.Time           `json:"generated_at"`
	TrialBalance      TrialBalance        `json:"trial_balance"`
	UnpostedDocuments []DocumentCount     `json:"unposted_documents"`
	Warnings          []ValidationWarning `json:"warnings"`
	Score             int                 `json:"score"`
}

// BlockingIssues lists the high-priority problems that stop a lock.
func (r ValidationResult) BlockingIssues() []string {
	var issues []string
	if r.TrialBalance.Severity == SeverityError {
		issues = append(issues, fmt.Sprintf("trial balance variance %s", r.TrialBalance.Variance.StringFixed(2)))
	}
	for _, doc := range r.UnpostedDocuments {
		if doc.Blocking && doc.Count > 0 {
			issues = append(issues, fmt.Sprintf("%d unposted %s", doc.Count, humanDocType(doc.Type)))
		}
	}
	return issues
}

// LedgerReader is the read side of the ledger and document stores.
type LedgerReader interface {
	SumPostedDebitsCredits(ctx context.Context, companyID int64, from, to time.Time) (debits, credits decimal.Decimal, err error)
	CountUnposted(ctx context.Context, doc DocumentType, companyID int64, from, to time.Time) (int, error)
}

// ScoreFunc turns a result into a 0..100 score.
type ScoreFunc func(ValidationResult) int

// Engine is the default Validator backed by the ledger.
type Engine struct {
	ledger LedgerReader
	score  ScoreFunc
	now    func() time.Time
}

// NewEngine constructs the validation engine. A nil score uses DefaultScore.
func NewEngine(ledger LedgerReader, score ScoreFunc) *Engine {
	if score == nil {
		score = DefaultScore
	}
	return &Engine{ledger: ledger, score: score, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Validate computes the result for the period. Document counts run concurrently.
func (e *Engine) Validate(ctx context.Context, period AccountingPeriod) (ValidationResult, error) {
	if e == nil || e.ledger == nil {
		return ValidationResult{}, ErrValidationUnavailable
	}
	types := DocumentTypes()
	counts := make([]int, len(types))
	var debits, credits decimal.Decimal

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		debits, credits, err = e.ledger.SumPostedDebitsCredits(gctx, period.CompanyID, period.StartDate, period.EndDate)
		return err
	})
	for i, doc := range types {
		g.Go(func() error {
			n, err := e.ledger.CountUnposted(gctx, doc, period.CompanyID, period.StartDate, period.EndDate)
			if err != nil {
				return fmt.Errorf("count unposted %s: %w", doc, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrValidationUnavailable, err)
	}

	result := ValidationResult{
		PeriodID:     period.ID,
		CompanyID:    period.CompanyID,
		GeneratedAt:  e.now(),
		TrialBalance: NewTrialBalance(debits, credits),
	}
	for i, doc := range types {
		result.UnpostedDocuments = append(result.UnpostedDocuments, DocumentCount{Type: doc, Count: counts[i], Blocking: doc.Blocking()})
	}
	if result.TrialBalance.Severity == SeverityRounding {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Category: WarningBalance,
			Message:  fmt.Sprintf("Trial balance variance of %s is within rounding tolerance", result.TrialBalance.Variance.StringFixed(2)),
		})
	}
	result.Score = e.score(result)
	return result, nil
}

// DefaultScore deducts 40 for an unbalanced trial balance, 5 for a rounding
// variance, 15 per blocking document type and 5 per warning document type with
// open items, and 2 per warning. The result is floored at zero.
func DefaultScore(r ValidationResult) int {
	score := 100
	switch r.TrialBalance.Severity {
	case SeverityError:
		score -= 40
	case SeverityRounding:
		score -= 5
	}
	for _, doc := range r.UnpostedDocuments {
		if doc.Count == 0 {
			continue
		}
		if doc.Blocking {
			score -= 15
		} else {
			score -= 5
		}
	}
	score -= 2 * len(r.Warnings)
	if score < 0 {
		return 0
	}
	return score
}

// Overall statuses of a report.
const (
	OverallFailed  = "failed"
	OverallWarning = "warning"
	OverallPassed  = "passed"
)

// Report is the presentation-ready view of a validation result.
type Report struct {
	Result             ValidationResult    `json:"result"`
	OverallStatus      string              `json:"overall_status"`
	BlockingDocuments  []DocumentCount     `json:"blocking_documents"`
	WarningDocuments   []DocumentCount     `json:"warning_documents"`
	WarningsByCategory map[string][]string `json:"warnings_by_category"`
	Recommendations    []string            `json:"recommendations"`
}

// BuildReport groups documents and warnings and derives recommendations.
func BuildReport(r ValidationResult) Report {
	rep := Report{
		Result:             r,
		WarningsByCategory: map[string][]string{},
	}
	for _, doc := range r.UnpostedDocuments {
		if doc.Count == 0 {
			continue
		}
		if doc.Blocking {
			rep.BlockingDocuments = append(rep.BlockingDocuments, doc)
		} else {
			rep.WarningDocuments = append(rep.WarningDocuments, doc)
		}
	}
	for _, w := range r.Warnings {
		cat := w.Category
		if cat == "" {
			cat = categorizeWarning(w.Message)
		}
		rep.WarningsByCategory[cat] = append(rep.WarningsByCategory[cat], w.Message)
	}

	switch {
	case len(rep.BlockingDocuments) > 0 || r.TrialBalance.Severity == SeverityError:
		rep.OverallStatus = OverallFailed
	case len(rep.WarningDocuments) > 0 || len(r.Warnings) > 0:
		rep.OverallStatus = OverallWarning
	default:
		rep.OverallStatus = OverallPassed
	}
	rep.Recommendations = recommendations(r, rep)
	return rep
}

func recommendations(r ValidationResult, rep Report) []string {
	var recs []string
	switch r.TrialBalance.Severity {
	case SeverityError:
		recs = append(recs, fmt.Sprintf("Trial balance is out by %s - review posted journal entries before locking", r.TrialBalance.Variance.Abs().StringFixed(2)))
	case SeverityRounding:
		recs = append(recs, "Book a rounding adjustment to clear the trial balance variance")
	}
	for _, doc := range append(append([]DocumentCount{}, rep.BlockingDocuments...), rep.WarningDocuments...) {
		switch doc.Type {
		case DocInvoices:
			recs = append(recs, fmt.Sprintf("Post or void %d draft invoices", doc.Count))
		case DocJournalEntries:
			recs = append(recs, fmt.Sprintf("Post or delete %d unposted journal entries", doc.Count))
		case DocBills:
			recs = append(recs, fmt.Sprintf("Review %d unposted vendor bills", doc.Count))
		case DocPayments:
			recs = append(recs, fmt.Sprintf("Reconcile %d unposted payments", doc.Count))
		case DocExpenseReports:
			recs = append(recs, fmt.Sprintf("Approve or reject %d pending expense reports", doc.Count))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "Period is ready to lock - no action required")
	}
	return recs
}

func categorizeWarning(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "balance"), strings.Contains(lower, "variance"),
		strings.Contains(lower, "debit"), strings.Contains(lower, "credit"):
		return WarningBalance
	case strings.Contains(lower, "reconcil"), strings.Contains(lower, "bank"), strings.Contains(lower, "payment"):
		return WarningReconciliation
	case strings.Contains(lower, "date"), strings.Contains(lower, "overdue"), strings.Contains(lower, "period end"):
		return WarningDate
	default:
		return WarningGeneral
	}
}

func humanDocType(doc DocumentType) string {
	return strings.ReplaceAll(string(doc), "_", " ")
}
