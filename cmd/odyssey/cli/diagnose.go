package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-close/internal/close"
)

// ExitNotReady is returned when a diagnosed period has blocking issues.
const ExitNotReady = 10

type periodDiagnoser interface {
	Diagnose(ctx context.Context, periodID int64) (close.Report, error)
	DiagnoseByStatus(ctx context.Context, status close.PeriodStatus) ([]close.Report, error)
}

// CloseOpsCLI runs read-only close readiness checks from the command line.
type CloseOpsCLI struct {
	service periodDiagnoser
}

// NewCloseOpsCLI wires the CLI to the close service.
func NewCloseOpsCLI(service periodDiagnoser) (*CloseOpsCLI, error) {
	if service == nil {
		return nil, errors.New("close cli: service required")
	}
	return &CloseOpsCLI{service: service}, nil
}

// DiagnoseOptions defines the flags of the diagnose command.
type DiagnoseOptions struct {
	PeriodID   int64
	Status     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DiagnoseSummary is the JSON shape printed by diagnose.
type DiagnoseSummary struct {
	OK      bool             `json:"ok"`
	Periods []PeriodDiagnose `json:"periods"`
}

// PeriodDiagnose condenses a readiness report for one period.
type PeriodDiagnose struct {
	PeriodID        int64    `json:"period_id"`
	CompanyID       int64    `json:"company_id"`
	Status          string   `json:"status"`
	Score           int      `json:"score"`
	Variance        string   `json:"variance"`
	Blocking        []string `json:"blocking"`
	Recommendations []string `json:"recommendations"`
}

// DiagnoseCommand validates one period, or every period in a status, and prints the outcome.
func (c *CloseOpsCLI) DiagnoseCommand(ctx context.Context, opts DiagnoseOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	status := close.PeriodStatus(strings.ToLower(strings.TrimSpace(opts.Status)))
	if (opts.PeriodID > 0) == (status != "") {
		_, _ = fmt.Fprintln(opts.Stderr, "close diagnose: exactly one of --period or --status is required")
		return 1
	}
	if opts.PeriodID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "close diagnose: --period must be positive")
		return 1
	}

	var reports []close.Report
	if opts.PeriodID > 0 {
		report, err := c.service.Diagnose(ctx, opts.PeriodID)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "close diagnose: %v\n", err)
			return 1
		}
		reports = append(reports, report)
	} else {
		if !validPeriodStatus(status) {
			_, _ = fmt.Fprintf(opts.Stderr, "close diagnose: invalid status %q\n", opts.Status)
			return 1
		}
		var err error
		reports, err = c.service.DiagnoseByStatus(ctx, status)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "close diagnose: %v\n", err)
			return 1
		}
	}

	summary := buildDiagnoseSummary(reports)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "close diagnose: encode json: %v\n", err)
			return 1
		}
	} else {
		renderDiagnoseHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return ExitNotReady
	}
	return 0
}

func validPeriodStatus(s close.PeriodStatus) bool {
	switch s {
	case close.PeriodStatusOpen, close.PeriodStatusClosing, close.PeriodStatusClosed, close.PeriodStatusFuture:
		return true
	}
	return false
}

func buildDiagnoseSummary(reports []close.Report) DiagnoseSummary {
	summary := DiagnoseSummary{OK: true, Periods: make([]PeriodDiagnose, 0, len(reports))}
	for _, rep := range reports {
		blocking := rep.Result.BlockingIssues()
		if blocking == nil {
			blocking = []string{}
		}
		recs := rep.Recommendations
		if recs == nil {
			recs = []string{}
		}
		summary.Periods = append(summary.Periods, PeriodDiagnose{
			PeriodID:        rep.Result.PeriodID,
			CompanyID:       rep.Result.CompanyID,
			Status:          rep.OverallStatus,
			Score:           rep.Result.Score,
			Variance:        rep.Result.TrialBalance.Variance.StringFixed(2),
			Blocking:        blocking,
			Recommendations: recs,
		})
		if rep.OverallStatus == close.OverallFailed {
			summary.OK = false
		}
	}
	sort.Slice(summary.Periods, func(i, j int) bool {
		if summary.Periods[i].CompanyID == summary.Periods[j].CompanyID {
			return summary.Periods[i].PeriodID < summary.Periods[j].PeriodID
		}
		return summary.Periods[i].CompanyID < summary.Periods[j].CompanyID
	})
	return summary
}

func renderDiagnoseHuman(out io.Writer, summary DiagnoseSummary) {
	if len(summary.Periods) == 0 {
		_, _ = fmt.Fprintln(out, "No periods matched.")
		return
	}
	for _, p := range summary.Periods {
		_, _ = fmt.Fprintf(out, "Period %d (company %d): %s, score %d, variance %s\n", p.PeriodID, p.CompanyID, p.Status, p.Score, p.Variance)
		for _, issue := range p.Blocking {
			_, _ = fmt.Fprintf(out, " ! %s\n", issue)
		}
		for _, rec := range p.Recommendations {
			_, _ = fmt.Fprintf(out, " - %s\n", rec)
		}
	}
}
