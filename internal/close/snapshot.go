package close

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Label renders an enum value for display, e.g. "trial_balance" as "Trial Balance".
func Label(value string) string {
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

// CategorySummary counts tasks of one category.
type CategorySummary struct {
	Category  TaskCategory `json:"category"`
	Label     string       `json:"label"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Required  int          `json:"required"`
}

// ActionState tells a client whether an action is currently possible.
type ActionState struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Snapshot is a read-only overview of a close for dashboards.
type Snapshot struct {
	Close             PeriodClose       `json:"close"`
	Period            AccountingPeriod  `json:"period"`
	StatusLabel       string            `json:"status_label"`
	TotalTasks        int               `json:"total_tasks"`
	CompletedTasks    int               `json:"completed_tasks"`
	RequiredTasks     int               `json:"required_tasks"`
	RequiredCompleted int               `json:"required_completed"`
	ProgressPercent   int               `json:"progress_percent"`
	Categories        []CategorySummary `json:"categories"`
	LockExpiresAt     *time.Time        `json:"lock_expires_at,omitempty"`
	LockExpired       bool              `json:"lock_expired"`
	AdjustmentCount   int               `json:"adjustment_count"`
	AdjustmentTotal   decimal.Decimal   `json:"adjustment_total"`
	ReopenCount       int               `json:"reopen_count"`
	ReopenUntil       *time.Time        `json:"reopen_until,omitempty"`
	ReopenExpired     bool              `json:"reopen_expired"`
	CanLock           ActionState       `json:"can_lock"`
	CanComplete       ActionState       `json:"can_complete"`
}

// Snapshot assembles the dashboard view of a close.
func (s *Service) Snapshot(ctx context.Context, closeID int64) (Snapshot, error) {
	c, err := s.repo.GetClose(ctx, closeID)
	if err != nil {
		return Snapshot{}, err
	}
	period, err := s.repo.GetPeriod(ctx, c.PeriodID)
	if err != nil {
		return Snapshot{}, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, closeID)
	if err != nil {
		return Snapshot{}, err
	}
	return BuildSnapshot(c, period, adjustments, s.cfg, s.now()), nil
}

// BuildSnapshot derives progress counters and action states.
func BuildSnapshot(c PeriodClose, period AccountingPeriod, adjustments []Adjustment, cfg Config, now time.Time) Snapshot {
	snap := Snapshot{
		Close:           c,
		Period:          period,
		StatusLabel:     Label(string(c.Status)),
		TotalTasks:      len(c.Tasks),
		AdjustmentCount: len(adjustments),
		AdjustmentTotal: decimal.Zero,
		ReopenCount:     c.Metadata.ReopenCount,
	}
	byCategory := map[TaskCategory]*CategorySummary{}
	for _, t := range c.Tasks {
		sum, ok := byCategory[t.Category]
		if !ok {
			sum = &CategorySummary{Category: t.Category, Label: Label(string(t.Category))}
			byCategory[t.Category] = sum
		}
		sum.Total++
		if t.IsRequired {
			sum.Required++
			snap.RequiredTasks++
		}
		if t.Completed() {
			sum.Completed++
			snap.CompletedTasks++
			if t.IsRequired {
				snap.RequiredCompleted++
			}
		}
	}
	for _, cat := range Categories() {
		if sum, ok := byCategory[cat]; ok {
			snap.Categories = append(snap.Categories, *sum)
		}
	}
	if snap.TotalTasks > 0 {
		snap.ProgressPercent = snap.CompletedTasks * 100 / snap.TotalTasks
	}
	for _, adj := range adjustments {
		snap.AdjustmentTotal = snap.AdjustmentTotal.Add(adj.TotalDebit)
	}
	if c.IsLocked() {
		expires := c.LockedAt.Add(cfg.MaxLockAge)
		snap.LockExpiresAt = &expires
		snap.LockExpired = now.After(expires)
	}
	// The deadline only applies until the reopened close completes again.
	if until := c.Metadata.ReopenUntil; until != nil && c.Status.IsActive() {
		deadline := *until
		snap.ReopenUntil = &deadline
		snap.ReopenExpired = now.After(deadline)
	}

	var lock []string
	if !c.Status.Reviewable() {
		lock = append(lock, "close status is "+string(c.Status))
	}
	if pending := incompleteCodes(c.Tasks, true); len(pending) > 0 {
		lock = append(lock, "required tasks not completed: "+strings.Join(pending, ", "))
	}
	snap.CanLock = ActionState{Allowed: len(lock) == 0, Reasons: lock}

	var complete []string
	if c.Status != StatusLocked {
		complete = append(complete, "close status is "+string(c.Status))
	}
	if snap.LockExpired {
		complete = append(complete, "lock expired, relock required")
	}
	if pending := incompleteCodes(c.Tasks, false); len(pending) > 0 {
		complete = append(complete, "tasks not completed: "+strings.Join(pending, ", "))
	}
	snap.CanComplete = ActionState{Allowed: len(complete) == 0, Reasons: complete}
	return snap
}
