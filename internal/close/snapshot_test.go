package close

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLabel(t *testing.T) {
	require.Equal(t, "Trial Balance", Label("trial_balance"))
	require.Equal(t, "Awaiting Approval", Label(string(StatusAwaitingApproval)))
}

func TestBuildSnapshotProgress(t *testing.T) {
	now := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)
	c := PeriodClose{
		ID:     1,
		Status: StatusInReview,
		Tasks: []Task{
			{Code: "TB-01", Category: CategoryTrialBalance, IsRequired: true, Status: TaskStatusCompleted},
			{Code: "REC-01", Category: CategoryReconciliations, IsRequired: true, Status: TaskStatusInProgress},
			{Code: "RPT-01", Category: CategoryReporting, Status: TaskStatusCompleted},
			{Code: "CMP-01", Category: CategoryCompliance, Status: TaskStatusWaived},
		},
	}
	adjustments := []Adjustment{{TotalDebit: dec("100.00")}, {TotalDebit: dec("25.50")}}

	snap := BuildSnapshot(c, AccountingPeriod{ID: 100}, adjustments, DefaultConfig(), now)
	require.Equal(t, "In Review", snap.StatusLabel)
	require.Equal(t, 4, snap.TotalTasks)
	require.Equal(t, 2, snap.CompletedTasks)
	require.Equal(t, 2, snap.RequiredTasks)
	require.Equal(t, 1, snap.RequiredCompleted)
	require.Equal(t, 50, snap.ProgressPercent)
	require.Equal(t, 2, snap.AdjustmentCount)
	require.True(t, snap.AdjustmentTotal.Equal(dec("125.50")))

	cats := make([]TaskCategory, 0, len(snap.Categories))
	for _, cat := range snap.Categories {
		cats = append(cats, cat.Category)
	}
	require.Equal(t, []TaskCategory{CategoryTrialBalance, CategoryReconciliations, CategoryCompliance, CategoryReporting}, cats)

	require.False(t, snap.CanLock.Allowed)
	require.Equal(t, []string{"required tasks not completed: REC-01"}, snap.CanLock.Reasons)
	require.False(t, snap.CanComplete.Allowed)
	require.Nil(t, snap.LockExpiresAt)
}

func TestBuildSnapshotLockExpiry(t *testing.T) {
	lockedAt := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	actor := int64(7)
	c := PeriodClose{
		Status:   StatusLocked,
		LockedAt: &lockedAt,
		LockedBy: &actor,
		Tasks:    []Task{{Code: "TB-01", IsRequired: true, Status: TaskStatusCompleted}},
	}
	cfg := DefaultConfig()

	fresh := BuildSnapshot(c, AccountingPeriod{}, nil, cfg, lockedAt.Add(time.Hour))
	require.Equal(t, lockedAt.Add(72*time.Hour), *fresh.LockExpiresAt)
	require.False(t, fresh.LockExpired)
	require.True(t, fresh.CanComplete.Allowed)

	stale := BuildSnapshot(c, AccountingPeriod{}, nil, cfg, lockedAt.Add(80*time.Hour))
	require.True(t, stale.LockExpired)
	require.False(t, stale.CanComplete.Allowed)
	require.Contains(t, stale.CanComplete.Reasons, "lock expired, relock required")
}

func TestBuildSnapshotReopenDeadline(t *testing.T) {
	until := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	c := PeriodClose{Status: StatusInReview, Metadata: Metadata{ReopenCount: 1, ReopenUntil: &until}}
	cfg := DefaultConfig()

	open := BuildSnapshot(c, AccountingPeriod{}, nil, cfg, until.Add(-time.Hour))
	require.Equal(t, until, *open.ReopenUntil)
	require.False(t, open.ReopenExpired)
	require.Equal(t, 1, open.ReopenCount)

	overdue := BuildSnapshot(c, AccountingPeriod{}, nil, cfg, until.Add(time.Hour))
	require.True(t, overdue.ReopenExpired)

	c.Status = StatusClosed
	done := BuildSnapshot(c, AccountingPeriod{}, nil, cfg, until.Add(time.Hour))
	require.Nil(t, done.ReopenUntil)
	require.False(t, done.ReopenExpired)
}

func TestServiceSnapshot(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	_, err := f.svc.CreateAdjustment(context.Background(), accrual(c.ID))
	require.NoError(t, err)

	snap, err := f.svc.Snapshot(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, len(BuiltinTasks()), snap.TotalTasks)
	require.Equal(t, 1, snap.AdjustmentCount)
	require.Equal(t, int64(100), snap.Period.ID)
}
