package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAdjustmentInputValidate(t *testing.T) {
	base := AdjustmentInput{
		CompanyID:     1,
		PeriodCloseID: 7,
		Reference:     "ADJ-1",
		Date:          time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	cases := []struct {
		name  string
		lines []Line
		want  error
	}{
		{"balanced", []Line{
			{AccountID: 1, Debit: decimal.NewFromInt(100)},
			{AccountID: 2, Credit: decimal.NewFromInt(100)},
		}, nil},
		{"within tolerance", []Line{
			{AccountID: 1, Debit: decimal.RequireFromString("100.005")},
			{AccountID: 2, Credit: decimal.NewFromInt(100)},
		}, nil},
		{"unbalanced", []Line{
			{AccountID: 1, Debit: decimal.NewFromInt(100)},
			{AccountID: 2, Credit: decimal.NewFromInt(90)},
		}, ErrUnbalanced},
		{"no lines", nil, ErrNoLines},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			in.Lines = tc.lines
			err := in.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAdjustmentInputRejectsTwoSidedLine(t *testing.T) {
	in := AdjustmentInput{CompanyID: 1, PeriodCloseID: 2, Lines: []Line{
		{AccountID: 1, Debit: decimal.NewFromInt(5), Credit: decimal.NewFromInt(5)},
	}}
	require.ErrorContains(t, in.Validate(), "exactly one of debit or credit")
}

func TestTotals(t *testing.T) {
	e := Entry{Lines: []Line{
		{Debit: decimal.RequireFromString("10.50")},
		{Debit: decimal.RequireFromString("4.50")},
		{Credit: decimal.NewFromInt(15)},
	}}
	d, c := e.Totals()
	require.True(t, d.Equal(decimal.NewFromInt(15)))
	require.True(t, c.Equal(decimal.NewFromInt(15)))
}

func TestEveryDocumentKindHasQuery(t *testing.T) {
	for _, kind := range []DocumentKind{KindInvoices, KindJournalEntries, KindBills, KindPayments, KindExpenseReports} {
		require.Contains(t, unpostedQueries, kind)
	}
	_, err := New(nil).CountUnposted(t.Context(), "receipts", 1, time.Time{}, time.Time{})
	require.ErrorIs(t, err, ErrUnknownDocument)
}
