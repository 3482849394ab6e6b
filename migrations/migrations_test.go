package migrations

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEveryUpMigrationHasADown(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	v, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), v)
	for {
		up, ident, err := src.ReadUp(v)
		require.NoError(t, err, ident)
		up.Close()
		down, _, err := src.ReadDown(v)
		require.NoError(t, err, ident)
		down.Close()

		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		require.NoError(t, err)
		require.Greater(t, next, v)
		v = next
	}
}

func readUp(t *testing.T, version uint) string {
	t.Helper()
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()
	r, _, err := src.ReadUp(version)
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func TestSchemaDeclaresConstraintsTheRepositoryRelies(t *testing.T) {
	sql := readUp(t, 1)

	require.Contains(t, sql, "CONSTRAINT uq_period_closes_period UNIQUE (period_id)")
	require.Contains(t, sql, "UNIQUE (close_id, sequence) DEFERRABLE INITIALLY DEFERRED")
	require.Contains(t, sql, "CONSTRAINT uq_template_tasks_code UNIQUE (template_id, code) DEFERRABLE INITIALLY DEFERRED")
	for _, table := range []string{
		"accounting_periods", "fiscal_years", "period_closes", "period_close_tasks",
		"period_close_templates", "period_close_template_tasks", "journal_entries", "journal_lines",
		"invoices", "bills", "payments", "expense_reports", "audit_logs", "approvals",
		"roles", "permissions", "role_permissions", "user_roles",
	} {
		require.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}

func TestDownDropsEveryTable(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()
	r, _, err := src.ReadDown(1)
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	down := string(body)

	for _, line := range strings.Split(readUp(t, 1), "\n") {
		name, ok := strings.CutPrefix(line, "CREATE TABLE IF NOT EXISTS ")
		if !ok {
			continue
		}
		name, _, _ = strings.Cut(name, " ")
		require.Contains(t, down, "DROP TABLE IF EXISTS "+name+";")
	}
}

func TestDatabaseURL(t *testing.T) {
	got, err := DatabaseURL("postgres://odyssey:secret@db:5432/odyssey?sslmode=disable")
	require.NoError(t, err)
	require.Equal(t, "pgx5://odyssey:secret@db:5432/odyssey?sslmode=disable&x-migrations-table="+VersionTable, got)

	got, err = DatabaseURL("postgresql://db/odyssey?x-migrations-table=custom")
	require.NoError(t, err)
	require.Equal(t, "pgx5://db/odyssey?x-migrations-table=custom", got)

	_, err = DatabaseURL("mysql://db/odyssey")
	require.Error(t, err)
}

func TestResultApplied(t *testing.T) {
	require.False(t, Result{From: 1, To: 1}.Applied())
	require.True(t, Result{From: 0, To: 1}.Applied())
}
