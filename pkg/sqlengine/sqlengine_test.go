package sqlengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecAndQueryRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Exec(ctx, "CREATE TABLE accounts (id INTEGER PRIMARY KEY, balance INTEGER)", false)
	require.NoError(t, err)

	result, err := tx.Exec(ctx, "INSERT INTO accounts (id, balance) VALUES (1, 100)", false)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.AffectedRecords)

	result, err = tx.Exec(ctx, "SELECT id, balance FROM accounts", true)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.ElementsMatch(t, []string{"id", "balance"}, result.Columns)

	require.NoError(t, tx.Commit())
}

func TestRollbackDiscardsChanges(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	setup, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = setup.Exec(ctx, "CREATE TABLE accounts (id INTEGER PRIMARY KEY)", false)
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO accounts (id) VALUES (1)", false)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	verify, err := e.Begin(ctx)
	require.NoError(t, err)
	result, err := verify.Exec(ctx, "SELECT id FROM accounts", true)
	require.NoError(t, err)
	require.Empty(t, result.Rows)
	require.NoError(t, verify.Commit())
}

func TestApplyStatementsAppliesInOrderWithoutCommitting(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	setup, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = setup.Exec(ctx, "CREATE TABLE accounts (id INTEGER PRIMARY KEY, balance INTEGER)", false)
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	tx, err := e.ApplyStatements(ctx, []string{
		"INSERT INTO accounts (id, balance) VALUES (1, 50)",
		"UPDATE accounts SET balance = balance + 25 WHERE id = 1",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	verify, err := e.Begin(ctx)
	require.NoError(t, err)
	result, err := verify.Exec(ctx, "SELECT balance FROM accounts WHERE id = 1", true)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.EqualValues(t, 75, result.Rows[0]["balance"])
	require.NoError(t, verify.Commit())
}
