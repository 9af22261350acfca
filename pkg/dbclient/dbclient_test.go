package dbclient

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/controller"
	"github.com/kavindu-dev/distribtx/pkg/controllerclient"
	"github.com/kavindu-dev/distribtx/pkg/history"
	"github.com/kavindu-dev/distribtx/pkg/siteserver"
	"github.com/kavindu-dev/distribtx/pkg/sqlengine"
)

func newTestSite(t *testing.T) string {
	t.Helper()

	c := controller.New(controller.Config{LivenessInterval: time.Hour, ReplicationTimeout: time.Second}, zap.NewNop(), prometheus.NewRegistry())
	controllerServer := httptest.NewServer(controller.NewServer(c, "").Handler())
	t.Cleanup(controllerServer.Close)

	ccClient := controllerclient.New(controllerServer.Listener.Addr().String(), 5*time.Second)

	engine, err := sqlengine.Open(filepath.Join(t.TempDir(), "site.db"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	ctx := context.Background()
	tx, err := engine.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "CREATE TABLE accounts (id INTEGER PRIMARY KEY, balance INTEGER)", false)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	executor := siteserver.New(0, engine, ccClient, history.NopLogger{}, zap.NewNop(), prometheus.NewRegistry(), 5*time.Second)
	siteServer := httptest.NewServer(siteserver.NewServer(executor, "").Handler())
	t.Cleanup(siteServer.Close)

	return siteServer.Listener.Addr().String()
}

func TestSessionSingleStatementExec(t *testing.T) {
	addr := newTestSite(t)
	ctx := context.Background()

	session, err := Connect(ctx, addr, 5*time.Second)
	require.NoError(t, err)

	result, err := session.Exec(ctx, "INSERT INTO accounts (id, balance) VALUES (1, 100)", nil, []string{"accounts"}, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, *result.AffectedRecords)
}

func TestSessionTransactionLifecycle(t *testing.T) {
	addr := newTestSite(t)
	ctx := context.Background()

	session, err := Connect(ctx, addr, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, session.Begin(ctx, nil))
	require.Error(t, session.Begin(ctx, nil), "a second Begin should fail while one transaction is open")

	_, err = session.Exec(ctx, "INSERT INTO accounts (id, balance) VALUES (2, 50)", nil, []string{"accounts"}, false)
	require.NoError(t, err)

	require.NoError(t, session.Commit(ctx))
	require.False(t, session.InTransaction())
}

func TestSessionAbortDiscardsChanges(t *testing.T) {
	addr := newTestSite(t)
	ctx := context.Background()

	session, err := Connect(ctx, addr, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, session.Begin(ctx, nil))
	_, err = session.Exec(ctx, "INSERT INTO accounts (id, balance) VALUES (3, 5)", nil, []string{"accounts"}, false)
	require.NoError(t, err)
	require.NoError(t, session.Abort(ctx))

	result, err := session.Exec(ctx, "SELECT id FROM accounts WHERE id = 3", []string{"accounts"}, nil, true)
	require.NoError(t, err)
	require.Empty(t, result.Rows)
}
