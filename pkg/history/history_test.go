package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileLoggerWriteAndReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.log")

	logger, err := OpenFileLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(1, 0, 42, "begin", ""))
	require.NoError(t, logger.Log(1, 0, 42, "commit", ""))
	require.NoError(t, logger.LogReplication(0, []string{"UPDATE accounts SET balance = 1"}))
	require.NoError(t, logger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	events, err := ReadEvents(f)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "begin", events[0].Kind)
	require.Equal(t, "commit", events[1].Kind)
	require.Equal(t, "replication", events[2].Kind)
	require.EqualValues(t, 42, events[1].TransactionID)
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	var logger Logger = NopLogger{}
	require.NoError(t, logger.Log(1, 0, 1, "begin", ""))
	require.NoError(t, logger.LogReplication(0, nil))
	require.NoError(t, logger.Close())
}
