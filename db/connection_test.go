package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen(t *testing.T) {
	t.Run("opens database with pragmas", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, 5000, busyTimeout)
	})

	t.Run("fails for unwritable path", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"), nil)
		require.Error(t, err)
	})
}

func TestDSN(t *testing.T) {
	got := dsn("/tmp/emx.db")
	assert.Contains(t, got, "file:/tmp/emx.db?")
	assert.Contains(t, got, "_txlock=immediate")
	assert.Contains(t, got, "_foreign_keys=on")
}
