package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{
		"schema_migrations", "email_sets", "emails", "prompts", "accounts",
		"account_corpora", "account_corpus_suggestions", "extraction_runs",
		"transactions", "extraction_records", "jobs", "extraction_logs",
	} {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n))
		assert.Equal(t, 1, n, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	var before int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&before))

	require.NoError(t, Migrate(db, nil))

	var after int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&after))
	assert.Equal(t, before, after)
	assert.Equal(t, 9, after)
}

func TestMigrations_ParsesVersionsAndTables(t *testing.T) {
	all, err := Migrations()
	require.NoError(t, err)
	require.Len(t, all, 9)
	assert.Equal(t, "000", all[0].Version)
	assert.Equal(t, []string{"schema_migrations"}, all[0].Tables)

	byVersion := map[string]Migration{}
	for _, m := range all {
		byVersion[m.Version] = m
	}
	assert.Equal(t, []string{"account_corpora", "accounts", "account_corpus_suggestions"}, byVersion["003"].Tables)
}

func TestPendingMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	pending, err := PendingMigrations(ctx, db)
	require.NoError(t, err)
	assert.Len(t, pending, 9, "fresh database has everything pending")

	require.NoError(t, Migrate(db, nil))
	pending, err = PendingMigrations(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = db.Exec(`DELETE FROM schema_migrations WHERE version = '008'`)
	require.NoError(t, err)
	pending, err = PendingMigrations(ctx, db)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "008_create_extraction_logs.sql", pending[0].File)
}
