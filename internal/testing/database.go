package testing

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattsoldo/email-extractor-sub001/db"
)

// CreateTestDB creates a migrated SQLite database in a per-test temp dir.
// A file database is used so every pooled connection sees the same data.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "emx-test.db")
	conn, err := db.OpenWithMigrations(path, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// SeedRun inserts a minimal email set, prompt and running extraction run so
// rows referencing runID satisfy their foreign keys. It returns runID.
func SeedRun(t *testing.T, conn *sql.DB, runID string) string {
	t.Helper()

	now := time.Now().UTC()
	stmts := []struct {
		query string
		args  []interface{}
	}{
		{`INSERT OR IGNORE INTO email_sets (id, name, created_at) VALUES ('seed-set', 'seed', ?)`, []interface{}{now}},
		{`INSERT OR IGNORE INTO prompts (id, name, content, content_hash, created_at, updated_at)
			VALUES ('seed-prompt', 'seed', 'extract', 'hash', ?, ?)`, []interface{}{now, now}},
		{`INSERT INTO extraction_runs (id, set_id, model_id, prompt_id, prompt_hash, software_version, version,
			status, heartbeat_at, started_at, created_at, updated_at)
			VALUES (?, 'seed-set', 'seed-model', 'seed-prompt', 'hash', '0.0.0',
			(SELECT COALESCE(MAX(version), 0) + 1 FROM extraction_runs), 'running', ?, ?, ?, ?)`,
			[]interface{}{runID, now, now, now, now}},
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s.query, s.args...); err != nil {
			t.Fatalf("Failed to seed run %s: %v", runID, err)
		}
	}
	return runID
}
