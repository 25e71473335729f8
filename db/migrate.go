package db

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

var createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(\w+)`)

// Migration is one embedded schema file, named NNN_description.sql.
type Migration struct {
	Version string
	File    string
	Tables  []string
	SQL     string
}

// Migrations returns every embedded migration in version order.
func Migrations() ([]Migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migrations")
	}

	var all []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		body, err := migrations.ReadFile(path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", entry.Name())
		}
		m := Migration{
			Version: strings.SplitN(entry.Name(), "_", 2)[0],
			File:    entry.Name(),
			SQL:     string(body),
		}
		for _, match := range createTableRe.FindAllStringSubmatch(m.SQL, -1) {
			m.Tables = append(m.Tables, match[1])
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Version < all[j].Version })
	return all, nil
}

// PendingMigrations returns the migrations not yet recorded in
// schema_migrations. On a fresh database that is all of them.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]Migration, error) {
	all, err := Migrations()
	if err != nil {
		return nil, err
	}

	var tracked int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&tracked)
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect schema")
	}
	if tracked == 0 {
		return all, nil
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read applied migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read applied migrations")
	}

	var pending []Migration
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Migrate applies every pending migration, each in its own transaction
// together with its schema_migrations row. A failed migration leaves the
// earlier ones applied.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	ctx := context.Background()
	pending, err := PendingMigrations(ctx, db)
	if err != nil {
		return err
	}
	tables := 0
	for _, m := range pending {
		if logger != nil {
			logger.Infow("Applying migration",
				"migration", m.File,
				"version", m.Version,
				"tables", m.Tables)
		}
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return errors.Wrapf(err, "failed to execute %s", m.File)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
				return errors.Wrapf(err, "failed to record %s", m.File)
			}
			return nil
		})
		if err != nil {
			err = errors.WithDetailf(err, "migration %s (tables: %s) was rolled back", m.Version, strings.Join(m.Tables, ", "))
			return errors.WithHint(err, "earlier migrations stay applied; fix the schema and run `emx db migrate` again")
		}
		tables += len(m.Tables)
	}

	if logger != nil {
		if len(pending) == 0 {
			logger.Debugw("Schema is up to date")
		} else {
			logger.Infow("Migrations complete",
				"applied", len(pending),
				"tables_created", tables)
		}
	}
	return nil
}
