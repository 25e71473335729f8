package extraction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// maxVersionAttempts bounds retries when two processes allocate the same
// run version.
const maxVersionAttempts = 5

const runColumns = `id, set_id, model_id, prompt_id, prompt_hash, software_version, version,
	name, description, status, emails_processed, transactions_created, informational_count,
	error_count, stats, target_email_ids, sample_size, heartbeat_at, started_at, completed_at,
	created_at, updated_at`

// RunStore persists extraction runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run store.
func NewRunStore(conn *sql.DB) *RunStore {
	return &RunStore{db: conn}
}

// Create inserts run with version = max(version) + 1. The version is
// allocated inside the insert transaction and retried on a unique
// conflict.
func (s *RunStore) Create(ctx context.Context, run *Run) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return errors.Wrap(err, "failed to encode run stats")
	}
	var targets interface{}
	if run.TargetEmailIDs != nil {
		raw, err := json.Marshal(run.TargetEmailIDs)
		if err != nil {
			return errors.Wrap(err, "failed to encode target emails")
		}
		targets = string(raw)
	}

	for attempt := 1; ; attempt++ {
		var version int
		err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(version), 0) + 1 FROM extraction_runs`).Scan(&version); err != nil {
				return errors.Wrap(err, "failed to allocate run version")
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO extraction_runs (`+runColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, run.SetID, run.ModelID, run.PromptID, run.PromptHash, run.SoftwareVersion, version,
				run.Name, run.Description, run.Status,
				run.Counters.EmailsProcessed, run.Counters.TransactionsCreated,
				run.Counters.InformationalCount, run.Counters.ErrorCount,
				string(stats), targets, run.SampleSize,
				run.HeartbeatAt.UTC(), run.StartedAt.UTC(), nil, run.CreatedAt.UTC(), run.UpdatedAt.UTC())
			return err
		})
		if err == nil {
			run.Version = version
			return nil
		}
		if !db.IsUniqueViolation(err) || attempt >= maxVersionAttempts {
			err = errors.Wrap(err, "failed to create extraction run")
			return errors.WithDetail(err, fmt.Sprintf("Run ID: %s", run.ID))
		}
	}
}

// Get returns one run.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("extraction run not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get extraction run %s", id)
	}
	return run, nil
}

// List returns runs newest version first.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs ORDER BY version DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list extraction runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan extraction run")
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "failed to iterate extraction runs")
}

// FindCompleted returns the newest completed run with work done for key,
// or nil when there is none.
func (s *RunStore) FindCompleted(ctx context.Context, key GuardKey) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+`
		FROM extraction_runs
		WHERE set_id = ? AND model_id = ? AND prompt_id = ? AND prompt_hash = ?
		  AND software_version = ? AND status = 'completed' AND emails_processed > 0
		ORDER BY version DESC LIMIT 1`,
		key.SetID, key.ModelID, key.PromptID, key.PromptHash, key.SoftwareVersion))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up completed runs")
	}
	return run, nil
}

// UpdateProgressTx writes cumulative counters and stats through q and
// refreshes the heartbeat.
func (s *RunStore) UpdateProgressTx(ctx context.Context, q db.Execer, runID string, c Counters, stats Stats, now time.Time) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "failed to encode run stats")
	}
	res, err := q.ExecContext(ctx, `
		UPDATE extraction_runs
		SET emails_processed = ?, transactions_created = ?, informational_count = ?,
		    error_count = ?, stats = ?, heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		c.EmailsProcessed, c.TransactionsCreated, c.InformationalCount, c.ErrorCount,
		string(raw), now.UTC(), now.UTC(), runID)
	if err != nil {
		return errors.Wrapf(err, "failed to update progress of run %s", runID)
	}
	return requireRunning(res, runID)
}

// Heartbeat marks a running run as alive.
func (s *RunStore) Heartbeat(ctx context.Context, runID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE extraction_runs SET heartbeat_at = ? WHERE id = ? AND status = 'running'`, now.UTC(), runID)
	return errors.Wrapf(err, "failed to heartbeat run %s", runID)
}

// CompleteTx moves a running run to completed with its final totals.
func (s *RunStore) CompleteTx(ctx context.Context, q db.Execer, runID string, c Counters, stats Stats, now time.Time) error {
	return s.finish(ctx, q, runID, RunStatusCompleted, c, stats, now)
}

// Fail moves a running run to failed, keeping what was committed.
func (s *RunStore) Fail(ctx context.Context, runID string, c Counters, stats Stats, now time.Time) error {
	return s.finish(ctx, s.db, runID, RunStatusFailed, c, stats, now)
}

func (s *RunStore) finish(ctx context.Context, q db.Execer, runID string, status RunStatus, c Counters, stats Stats, now time.Time) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "failed to encode run stats")
	}
	res, err := q.ExecContext(ctx, `
		UPDATE extraction_runs
		SET status = ?, emails_processed = ?, transactions_created = ?, informational_count = ?,
		    error_count = ?, stats = ?, completed_at = ?, heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		status, c.EmailsProcessed, c.TransactionsCreated, c.InformationalCount, c.ErrorCount,
		string(raw), now.UTC(), now.UTC(), now.UTC(), runID)
	if err != nil {
		return errors.Wrapf(err, "failed to mark run %s %s", runID, status)
	}
	return requireRunning(res, runID)
}

// MarkResumed moves a failed run back to running. It returns false when
// the run was not failed.
func (s *RunStore) MarkResumed(ctx context.Context, runID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_runs
		SET status = 'running', completed_at = NULL, heartbeat_at = ?, updated_at = ?,
		    stats = json_remove(stats, '$.canResume', '$.error')
		WHERE id = ? AND status = 'failed'`,
		now.UTC(), now.UTC(), runID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to resume run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}

// SweepStale fails running runs whose heartbeat is older than cutoff,
// except those in exclude. Each update re-checks the heartbeat so a run
// that came back to life in between is left alone. It returns the ids of
// the runs swept.
func (s *RunStore) SweepStale(ctx context.Context, cutoff time.Time, message string, now time.Time, exclude []string) ([]string, error) {
	query := `SELECT id, stats FROM extraction_runs WHERE status = 'running' AND heartbeat_at < ?`
	args := []interface{}{cutoff.UTC()}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (` + db.Placeholders(len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}

	type candidate struct {
		id    string
		stats Stats
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale runs")
	}
	var stale []candidate
	for rows.Next() {
		var c candidate
		var raw string
		if err := rows.Scan(&c.id, &raw); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan stale run")
		}
		if err := json.Unmarshal([]byte(raw), &c.stats); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "invalid stats on run %s", c.id)
		}
		stale = append(stale, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate stale runs")
	}

	var swept []string
	for _, c := range stale {
		c.stats.CanResume = true
		c.stats.Error = message
		raw, err := json.Marshal(c.stats)
		if err != nil {
			return swept, errors.Wrap(err, "failed to encode run stats")
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE extraction_runs
			SET status = 'failed', stats = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND status = 'running' AND heartbeat_at < ?`,
			string(raw), now.UTC(), now.UTC(), c.id, cutoff.UTC())
		if err != nil {
			return swept, errors.Wrapf(err, "failed to sweep run %s", c.id)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			swept = append(swept, c.id)
		}
	}
	return swept, nil
}

func requireRunning(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.WithDetail(
			errors.Newf("extraction run %s is no longer running", runID),
			fmt.Sprintf("Run ID: %s", runID))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var stats string
	var targets sql.NullString
	var sampleSize sql.NullInt64
	var completedAt sql.NullTime

	if err := row.Scan(&run.ID, &run.SetID, &run.ModelID, &run.PromptID, &run.PromptHash,
		&run.SoftwareVersion, &run.Version, &run.Name, &run.Description, &run.Status,
		&run.Counters.EmailsProcessed, &run.Counters.TransactionsCreated,
		&run.Counters.InformationalCount, &run.Counters.ErrorCount,
		&stats, &targets, &sampleSize, &run.HeartbeatAt, &run.StartedAt, &completedAt,
		&run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, errors.Wrapf(err, "invalid stats on run %s", run.ID)
	}
	if targets.Valid {
		if err := json.Unmarshal([]byte(targets.String), &run.TargetEmailIDs); err != nil {
			return nil, errors.Wrapf(err, "invalid target emails on run %s", run.ID)
		}
	}
	if sampleSize.Valid {
		n := int(sampleSize.Int64)
		run.SampleSize = &n
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}
