package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// Store handles persistence of jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (
			id, run_id, status,
			progress_current, progress_total, progress_failed,
			progress_informational, progress_transactions,
			error, created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.RunID,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		job.Progress.Failed,
		job.Progress.Informational,
		job.Progress.Transactions,
		nullString(job.Error),
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// UpdateJob writes every mutable column of job
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	query := `
		UPDATE jobs
		SET status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    progress_failed = ?,
		    progress_informational = ?,
		    progress_transactions = ?,
		    error = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		job.Progress.Failed,
		job.Progress.Informational,
		job.Progress.Transactions,
		nullString(job.Error),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	return requireAffected(result, job.ID)
}

// UpdateProgress writes only the progress counters, leaving the status to
// whoever controls it.
func (s *Store) UpdateProgress(ctx context.Context, id string, p Progress, now time.Time) error {
	query := `
		UPDATE jobs
		SET progress_current = ?,
		    progress_total = ?,
		    progress_failed = ?,
		    progress_informational = ?,
		    progress_transactions = ?,
		    updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query,
		p.Current, p.Total, p.Failed, p.Informational, p.Transactions, now.UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update job progress")
	}
	return nil
}

// TransitionStatus moves job id to status to, provided its current status
// is one of from. It returns false without error when the job was not in
// an allowed status.
func (s *Store) TransitionStatus(ctx context.Context, id string, to JobStatus, errMsg string, now time.Time, from ...JobStatus) (bool, error) {
	return TransitionStatusTx(ctx, s.db, id, to, errMsg, now, from...)
}

// TransitionStatusTx is TransitionStatus on an open transaction.
func TransitionStatusTx(ctx context.Context, exec db.Execer, id string, to JobStatus, errMsg string, now time.Time, from ...JobStatus) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source status")
	}
	now = now.UTC()

	set := "status = ?, updated_at = ?"
	args := []interface{}{to, now}
	switch {
	case to == JobStatusRunning:
		set += ", started_at = COALESCE(started_at, ?)"
		args = append(args, now)
	case to.IsTerminal():
		set += ", completed_at = ?, error = ?"
		args = append(args, now, nullString(errMsg))
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ? AND status IN (%s)`, set, db.Placeholders(len(from)))
	args = append(args, id)
	for _, f := range from {
		args = append(args, f)
	}

	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "failed to move job to %s", to)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListActiveJobs returns all jobs that are pending, running or paused
func (s *Store) ListActiveJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := `SELECT ` + selectColumns + `
		FROM jobs
		WHERE status IN ('pending', 'running', 'paused')
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "active jobs")
}

// ListJobsByRun returns the attempts of one run, oldest first
func (s *Store) ListJobsByRun(ctx context.Context, runID string) ([]*Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE run_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by run")
	}
	defer rows.Close()

	return scanJobs(rows, "run jobs")
}

// FailStaleJobs marks active jobs whose last update is older than cutoff as
// failed, skipping the ids in exclude. It returns the number of jobs swept.
func (s *Store) FailStaleJobs(ctx context.Context, cutoff time.Time, message string, now time.Time, exclude []string) (int, error) {
	query := `
		UPDATE jobs
		SET status = 'failed', error = ?, completed_at = ?, updated_at = ?
		WHERE status IN ('pending', 'running', 'paused')
		  AND updated_at < ?`
	args := []interface{}{message, now.UTC(), now.UTC(), cutoff.UTC()}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (` + db.Placeholders(len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep stale jobs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// FailJobsForRuns marks the active jobs of the given runs as failed.
func (s *Store) FailJobsForRuns(ctx context.Context, runIDs []string, message string, now time.Time) (int, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	query := `
		UPDATE jobs
		SET status = 'failed', error = ?, completed_at = ?, updated_at = ?
		WHERE status IN ('pending', 'running', 'paused')
		  AND run_id IN (` + db.Placeholders(len(runIDs)) + `)`
	args := []interface{}{message, now.UTC(), now.UTC()}
	for _, id := range runIDs {
		args = append(args, id)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to fail jobs for runs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return jobs, nil
}

func requireAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
