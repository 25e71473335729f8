package jobs

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns of a job row.
type jobScanArgs struct {
	ErrorMsg    sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.RunID,
		&job.Status,
		&job.Progress.Current,
		&job.Progress.Total,
		&job.Progress.Failed,
		&job.Progress.Informational,
		&job.Progress.Transactions,
		&args.ErrorMsg,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var args jobScanArgs
	if err := row.Scan(scanTargets(&job, &args)...); err != nil {
		return nil, err
	}

	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// selectColumns is the column list matching scanTargets
const selectColumns = `id, run_id, status,
		progress_current, progress_total, progress_failed,
		progress_informational, progress_transactions,
		error, created_at, started_at, completed_at, updated_at`
