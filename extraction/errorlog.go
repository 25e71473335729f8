package extraction

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/extract"
)

const errorLogColumnCount = 7

// ErrorLogEntry is one classified per-record failure.
type ErrorLogEntry struct {
	ID        string            `json:"id"`
	RunID     string            `json:"runId"`
	JobID     string            `json:"jobId"`
	EmailID   string            `json:"emailId"`
	ErrorType extract.ErrorType `json:"errorType"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ErrorLog persists per-record failures.
type ErrorLog struct {
	db *sql.DB
}

// NewErrorLog creates an error log.
func NewErrorLog(conn *sql.DB) *ErrorLog {
	return &ErrorLog{db: conn}
}

// InsertTx writes entries through q.
func (l *ErrorLog) InsertTx(ctx context.Context, q db.Execer, entries []ErrorLogEntry, chunkSize int) error {
	for _, chunk := range db.Chunk(entries, chunkSize) {
		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*errorLogColumnCount)
		for _, e := range chunk {
			values = append(values, "("+db.Placeholders(errorLogColumnCount)+")")
			args = append(args, e.ID, e.RunID, e.JobID, e.EmailID, string(e.ErrorType), e.Message, e.CreatedAt.UTC())
		}
		query := `INSERT INTO extraction_logs (id, run_id, job_id, email_id, error_type, message, created_at)
			VALUES ` + strings.Join(values, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "failed to insert %d error log entries", len(chunk))
		}
	}
	return nil
}

// ListByRun returns the failures recorded for runID, oldest first.
func (l *ErrorLog) ListByRun(ctx context.Context, runID string) ([]ErrorLogEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, job_id, email_id, error_type, message, created_at
		FROM extraction_logs WHERE run_id = ? ORDER BY created_at, email_id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list error log of run %s", runID)
	}
	defer rows.Close()

	var entries []ErrorLogEntry
	for rows.Next() {
		var e ErrorLogEntry
		var errType string
		if err := rows.Scan(&e.ID, &e.RunID, &e.JobID, &e.EmailID, &errType, &e.Message, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan error log entry")
		}
		e.ErrorType = extract.ErrorType(errType)
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "failed to iterate error log")
}
