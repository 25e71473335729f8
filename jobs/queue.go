package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// Queue applies status controls to persisted jobs. Every transition is a
// conditional update, so two processes racing on the same job cannot both
// succeed.
type Queue struct {
	store *Store
	now   func() time.Time
}

// NewQueue creates a job queue over db
func NewQueue(db *sql.DB) *Queue {
	return NewQueueWithStore(NewStore(db))
}

// NewQueueWithStore creates a queue sharing an existing store
func NewQueueWithStore(store *Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// Store returns the underlying job store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue persists a new job
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if err := q.store.CreateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Run ID: %s", job.RunID))
		return err
	}
	return nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// StartJob moves a pending job to running
func (q *Queue) StartJob(ctx context.Context, id string) error {
	return q.transition(ctx, id, JobStatusRunning, "", "start")
}

// PauseJob pauses a running job. The executing process notices at its next
// window boundary.
func (q *Queue) PauseJob(ctx context.Context, id string) error {
	return q.transition(ctx, id, JobStatusPaused, "", "pause")
}

// ResumeJob resumes a paused job
func (q *Queue) ResumeJob(ctx context.Context, id string) error {
	return q.transition(ctx, id, JobStatusRunning, "", "resume")
}

// CancelJob cancels a pending, running or paused job
func (q *Queue) CancelJob(ctx context.Context, id string, reason string) error {
	return q.transition(ctx, id, JobStatusCancelled, reason, "cancel")
}

// CompleteJob marks a running job as completed
func (q *Queue) CompleteJob(ctx context.Context, id string) error {
	return q.transition(ctx, id, JobStatusCompleted, "", "complete")
}

// FailJob marks an active job as failed
func (q *Queue) FailJob(ctx context.Context, id string, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return q.transition(ctx, id, JobStatusFailed, msg, "fail")
}

func (q *Queue) transition(ctx context.Context, id string, to JobStatus, msg, verb string) error {
	// resume must come from paused only, start from pending only
	from := allowedFrom[to]
	switch verb {
	case "resume":
		from = []JobStatus{JobStatusPaused}
	case "start":
		from = []JobStatus{JobStatusPending}
	}

	ok, err := q.store.TransitionStatus(ctx, id, to, msg, q.now(), from...)
	if err != nil {
		err = errors.Wrapf(err, "failed to %s job %s", verb, id)
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	if ok {
		return nil
	}

	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		err = errors.Wrapf(err, "failed to %s job %s", verb, id)
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	err = errors.Wrapf(errors.ErrInvalidTransition, "cannot %s job %s (status: %s)", verb, id, job.Status)
	err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	err = errors.WithDetail(err, fmt.Sprintf("Current status: %s", job.Status))
	err = errors.WithDetail(err, fmt.Sprintf("Run ID: %s", job.RunID))
	return err
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	return q.store.ListJobs(ctx, status, limit)
}

// ListActiveJobs returns pending, running and paused jobs
func (q *Queue) ListActiveJobs(ctx context.Context, limit int) ([]*Job, error) {
	return q.store.ListActiveJobs(ctx, limit)
}
