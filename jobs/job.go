// Package jobs persists the UI-facing progress record of an extraction
// attempt and the pause, resume and cancel controls acting on it.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress represents job progress information
type Progress struct {
	Current       int `json:"current"`       // Records processed, including those from earlier attempts
	Total         int `json:"total"`         // Records targeted by the run
	Failed        int `json:"failed"`        // Per-record errors in this attempt
	Informational int `json:"informational"` // Non-transactional records
	Transactions  int `json:"transactions"`  // Transactions found
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job is one execution attempt of an extraction run.
type Job struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Status      JobStatus  `json:"status"`
	Progress    Progress   `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJob creates a pending job for runID covering total records.
func NewJob(runID string, total int, now time.Time) (*Job, error) {
	if runID == "" {
		return nil, errors.New("runID cannot be empty")
	}
	now = now.UTC()
	return &Job{
		ID:        uuid.NewString(),
		RunID:     runID,
		Status:    JobStatusPending,
		Progress:  Progress{Total: total},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start(now time.Time) {
	now = now.UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Pause marks the job as paused
func (j *Job) Pause(now time.Time) {
	j.Status = JobStatusPaused
	j.UpdatedAt = now.UTC()
}

// Resume marks the job as running again
func (j *Job) Resume(now time.Time) {
	j.Status = JobStatusRunning
	j.UpdatedAt = now.UTC()
}

// Complete marks the job as completed
func (j *Job) Complete(now time.Time) {
	now = now.UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error, now time.Time) {
	now = now.UTC()
	j.Status = JobStatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string, now time.Time) {
	now = now.UTC()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// allowedFrom lists the statuses each target status may be entered from.
var allowedFrom = map[JobStatus][]JobStatus{
	JobStatusRunning:   {JobStatusPending, JobStatusPaused},
	JobStatusPaused:    {JobStatusRunning},
	JobStatusCompleted: {JobStatusRunning},
	JobStatusFailed:    {JobStatusPending, JobStatusRunning, JobStatusPaused},
	JobStatusCancelled: {JobStatusPending, JobStatusRunning, JobStatusPaused},
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}
