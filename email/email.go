// Package email holds the source records extraction runs read from.
package email

import (
	"encoding/json"
	"time"
)

// Status is the processing state of a source record.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped"
	StatusInformational Status = "informational"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusSkipped, StatusInformational:
		return true
	}
	return false
}

// Set is a named collection of records an extraction run targets.
type Set struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one parsed email.
type Record struct {
	ID               string          `json:"id"`
	SetID            string          `json:"set_id"`
	Filename         string          `json:"filename,omitempty"`
	Subject          string          `json:"subject"`
	Sender           string          `json:"sender"`
	ReceivedAt       *time.Time      `json:"received_at,omitempty"`
	Body             string          `json:"body"`
	Status           Status          `json:"status"`
	Error            string          `json:"error,omitempty"`
	SkipReason       string          `json:"skip_reason,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	ExtractedPayload json.RawMessage `json:"extracted_payload,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// StatusUpdate is a pending status change produced by a batch commit.
// Error is set for failed records, Notes for informational ones, and
// Payload carries the raw result recorded on the source row.
type StatusUpdate struct {
	ID      string
	Status  Status
	Error   string
	Notes   string
	Payload json.RawMessage
}
