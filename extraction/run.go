// Package extraction runs extraction over an email set: it owns the run
// lifecycle, dispatches invoker calls in concurrency windows, commits
// results in atomic batches and reports progress as a stream of events.
package extraction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mattsoldo/email-extractor-sub001/extract"
)

// RunStatus is the durable status of an extraction run. Pausing is tracked
// on the job, not the run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Counters are the cumulative totals of a run.
type Counters struct {
	EmailsProcessed     int `json:"emailsProcessed"`
	TransactionsCreated int `json:"transactionsCreated"`
	InformationalCount  int `json:"informationalCount"`
	ErrorCount          int `json:"errorCount"`
}

// Add returns c + o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		EmailsProcessed:     c.EmailsProcessed + o.EmailsProcessed,
		TransactionsCreated: c.TransactionsCreated + o.TransactionsCreated,
		InformationalCount:  c.InformationalCount + o.InformationalCount,
		ErrorCount:          c.ErrorCount + o.ErrorCount,
	}
}

// Stats is the run's statistics blob.
type Stats struct {
	TypeCounts        map[extract.TransactionType]int `json:"typeCounts,omitempty"`
	ConfidenceSum     decimal.Decimal                 `json:"confidenceSum"`
	ConfidenceCount   int                             `json:"confidenceCount"`
	AverageConfidence *decimal.Decimal                `json:"averageConfidence,omitempty"`
	ProcessingTimeMs  int64                           `json:"processingTimeMs"`
	CanResume         bool                            `json:"canResume,omitempty"`
	Error             string                          `json:"error,omitempty"`
}

// Observe folds one buffered candidate into the statistics.
func (s *Stats) Observe(c extract.Candidate) {
	if s.TypeCounts == nil {
		s.TypeCounts = make(map[extract.TransactionType]int)
	}
	s.TypeCounts[c.Type]++
	s.ConfidenceSum = s.ConfidenceSum.Add(c.Confidence)
	s.ConfidenceCount++
}

// Merge returns s combined with o. Terminal fields are taken from s.
func (s Stats) Merge(o Stats) Stats {
	out := s
	out.TypeCounts = make(map[extract.TransactionType]int, len(s.TypeCounts)+len(o.TypeCounts))
	for t, n := range s.TypeCounts {
		out.TypeCounts[t] += n
	}
	for t, n := range o.TypeCounts {
		out.TypeCounts[t] += n
	}
	if len(out.TypeCounts) == 0 {
		out.TypeCounts = nil
	}
	out.ConfidenceSum = s.ConfidenceSum.Add(o.ConfidenceSum)
	out.ConfidenceCount = s.ConfidenceCount + o.ConfidenceCount
	out.ProcessingTimeMs = s.ProcessingTimeMs + o.ProcessingTimeMs
	out.refreshAverage()
	return out
}

func (s *Stats) refreshAverage() {
	if s.ConfidenceCount == 0 {
		s.AverageConfidence = nil
		return
	}
	avg := s.ConfidenceSum.Div(decimal.NewFromInt(int64(s.ConfidenceCount))).Round(4)
	s.AverageConfidence = &avg
}

// Run is one logical extraction attempt over a set. A run may span several
// jobs when it is resumed.
type Run struct {
	ID              string     `json:"id"`
	SetID           string     `json:"setId"`
	ModelID         string     `json:"modelId"`
	PromptID        string     `json:"promptId"`
	PromptHash      string     `json:"promptHash"`
	SoftwareVersion string     `json:"softwareVersion"`
	Version         int        `json:"version"`
	Name            string     `json:"name,omitempty"`
	Description     string     `json:"description,omitempty"`
	Status          RunStatus  `json:"status"`
	Counters        Counters   `json:"counters"`
	Stats           Stats      `json:"stats"`
	TargetEmailIDs  []string   `json:"targetEmailIds,omitempty"`
	SampleSize      *int       `json:"sampleSize,omitempty"`
	HeartbeatAt     time.Time  `json:"heartbeatAt"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// GuardKey identifies runs that would repeat the same work.
type GuardKey struct {
	SetID           string
	ModelID         string
	PromptID        string
	PromptHash      string
	SoftwareVersion string
}

// Key returns the run's guard key.
func (r *Run) Key() GuardKey {
	return GuardKey{
		SetID:           r.SetID,
		ModelID:         r.ModelID,
		PromptID:        r.PromptID,
		PromptHash:      r.PromptHash,
		SoftwareVersion: r.SoftwareVersion,
	}
}
