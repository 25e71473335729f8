package extraction

import (
	"github.com/mattsoldo/email-extractor-sub001/extract"
)

// PendingResult is a successful extraction waiting for the next commit.
type PendingResult struct {
	EmailID string
	Result  *extract.Result
}

// PendingCandidate is a candidate waiting for the next commit.
type PendingCandidate struct {
	EmailID   string
	Candidate extract.Candidate
}

// PendingFailure is a classified per-record failure waiting for the next
// commit.
type PendingFailure struct {
	EmailID   string
	ErrorType extract.ErrorType
	Message   string
}

// PendingNote is an informational outcome waiting for the next commit.
type PendingNote struct {
	EmailID string
	Notes   string
}

// Batch buffers per-record outcomes between commits. It is owned by a
// single execution and is not safe for concurrent use.
type Batch struct {
	Results       []PendingResult
	Candidates    []PendingCandidate
	Failures      []PendingFailure
	Informational []PendingNote
}

// AddResult buffers a successful extraction. Candidates are kept only for
// transactional results; anything else is an informational note.
func (b *Batch) AddResult(emailID string, res *extract.Result) {
	b.Results = append(b.Results, PendingResult{EmailID: emailID, Result: res})
	if !res.IsTransactional {
		b.Informational = append(b.Informational, PendingNote{EmailID: emailID, Notes: res.InformationalNote()})
		return
	}
	for _, c := range res.Transactions {
		b.Candidates = append(b.Candidates, PendingCandidate{EmailID: emailID, Candidate: c})
	}
}

// AddFailure buffers a per-record failure.
func (b *Batch) AddFailure(emailID string, errType extract.ErrorType, message string) {
	b.Failures = append(b.Failures, PendingFailure{EmailID: emailID, ErrorType: errType, Message: message})
}

// Len is the number of records buffered.
func (b *Batch) Len() int {
	return len(b.Results) + len(b.Failures)
}

// Empty reports whether nothing is buffered.
func (b *Batch) Empty() bool {
	return b.Len() == 0
}

// Reset discards everything buffered.
func (b *Batch) Reset() {
	b.Results = nil
	b.Candidates = nil
	b.Failures = nil
	b.Informational = nil
}

// Delta returns what committing b adds to the run totals.
func (b *Batch) Delta() (Counters, Stats) {
	c := Counters{
		EmailsProcessed:     b.Len(),
		TransactionsCreated: len(b.Candidates),
		InformationalCount:  len(b.Informational),
		ErrorCount:          len(b.Failures),
	}
	var s Stats
	for _, pc := range b.Candidates {
		s.Observe(pc.Candidate)
	}
	s.refreshAverage()
	return c, s
}
