package extraction

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mattsoldo/email-extractor-sub001/logger"
)

// EventType names a progress stream event.
type EventType string

const (
	EventStarted        EventType = "started"
	EventProgress       EventType = "progress"
	EventBatchCommitted EventType = "batch_committed"
	EventCompleted      EventType = "completed"
	EventError          EventType = "error"
)

// IsTerminal reports whether no event follows t.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventError
}

// Event is one progress stream message.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// StartedData opens the stream.
type StartedData struct {
	JobID            string `json:"jobId"`
	RunID            string `json:"runId"`
	TotalItems       int    `json:"totalItems"`
	ModelID          string `json:"modelId"`
	IsResume         bool   `json:"isResume"`
	AlreadyProcessed int    `json:"alreadyProcessed"`
}

// ProgressData follows every dispatch window. Counts include records
// committed by earlier attempts of the run.
type ProgressData struct {
	ProcessedItems     int `json:"processedItems"`
	TotalItems         int `json:"totalItems"`
	FailedItems        int `json:"failedItems"`
	InformationalItems int `json:"informationalItems"`
	TransactionsFound  int `json:"transactionsFound"`
}

// BatchCommittedData follows every successful commit.
type BatchCommittedData struct {
	TransactionsCommitted      int `json:"transactionsCommitted"`
	TotalTransactionsCommitted int `json:"totalTransactionsCommitted"`
	ProcessedItems             int `json:"processedItems"`
	TotalItems                 int `json:"totalItems"`
}

// CompletedData is the terminal event of a successful execution.
type CompletedData struct {
	RunID               string `json:"runId"`
	TransactionsCreated int    `json:"transactionsCreated"`
	EmailsProcessed     int    `json:"emailsProcessed"`
	ProcessingTimeMs    int64  `json:"processingTimeMs"`
}

// ErrorData is the terminal event of a failed or cancelled execution.
type ErrorData struct {
	Error string `json:"error"`
}

// Emitter receives progress events in order.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f.
func (f EmitterFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// ChannelEmitter sends events on a channel. With a nil Done it blocks
// until the consumer reads; otherwise events are dropped once Done closes.
type ChannelEmitter struct {
	C    chan<- Event
	Done <-chan struct{}
}

// Emit sends e.
func (c ChannelEmitter) Emit(e Event) {
	if c.Done == nil {
		c.C <- e
		return
	}
	select {
	case c.C <- e:
	case <-c.Done:
	}
}

// NewContextEmitter returns a ChannelEmitter that stops sending once ctx
// is done.
func NewContextEmitter(ctx context.Context, ch chan<- Event) ChannelEmitter {
	return ChannelEmitter{C: ch, Done: ctx.Done()}
}

// BufferedEmitter sends events on a buffered channel without ever blocking.
// While the buffer is full, non-terminal events are dropped and a terminal
// event evicts the oldest buffered one, so a consumer that comes back to
// the channel always ends on the terminal event.
type BufferedEmitter struct {
	C chan Event
}

// Emit sends e if there is room.
func (b BufferedEmitter) Emit(e Event) {
	for {
		select {
		case b.C <- e:
			return
		default:
		}
		if !e.Type.IsTerminal() {
			return
		}
		select {
		case <-b.C:
		default:
		}
	}
}

// LogEmitter writes events to a logger.
type LogEmitter struct {
	Logger *zap.SugaredLogger
}

// Emit logs e at info level, or warn for error events.
func (l LogEmitter) Emit(e Event) {
	log := logger.OrNop(l.Logger)
	data, _ := json.Marshal(e.Data)
	if e.Type == EventError {
		log.Warnw("Extraction event", "event", string(e.Type), "data", string(data))
		return
	}
	log.Infow("Extraction event", "event", string(e.Type), "data", string(data))
}

// MultiEmitter fans events out to several emitters in order.
type MultiEmitter []Emitter

// Emit forwards e to every non-nil emitter.
func (m MultiEmitter) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}
