package extraction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/extract"
	"github.com/mattsoldo/email-extractor-sub001/jobs"
	"github.com/mattsoldo/email-extractor-sub001/logger"
	"github.com/mattsoldo/email-extractor-sub001/prompt"
)

// Summary describes how an execution ended.
type Summary struct {
	RunID            string    `json:"runId"`
	JobID            string    `json:"jobId"`
	Status           RunStatus `json:"status"`
	Counters         Counters  `json:"counters"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
}

// Execution is one attempt of a run: a fresh start or a resume. Run may be
// called once.
type Execution struct {
	o           *Orchestrator
	run         *Run
	job         *jobs.Job
	prompt      prompt.Prompt
	targets     []string
	total       int
	already     int
	concurrency int
	isResume    bool
	control     *Control

	committed Counters
	stats     Stats
	batch     Batch
	startedAt time.Time
	log       *zap.SugaredLogger
}

func (o *Orchestrator) newExecution(run *Run, job *jobs.Job, p prompt.Prompt, targets []string,
	total, already, concurrency int, base Counters, baseStats Stats, isResume bool) *Execution {
	if concurrency <= 0 {
		concurrency = o.cfg.Concurrency
	}
	return &Execution{
		o:           o,
		run:         run,
		job:         job,
		prompt:      p,
		targets:     targets,
		total:       total,
		already:     already,
		concurrency: concurrency,
		isResume:    isResume,
		control:     NewControl(),
		committed:   base,
		stats:       baseStats,
	}
}

// RunID is the run this execution belongs to.
func (e *Execution) RunID() string { return e.run.ID }

// JobID is the job tracking this execution.
func (e *Execution) JobID() string { return e.job.ID }

// Control returns the in-process control token.
func (e *Execution) Control() *Control { return e.control }

func (e *Execution) stream(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		_, _ = e.Run(ctx, BufferedEmitter{C: ch})
	}()
	return ch
}

// errJobStopped rolls back run completion when the job already left
// running or paused.
var errJobStopped = errors.New("job is no longer active")

type outcome struct {
	emailID string
	result  *extract.Result
	err     error
}

// Run executes the attempt. Exactly one terminal event (completed or
// error) is emitted. The returned error wraps ErrCancelled when the
// attempt was cancelled.
func (e *Execution) Run(ctx context.Context, em Emitter) (*Summary, error) {
	if em == nil {
		em = EmitterFunc(nil)
	}
	o := e.o
	e.startedAt = time.Now()
	ctx = logger.WithRunID(logger.WithJobID(ctx, e.job.ID), e.run.ID)
	e.log = logger.LoggerFromContext(ctx, o.logger)

	o.registry.Register(e.job.ID, e.run.ID, e.control, e.startedAt)
	o.metrics.JobStarted()
	defer func() {
		o.registry.Unregister(e.job.ID)
		o.metrics.JobFinished()
	}()

	if err := o.queue.StartJob(ctx, e.job.ID); err != nil {
		if errors.Is(err, errors.ErrInvalidTransition) {
			return nil, e.cancel(ctx, em, "job was stopped before it started")
		}
		return nil, e.fail(ctx, em, err)
	}

	em.Emit(Event{Type: EventStarted, Data: StartedData{
		JobID:            e.job.ID,
		RunID:            e.run.ID,
		TotalItems:       e.total,
		ModelID:          e.run.ModelID,
		IsResume:         e.isResume,
		AlreadyProcessed: e.already,
	}})

	for start := 0; start < len(e.targets); start += e.concurrency {
		reason, err := e.checkpoint(ctx)
		if err != nil {
			return nil, e.fail(ctx, em, err)
		}
		if reason != "" {
			return nil, e.cancel(ctx, em, reason)
		}

		end := min(start+e.concurrency, len(e.targets))
		window := e.targets[start:end]
		outcomes, err := e.dispatch(ctx, window)
		if err != nil {
			return nil, e.fail(ctx, em, err)
		}
		for _, out := range outcomes {
			e.handle(out)
		}

		if e.batch.Len() >= o.cfg.CommitBatchSize {
			if reason := e.stopRequested(ctx); reason != "" {
				return nil, e.cancel(ctx, em, reason)
			}
			if err := e.commit(ctx, em); err != nil {
				return nil, e.fail(ctx, em, err)
			}
		}

		live := e.live()
		e.touch(ctx, live)
		em.Emit(Event{Type: EventProgress, Data: ProgressData{
			ProcessedItems:     live.EmailsProcessed,
			TotalItems:         e.total,
			FailedItems:        live.ErrorCount,
			InformationalItems: live.InformationalCount,
			TransactionsFound:  live.TransactionsCreated,
		}})
	}

	// the job may have been stopped from another process during the last window
	reason, err := e.checkpoint(ctx)
	if err != nil {
		return nil, e.fail(ctx, em, err)
	}
	if reason != "" {
		return nil, e.cancel(ctx, em, reason)
	}
	if !e.batch.Empty() {
		if err := e.commit(ctx, em); err != nil {
			return nil, e.fail(ctx, em, err)
		}
	}
	return e.complete(ctx, em)
}

// checkpoint runs before every window. A non-empty reason means the
// attempt must take the cancel path.
func (e *Execution) checkpoint(ctx context.Context) (string, error) {
	if reason := e.stopRequested(ctx); reason != "" {
		return reason, nil
	}
	job, err := e.o.queue.GetJob(ctx, e.job.ID)
	if err != nil {
		return "", err
	}
	switch job.Status {
	case jobs.JobStatusRunning:
		return "", nil
	case jobs.JobStatusPaused:
		return e.waitWhilePaused(ctx)
	default:
		return stoppedReason(job), nil
	}
}

func (e *Execution) waitWhilePaused(ctx context.Context) (string, error) {
	e.control.Pause()
	e.log.Infow("Extraction paused", logger.FieldCount, e.batch.Len())

	ticker := time.NewTicker(e.o.cfg.PausePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return contextReason(ctx), nil
		case <-e.control.Done():
			return e.control.Reason(), nil
		case <-e.control.wake:
		case <-ticker.C:
		}

		e.touch(ctx, e.live())
		job, err := e.o.queue.GetJob(ctx, e.job.ID)
		if err != nil {
			return "", err
		}
		switch job.Status {
		case jobs.JobStatusPaused:
			continue
		case jobs.JobStatusRunning:
			e.control.Resume()
			e.log.Infow("Extraction resumed")
			return "", nil
		default:
			return stoppedReason(job), nil
		}
	}
}

func (e *Execution) stopRequested(ctx context.Context) string {
	if e.control.Cancelled() {
		return e.control.Reason()
	}
	if ctx.Err() != nil {
		return contextReason(ctx)
	}
	return ""
}

func contextReason(ctx context.Context) string {
	return fmt.Sprintf("extraction cancelled: %v", ctx.Err())
}

func stoppedReason(job *jobs.Job) string {
	if job.Error != "" {
		return job.Error
	}
	return fmt.Sprintf("job %s is %s", job.ID, job.Status)
}

// dispatch runs one window concurrently. Per-record errors, panics and
// empty results become failed outcomes; only a store error is returned.
func (e *Execution) dispatch(ctx context.Context, window []string) ([]outcome, error) {
	recs, err := e.o.emails.ListByIDs(ctx, window, e.o.cfg.StatusChunkSize)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*email.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}

	out := make([]outcome, len(window))
	var g errgroup.Group
	for i, id := range window {
		out[i].emailID = id
		rec, ok := byID[id]
		if !ok {
			out[i].err = errors.NewNotFoundError("email not found: %s", id)
			continue
		}
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					out[i].result = nil
					out[i].err = errors.Newf("invoker panicked: %v", p)
				}
			}()
			res, err := e.o.invoker.Extract(ctx, *rec, e.run.ModelID, e.prompt)
			if err == nil && res == nil {
				err = errors.New("invoker returned no result")
			}
			out[i].result = res
			out[i].err = err
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (e *Execution) handle(out outcome) {
	if out.err != nil {
		errType := extract.ClassifyError(out.err)
		e.batch.AddFailure(out.emailID, errType, out.err.Error())
		e.o.metrics.Record(OutcomeFailed)
		e.log.Warnw("Extraction failed for email",
			logger.FieldEmailID, out.emailID,
			logger.FieldErrorType, string(errType),
			logger.FieldError, out.err)
		return
	}
	e.batch.AddResult(out.emailID, out.result)
	if out.result.IsTransactional {
		e.o.metrics.Record(OutcomeTransactional)
	} else {
		e.o.metrics.Record(OutcomeInformational)
	}
}

// live is committed plus buffered totals.
func (e *Execution) live() Counters {
	delta, _ := e.batch.Delta()
	return e.committed.Add(delta)
}

func (e *Execution) commit(ctx context.Context, em Emitter) error {
	delta, deltaStats := e.batch.Delta()
	started := time.Now()
	n, err := e.o.committer.Flush(ctx, e.run.ID, &e.batch, CommitProgress{
		JobID:    e.job.ID,
		ModelID:  e.run.ModelID,
		Counters: e.committed,
		Stats:    e.stats,
	})
	e.o.metrics.Commit(time.Since(started), n, err)
	if err != nil {
		return err
	}
	e.batch.Reset()
	e.committed = e.committed.Add(delta)
	e.stats = e.stats.Merge(deltaStats)

	e.log.Infow("Batch committed",
		logger.FieldBatchSize, delta.EmailsProcessed,
		logger.FieldCount, n,
		logger.FieldDurationMS, time.Since(started).Milliseconds())
	em.Emit(Event{Type: EventBatchCommitted, Data: BatchCommittedData{
		TransactionsCommitted:      n,
		TotalTransactionsCommitted: e.committed.TransactionsCreated,
		ProcessedItems:             e.committed.EmailsProcessed,
		TotalItems:                 e.total,
	}})
	return nil
}

// touch refreshes the run heartbeat and the job progress. Both are
// advisory, so failures are logged and ignored.
func (e *Execution) touch(ctx context.Context, live Counters) {
	now := e.o.now()
	if err := e.o.runs.Heartbeat(ctx, e.run.ID, now); err != nil {
		e.log.Warnw("Failed to heartbeat run", logger.FieldError, err)
	}
	p := jobs.Progress{
		Current:       live.EmailsProcessed,
		Total:         e.total,
		Failed:        live.ErrorCount,
		Informational: live.InformationalCount,
		Transactions:  live.TransactionsCreated,
	}
	if err := e.o.queue.Store().UpdateProgress(ctx, e.job.ID, p, now); err != nil {
		e.log.Warnw("Failed to update job progress", logger.FieldError, err)
	}
}

func (e *Execution) elapsedMs() int64 {
	return time.Since(e.startedAt).Milliseconds()
}

func (e *Execution) complete(ctx context.Context, em Emitter) (*Summary, error) {
	o := e.o
	now := o.now()
	elapsed := e.elapsedMs()
	final := e.stats
	final.ProcessingTimeMs += elapsed
	final.CanResume = false
	final.Error = ""

	err := db.WithTx(ctx, o.db, func(tx *sql.Tx) error {
		if _, err := o.ledger.MarkRunCompletedTx(ctx, tx, e.run.ID); err != nil {
			return err
		}
		if err := o.runs.CompleteTx(ctx, tx, e.run.ID, e.committed, final, now); err != nil {
			return err
		}
		// a pause that lands after the last checkpoint must not leave the job open
		closed, err := jobs.TransitionStatusTx(ctx, tx, e.job.ID, jobs.JobStatusCompleted, "", now,
			jobs.JobStatusRunning, jobs.JobStatusPaused)
		if err != nil {
			return err
		}
		if !closed {
			return errJobStopped
		}
		return nil
	})
	if errors.Is(err, errJobStopped) {
		job, getErr := o.queue.GetJob(ctx, e.job.ID)
		if getErr != nil {
			return nil, e.fail(ctx, em, getErr)
		}
		return nil, e.cancel(ctx, em, stoppedReason(job))
	}
	if err != nil {
		return nil, e.fail(ctx, em, errors.Wrap(err, "failed to complete run"))
	}

	e.log.Infow("Extraction run completed",
		"emails_processed", e.committed.EmailsProcessed,
		"transactions_created", e.committed.TransactionsCreated,
		logger.FieldDurationMS, elapsed)
	em.Emit(Event{Type: EventCompleted, Data: CompletedData{
		RunID:               e.run.ID,
		TransactionsCreated: e.committed.TransactionsCreated,
		EmailsProcessed:     e.committed.EmailsProcessed,
		ProcessingTimeMs:    elapsed,
	}})
	return &Summary{
		RunID:            e.run.ID,
		JobID:            e.job.ID,
		Status:           RunStatusCompleted,
		Counters:         e.committed,
		ProcessingTimeMs: elapsed,
	}, nil
}

// fail leaves the run failed and resumable with whatever was committed.
func (e *Execution) fail(ctx context.Context, em Emitter, cause error) error {
	ctx = context.WithoutCancel(ctx)
	o := e.o
	stats := e.stats
	stats.ProcessingTimeMs += e.elapsedMs()
	stats.CanResume = true
	stats.Error = cause.Error()

	if err := o.runs.Fail(ctx, e.run.ID, e.committed, stats, o.now()); err != nil {
		e.log.Errorw("Failed to mark run failed", logger.FieldError, err)
	}
	if err := o.queue.FailJob(ctx, e.job.ID, cause); err != nil {
		e.log.Warnw("Failed to mark job failed", logger.FieldError, err)
	}
	e.log.Errorw("Extraction run failed", logger.FieldError, cause)
	em.Emit(Event{Type: EventError, Data: ErrorData{Error: cause.Error()}})
	return cause
}

// cancel discards uncommitted results, cancels the job and leaves the run
// failed and resumable.
func (e *Execution) cancel(ctx context.Context, em Emitter, reason string) error {
	ctx = context.WithoutCancel(ctx)
	o := e.o
	discarded := e.batch.Len()
	e.batch.Reset()

	_, err := o.queue.Store().TransitionStatus(ctx, e.job.ID, jobs.JobStatusCancelled, reason, time.Now(),
		jobs.JobStatusPending, jobs.JobStatusRunning, jobs.JobStatusPaused)
	if err != nil {
		e.log.Warnw("Failed to mark job cancelled", logger.FieldError, err)
	}

	stats := e.stats
	stats.ProcessingTimeMs += e.elapsedMs()
	stats.CanResume = true
	stats.Error = reason
	if err := o.runs.Fail(ctx, e.run.ID, e.committed, stats, o.now()); err != nil {
		e.log.Errorw("Failed to mark cancelled run failed", logger.FieldError, err)
	}

	e.log.Infow("Extraction cancelled",
		"reason", reason,
		"discarded", discarded)
	em.Emit(Event{Type: EventError, Data: ErrorData{Error: reason}})
	return errors.Mark(errors.New(reason), errors.ErrCancelled)
}
