package extraction

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mattsoldo/email-extractor-sub001/am"
	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/extract"
	"github.com/mattsoldo/email-extractor-sub001/jobs"
	"github.com/mattsoldo/email-extractor-sub001/ledger"
	"github.com/mattsoldo/email-extractor-sub001/logger"
	"github.com/mattsoldo/email-extractor-sub001/prompt"
	"github.com/mattsoldo/email-extractor-sub001/version"
)

// Config tunes the orchestrator.
type Config struct {
	Concurrency       int
	CommitBatchSize   int
	StatusChunkSize   int
	PausePollInterval time.Duration
	StaleRunThreshold time.Duration
	SoftwareVersion   string
}

// ConfigFromAM maps the extraction section of the emx configuration.
func ConfigFromAM(c am.ExtractionConfig) Config {
	return Config{
		Concurrency:       c.Concurrency,
		CommitBatchSize:   c.CommitBatchSize,
		StatusChunkSize:   c.StatusChunkSize,
		PausePollInterval: c.PausePollInterval(),
		StaleRunThreshold: c.StaleRunThreshold(),
		SoftwareVersion:   version.Software(),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = am.DefaultConcurrency
	}
	if c.CommitBatchSize <= 0 {
		c.CommitBatchSize = am.DefaultCommitBatchSize
	}
	if c.StatusChunkSize <= 0 {
		c.StatusChunkSize = am.DefaultStatusChunkSize
	}
	if c.PausePollInterval <= 0 {
		c.PausePollInterval = time.Duration(am.DefaultPausePollMS) * time.Millisecond
	}
	if c.StaleRunThreshold <= 0 {
		c.StaleRunThreshold = time.Duration(am.DefaultStaleRunMinutes) * time.Minute
	}
	if c.SoftwareVersion == "" {
		c.SoftwareVersion = version.Software()
	}
	return c
}

// Orchestrator drives extraction runs over email sets.
type Orchestrator struct {
	db        *sql.DB
	emails    *email.Store
	prompts   *prompt.Store
	runs      *RunStore
	records   *RecordStore
	ledger    *ledger.Store
	queue     *jobs.Queue
	committer BatchCommitter
	invoker   extract.Invoker
	registry  *Registry
	metrics   *Metrics
	cfg       Config
	logger    *zap.SugaredLogger
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCommitter replaces the SQLite batch committer.
func WithCommitter(c BatchCommitter) Option {
	return func(o *Orchestrator) { o.committer = c }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRand overrides the random source used for sampling.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) { o.rng = rng }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator over conn.
func New(conn *sql.DB, invoker extract.Invoker, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:       conn,
		emails:   email.NewStore(conn),
		prompts:  prompt.NewStore(conn),
		runs:     NewRunStore(conn),
		records:  NewRecordStore(conn),
		ledger:   ledger.NewStore(conn),
		queue:    jobs.NewQueue(conn),
		invoker:  invoker,
		registry: NewRegistry(),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrNop(o.logger)
	if o.committer == nil {
		o.committer = NewCommitter(conn, o.cfg.StatusChunkSize, o.logger)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

// Registry returns the live execution registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// StartRequest describes a new run.
type StartRequest struct {
	SetID       string
	ModelID     string
	PromptID    string
	Concurrency int
	SampleSize  int
	Name        string
	Description string
}

func (r StartRequest) validate() error {
	switch {
	case r.SetID == "":
		return errors.NewInvalidRequestError("set id is required")
	case r.ModelID == "":
		return errors.NewInvalidRequestError("model id is required")
	case r.PromptID == "":
		return errors.NewInvalidRequestError("prompt id is required")
	case r.Concurrency < 0:
		return errors.NewInvalidRequestError("concurrency must be positive, got %d", r.Concurrency)
	case r.SampleSize < 0:
		return errors.NewInvalidRequestError("sample size must be positive, got %d", r.SampleSize)
	}
	return nil
}

// Begin validates req and allocates its run and job. Nothing is written
// when a pre-condition fails. The returned execution has not started.
func (o *Orchestrator) Begin(ctx context.Context, req StartRequest) (*Execution, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	set, err := o.emails.GetSet(ctx, req.SetID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot start extraction")
	}
	p, err := o.prompts.Get(ctx, req.PromptID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot start extraction")
	}

	o.recoverBestEffort(ctx)

	key := GuardKey{
		SetID:           set.ID,
		ModelID:         req.ModelID,
		PromptID:        p.ID,
		PromptHash:      p.ContentHash,
		SoftwareVersion: o.cfg.SoftwareVersion,
	}
	existing, err := o.runs.FindCompleted(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		err := errors.Wrapf(errors.ErrAlreadyExtracted, "set %s was already extracted by run %s (version %d)",
			set.Name, existing.ID, existing.Version)
		err = errors.WithDetail(err, fmt.Sprintf("Set ID: %s", set.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Model ID: %s", req.ModelID))
		err = errors.WithDetail(err, fmt.Sprintf("Prompt ID: %s", p.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Software version: %s", o.cfg.SoftwareVersion))
		return nil, errors.WithHint(err, "change the model or the prompt to extract this set again")
	}

	ids, err := o.emails.ListIDsBySet(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.WithDetail(
			errors.NewInvalidRequestError("set %s has no emails", set.Name),
			fmt.Sprintf("Set ID: %s", set.ID))
	}

	targets := ids
	var persisted []string
	var sampleSize *int
	if req.SampleSize > 0 {
		n := req.SampleSize
		sampleSize = &n
		if n < len(ids) {
			targets = o.sample(ids, n)
			persisted = targets
		}
	}

	now := o.now().UTC()
	run := &Run{
		ID:              uuid.NewString(),
		SetID:           set.ID,
		ModelID:         req.ModelID,
		PromptID:        p.ID,
		PromptHash:      p.ContentHash,
		SoftwareVersion: o.cfg.SoftwareVersion,
		Name:            req.Name,
		Description:     req.Description,
		Status:          RunStatusRunning,
		TargetEmailIDs:  persisted,
		SampleSize:      sampleSize,
		HeartbeatAt:     now,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	job, err := o.enqueue(ctx, run, len(targets), Counters{}, Stats{})
	if err != nil {
		return nil, err
	}

	o.logger.Infow("Extraction run created",
		logger.FieldRunID, run.ID,
		logger.FieldJobID, job.ID,
		logger.FieldSetID, set.ID,
		logger.FieldModelID, req.ModelID,
		logger.FieldTotalCount, len(targets),
		"version", run.Version)

	return o.newExecution(run, job, *p, targets, len(targets), 0, req.Concurrency, Counters{}, Stats{}, false), nil
}

// BeginResume prepares a new attempt of a failed run over the emails it
// has not yet covered.
func (o *Orchestrator) BeginResume(ctx context.Context, runID string, concurrency int) (*Execution, error) {
	if concurrency < 0 {
		return nil, errors.NewInvalidRequestError("concurrency must be positive, got %d", concurrency)
	}
	o.recoverBestEffort(ctx)

	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case RunStatusCompleted:
		err := errors.Wrapf(errors.ErrRunCompleted, "run %s cannot be resumed", runID)
		return nil, errors.WithDetail(err, fmt.Sprintf("Run ID: %s", runID))
	case RunStatusRunning:
		err := errors.Wrapf(errors.ErrRunActive, "run %s cannot be resumed", runID)
		err = errors.WithDetail(err, fmt.Sprintf("Run ID: %s", runID))
		return nil, errors.WithHint(err, "pause or cancel its job, or wait for the stale sweep")
	}

	p, err := o.prompts.Get(ctx, run.PromptID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot resume extraction")
	}
	if p.ContentHash != run.PromptHash {
		err := errors.NewInvalidRequestError("prompt %s changed since run %s started", p.ID, runID)
		err = errors.WithDetail(err, fmt.Sprintf("Run ID: %s", runID))
		return nil, errors.WithHint(err, "start a new run with the edited prompt")
	}

	targets := run.TargetEmailIDs
	if targets == nil {
		if targets, err = o.emails.ListIDsBySet(ctx, run.SetID); err != nil {
			return nil, err
		}
	}
	covered, err := o.records.CoveredEmailIDs(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	remaining := make([]string, 0, len(targets))
	for _, id := range targets {
		if _, done := covered[id]; !done {
			remaining = append(remaining, id)
		}
	}
	already := len(targets) - len(remaining)

	now := o.now().UTC()
	ok, err := o.runs.MarkResumed(ctx, run.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		err := errors.Wrapf(errors.ErrRunActive, "run %s was resumed elsewhere", runID)
		return nil, errors.WithDetail(err, fmt.Sprintf("Run ID: %s", runID))
	}

	base := Counters{
		EmailsProcessed:     already,
		TransactionsCreated: run.Counters.TransactionsCreated,
		InformationalCount:  run.Counters.InformationalCount,
	}
	baseStats := run.Stats
	baseStats.CanResume = false
	baseStats.Error = ""
	if err := o.runs.UpdateProgressTx(ctx, o.db, run.ID, base, baseStats, now); err != nil {
		o.logger.Warnw("Failed to reset counters of resumed run",
			logger.FieldRunID, run.ID,
			logger.FieldError, err)
	}
	run.Status = RunStatusRunning

	job, err := o.enqueue(ctx, run, len(targets), base, baseStats)
	if err != nil {
		return nil, err
	}

	o.logger.Infow("Extraction run resumed",
		logger.FieldRunID, run.ID,
		logger.FieldJobID, job.ID,
		logger.FieldCount, len(remaining),
		"already_processed", already)

	return o.newExecution(run, job, *p, remaining, len(targets), already, concurrency, base, baseStats, true), nil
}

func (o *Orchestrator) enqueue(ctx context.Context, run *Run, total int, c Counters, stats Stats) (*jobs.Job, error) {
	job, err := jobs.NewJob(run.ID, total, o.now())
	if err != nil {
		return nil, err
	}
	job.Progress.Current = c.EmailsProcessed
	job.Progress.Informational = c.InformationalCount
	job.Progress.Transactions = c.TransactionsCreated
	if err := o.queue.Enqueue(ctx, job); err != nil {
		stats.CanResume = true
		stats.Error = err.Error()
		if failErr := o.runs.Fail(ctx, run.ID, c, stats, o.now()); failErr != nil {
			err = errors.WithSecondaryError(err, failErr)
		}
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) sample(ids []string, k int) []string {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return Sample(ids, k, o.rng)
}

// Start runs req to completion, delivering events to fn.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest, fn EmitterFunc) (*Summary, error) {
	exec, err := o.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return exec.Run(ctx, fn)
}

// Stream starts req in the background. The channel is closed after the
// terminal event. The execution never waits for the consumer: events are
// dropped while the buffer is full, and the durable job and run records
// keep tracking progress.
func (o *Orchestrator) Stream(ctx context.Context, req StartRequest) (<-chan Event, *Execution, error) {
	exec, err := o.Begin(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return exec.stream(ctx), exec, nil
}

// Resume resumes runID to completion, delivering events to fn.
func (o *Orchestrator) Resume(ctx context.Context, runID string, concurrency int, fn EmitterFunc) (*Summary, error) {
	exec, err := o.BeginResume(ctx, runID, concurrency)
	if err != nil {
		return nil, err
	}
	return exec.Run(ctx, fn)
}

// ResumeStream resumes runID in the background.
func (o *Orchestrator) ResumeStream(ctx context.Context, runID string, concurrency int) (<-chan Event, *Execution, error) {
	exec, err := o.BeginResume(ctx, runID, concurrency)
	if err != nil {
		return nil, nil, err
	}
	return exec.stream(ctx), exec, nil
}

// Pause pauses a running job. The execution stops at its next window
// boundary and keeps its buffers.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) error {
	if err := o.queue.PauseJob(ctx, jobID); err != nil {
		return err
	}
	if ctl, ok := o.registry.Control(jobID); ok {
		ctl.Pause()
	}
	return nil
}

// ResumeJob continues a paused job.
func (o *Orchestrator) ResumeJob(ctx context.Context, jobID string) error {
	if err := o.queue.ResumeJob(ctx, jobID); err != nil {
		return err
	}
	if ctl, ok := o.registry.Control(jobID); ok {
		ctl.Resume()
	}
	return nil
}

// Cancel cancels a job. Uncommitted results are discarded and the run is
// left resumable.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, reason string) error {
	if reason == "" {
		reason = "cancelled by user"
	}
	if err := o.queue.CancelJob(ctx, jobID, reason); err != nil {
		return err
	}
	if ctl, ok := o.registry.Control(jobID); ok {
		ctl.Cancel(reason)
	}
	return nil
}

// RecoverOrphaned fails running runs and active jobs whose heartbeat is
// older than the stale threshold. Executions registered in this process
// are never touched. It returns the number of runs swept.
func (o *Orchestrator) RecoverOrphaned(ctx context.Context) (int, error) {
	now := o.now().UTC()
	cutoff := now.Add(-o.cfg.StaleRunThreshold)
	msg := fmt.Sprintf("orphaned: no heartbeat since %s", cutoff.Format(time.RFC3339))

	swept, err := o.runs.SweepStale(ctx, cutoff, msg, now, o.registry.RunIDs())
	if err != nil {
		return len(swept), err
	}
	store := o.queue.Store()
	if _, err := store.FailJobsForRuns(ctx, swept, msg, now); err != nil {
		return len(swept), err
	}
	staleJobs, err := store.FailStaleJobs(ctx, cutoff, msg, now, o.registry.JobIDs())
	if err != nil {
		return len(swept), err
	}
	if len(swept) > 0 || staleJobs > 0 {
		o.logger.Warnw("Recovered orphaned extraction work",
			"runs", len(swept),
			"jobs", staleJobs)
	}
	return len(swept), nil
}

func (o *Orchestrator) recoverBestEffort(ctx context.Context) {
	if _, err := o.RecoverOrphaned(ctx); err != nil {
		o.logger.Warnw("Orphan sweep failed", logger.FieldError, err)
	}
}

// GetRun returns a run after sweeping orphans.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*Run, error) {
	o.recoverBestEffort(ctx)
	return o.runs.Get(ctx, runID)
}

// ListRuns returns recent runs after sweeping orphans.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	o.recoverBestEffort(ctx)
	return o.runs.List(ctx, limit)
}

// GetJob returns a job.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	return o.queue.GetJob(ctx, jobID)
}

// ListJobsByRun returns every attempt of a run.
func (o *Orchestrator) ListJobsByRun(ctx context.Context, runID string) ([]*jobs.Job, error) {
	return o.queue.Store().ListJobsByRun(ctx, runID)
}
