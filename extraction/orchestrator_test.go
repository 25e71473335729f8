package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattsoldo/email-extractor-sub001/account"
	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/extract"
	"github.com/mattsoldo/email-extractor-sub001/jobs"
	"github.com/mattsoldo/email-extractor-sub001/ledger"
	"github.com/mattsoldo/email-extractor-sub001/prompt"
)

func TestStart_ThreeEmailScenario(t *testing.T) {
	f := newFixture(t, "dividend", "newsletter", "broken")
	inv := newScriptedInvoker()
	inv.results["dividend"] = dividend("XXXX-1802", "E*TRADE")
	inv.results["newsletter"] = informational()
	inv.errs["broken"] = errors.New("openrouter returned status 500")

	o := f.orchestrator(inv, Config{Concurrency: 2, CommitBatchSize: 2})
	rec := &recorder{}
	summary, err := o.Start(context.Background(), f.request("gpt-test"), rec.Emit)
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, summary.Status)
	assert.Equal(t, Counters{EmailsProcessed: 3, TransactionsCreated: 1, InformationalCount: 1, ErrorCount: 1}, summary.Counters)

	run, err := o.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, summary.Counters, run.Counters)
	assert.False(t, run.Stats.CanResume)
	assert.Equal(t, 1, run.Stats.TypeCounts[extract.TypeDividend])
	require.NotNil(t, run.Stats.AverageConfidence)
	assert.Equal(t, "0.95", run.Stats.AverageConfidence.String())
	assert.NotNil(t, run.CompletedAt)

	accounts, err := account.NewStore(f.db, nil).List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.NotNil(t, accounts[0].MaskedNumber)
	assert.Equal(t, "XXXX-1802", *accounts[0].MaskedNumber)
	assert.Nil(t, accounts[0].AccountNumber)
	assert.Equal(t, "E*TRADE", accounts[0].Institution)

	txns, err := ledger.NewStore(f.db).ListByRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, extract.TypeDividend, txns[0].Type)
	assert.Equal(t, "42.17", txns[0].Amount.String())
	assert.Equal(t, "USD", txns[0].Currency)
	assert.True(t, txns[0].RunCompleted)
	require.NotNil(t, txns[0].AccountID)
	assert.Equal(t, accounts[0].ID, *txns[0].AccountID)

	records, err := NewRecordStore(f.db).ListByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	entries, err := NewErrorLog(f.db).ListByRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, extract.ErrorAPI, entries[0].ErrorType)
	assert.Equal(t, summary.JobID, entries[0].JobID)

	for id, subject := range f.subjects {
		want := map[string]email.Status{
			"dividend":   email.StatusCompleted,
			"newsletter": email.StatusInformational,
			"broken":     email.StatusFailed,
		}[subject]
		assert.Equal(t, want, f.emailStatus(id), subject)
	}

	job, err := o.GetJob(context.Background(), summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)

	types := rec.Types()
	assert.Equal(t, EventStarted, types[0])
	assert.Equal(t, EventCompleted, types[len(types)-1])
	assert.Equal(t, 2, rec.Count(EventBatchCommitted))
	assert.Equal(t, 2, rec.Count(EventProgress))
	assert.Equal(t, 0, rec.Count(EventError))

	done := rec.Last().Data.(CompletedData)
	assert.Equal(t, run.ID, done.RunID)
	assert.Equal(t, 1, done.TransactionsCreated)
	assert.Equal(t, 3, done.EmailsProcessed)
}

func TestBegin_DuplicateGuard(t *testing.T) {
	f := newFixture(t, "a", "b")
	o := f.orchestrator(newScriptedInvoker(), Config{})
	ctx := context.Background()

	_, err := o.Start(ctx, f.request("gpt-test"), nil)
	require.NoError(t, err)

	_, err = o.Begin(ctx, f.request("gpt-test"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyExtracted))
	assert.Equal(t, 1, f.count(`SELECT COUNT(*) FROM extraction_runs`))
	assert.Equal(t, 1, f.count(`SELECT COUNT(*) FROM jobs`))

	t.Run("other model is allowed", func(t *testing.T) {
		exec, err := o.Begin(ctx, f.request("claude-test"))
		require.NoError(t, err)
		_, err = exec.Run(ctx, nil)
		require.NoError(t, err)
	})

	t.Run("edited prompt is allowed", func(t *testing.T) {
		p := &prompt.Prompt{ID: f.promptID, Name: "Brokerage", Content: "Extract every transaction, carefully."}
		require.NoError(t, prompt.NewStore(f.db).Upsert(ctx, p))
		_, err := o.Start(ctx, f.request("gpt-test"), nil)
		require.NoError(t, err)
	})

	t.Run("other software version is allowed", func(t *testing.T) {
		other := f.orchestrator(newScriptedInvoker(), Config{SoftwareVersion: "1.3.0"})
		_, err := other.Start(ctx, f.request("claude-test"), nil)
		require.NoError(t, err)
	})
}

func TestBegin_Preconditions(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(newScriptedInvoker(), Config{})
	ctx := context.Background()

	tests := []struct {
		name  string
		req   StartRequest
		check func(error) bool
	}{
		{"missing set", StartRequest{ModelID: "m", PromptID: f.promptID}, errors.IsInvalidRequestError},
		{"missing model", StartRequest{SetID: f.setID, PromptID: f.promptID}, errors.IsInvalidRequestError},
		{"missing prompt", StartRequest{SetID: f.setID, ModelID: "m"}, errors.IsInvalidRequestError},
		{"negative sample", StartRequest{SetID: f.setID, ModelID: "m", PromptID: f.promptID, SampleSize: -1}, errors.IsInvalidRequestError},
		{"unknown set", StartRequest{SetID: "nope", ModelID: "m", PromptID: f.promptID}, errors.IsNotFoundError},
		{"unknown prompt", StartRequest{SetID: f.setID, ModelID: "m", PromptID: "nope"}, errors.IsNotFoundError},
		{"empty set", StartRequest{SetID: f.setID, ModelID: "m", PromptID: f.promptID}, errors.IsInvalidRequestError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Begin(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
	assert.Equal(t, 0, f.count(`SELECT COUNT(*) FROM extraction_runs`))
}

// failingCommitter fails the nth flush and delegates the others.
type failingCommitter struct {
	next  BatchCommitter
	n     int
	calls int
}

func (c *failingCommitter) Flush(ctx context.Context, runID string, batch *Batch, base CommitProgress) (int, error) {
	c.calls++
	if c.calls == c.n {
		return 0, errors.New("injected commit failure")
	}
	return c.next.Flush(ctx, runID, batch, base)
}

func TestResume_ProcessesOnlyUncovered(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d", "e")
	ctx := context.Background()

	first := newScriptedInvoker()
	broken := &failingCommitter{next: NewCommitter(f.db, 0, nil), n: 2}
	o := f.orchestrator(first, Config{Concurrency: 1, CommitBatchSize: 2}, WithCommitter(broken))
	rec := &recorder{}
	exec, err := o.Begin(ctx, f.request("gpt-test"))
	require.NoError(t, err)
	_, err = exec.Run(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected commit failure")
	assert.Equal(t, EventError, rec.Last().Type)

	run, err := o.GetRun(ctx, exec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.True(t, run.Stats.CanResume)
	assert.Equal(t, 2, run.Counters.EmailsProcessed)

	failedJob, err := o.GetJob(ctx, exec.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, failedJob.Status)

	covered, err := NewRecordStore(f.db).CoveredEmailIDs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, covered, 2)

	second := newScriptedInvoker()
	o2 := f.orchestrator(second, Config{Concurrency: 2, CommitBatchSize: 2})
	rec2 := &recorder{}
	summary, err := o2.Resume(ctx, run.ID, 0, rec2.Emit)
	require.NoError(t, err)

	calls := second.Calls()
	assert.Len(t, calls, 3)
	for _, id := range calls {
		_, dup := covered[id]
		assert.False(t, dup, "covered email %s was extracted again", id)
	}

	started := rec2.events[0].Data.(StartedData)
	assert.True(t, started.IsResume)
	assert.Equal(t, 2, started.AlreadyProcessed)
	assert.Equal(t, 5, started.TotalItems)

	assert.Equal(t, 5, summary.Counters.EmailsProcessed)
	assert.Equal(t, 5, summary.Counters.TransactionsCreated)
	assert.Equal(t, 5, f.count(`SELECT COUNT(*) FROM extraction_records WHERE run_id = ?`, run.ID))
	assert.Equal(t, 5, f.count(`SELECT COUNT(DISTINCT email_id) FROM extraction_records WHERE run_id = ?`, run.ID))
	assert.Equal(t, 5, f.count(`SELECT COUNT(*) FROM transactions WHERE extraction_run_id = ? AND run_completed = 1`, run.ID))

	attempts, err := o2.ListJobsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestResume_Rejections(t *testing.T) {
	f := newFixture(t, "a")
	o := f.orchestrator(newScriptedInvoker(), Config{})
	ctx := context.Background()

	summary, err := o.Start(ctx, f.request("gpt-test"), nil)
	require.NoError(t, err)
	_, err = o.BeginResume(ctx, summary.RunID, 0)
	assert.True(t, errors.Is(err, errors.ErrRunCompleted))

	exec, err := o.Begin(ctx, f.request("other-model"))
	require.NoError(t, err)
	_, err = o.BeginResume(ctx, exec.RunID(), 0)
	assert.True(t, errors.Is(err, errors.ErrRunActive))

	_, err = o.BeginResume(ctx, "missing", 0)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestFlush_TriggerFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	rejected := f.ids[1]
	_, err := f.db.Exec(`CREATE TRIGGER reject_record BEFORE INSERT ON extraction_records
		WHEN NEW.email_id = '` + rejected + `'
		BEGIN SELECT RAISE(ABORT, 'record rejected'); END`)
	require.NoError(t, err)

	o := f.orchestrator(newScriptedInvoker(), Config{Concurrency: 3, CommitBatchSize: 3})
	rec := &recorder{}
	exec, err := o.Begin(ctx, f.request("gpt-test"))
	require.NoError(t, err)
	_, err = exec.Run(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record rejected")

	assert.Equal(t, 0, f.count(`SELECT COUNT(*) FROM transactions`))
	assert.Equal(t, 0, f.count(`SELECT COUNT(*) FROM accounts`))
	assert.Equal(t, 0, f.count(`SELECT COUNT(*) FROM extraction_records`))
	for _, id := range f.ids {
		assert.Equal(t, email.StatusPending, f.emailStatus(id))
	}

	run, err := o.GetRun(ctx, exec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, Counters{}, run.Counters)
	assert.True(t, run.Stats.CanResume)
	assert.Equal(t, 1, rec.Count(EventError))
	assert.Equal(t, 0, rec.Count(EventCompleted))
}

func TestBegin_SampleSize(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d", "e", "f", "g", "h", "i", "j")
	ctx := context.Background()
	inv := newScriptedInvoker()
	o := f.orchestrator(inv, Config{Concurrency: 3}, WithRand(rand.New(rand.NewPCG(7, 11))))

	exec, err := o.Begin(ctx, StartRequest{SetID: f.setID, ModelID: "gpt-test", PromptID: f.promptID, SampleSize: 4})
	require.NoError(t, err)
	summary, err := exec.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Counters.EmailsProcessed)

	calls := inv.Calls()
	require.Len(t, calls, 4)
	seen := make(map[string]bool)
	for _, id := range calls {
		assert.Contains(t, f.ids, id)
		assert.False(t, seen[id], "email %s extracted twice", id)
		seen[id] = true
	}

	run, err := o.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.ElementsMatch(t, calls, run.TargetEmailIDs)
	require.NotNil(t, run.SampleSize)
	assert.Equal(t, 4, *run.SampleSize)

	t.Run("sample larger than set covers everything", func(t *testing.T) {
		s, err := o.Start(ctx, StartRequest{SetID: f.setID, ModelID: "other", PromptID: f.promptID, SampleSize: 50}, nil)
		require.NoError(t, err)
		assert.Equal(t, 10, s.Counters.EmailsProcessed)
	})
}

func TestExecution_PauseAndResume(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	inv := newScriptedInvoker()
	o := f.orchestrator(inv, Config{Concurrency: 1, CommitBatchSize: 10})

	exec, err := o.Begin(ctx, f.request("gpt-test"))
	require.NoError(t, err)
	var paused atomic.Bool
	inv.hook = func(ctx context.Context, rec email.Record) {
		if paused.CompareAndSwap(false, true) {
			assert.NoError(t, o.Pause(ctx, exec.JobID()))
		}
	}

	progress := make(chan ProgressData, 8)
	done := make(chan *Summary, 1)
	go func() {
		s, err := exec.Run(ctx, EmitterFunc(func(e Event) {
			if p, ok := e.Data.(ProgressData); ok {
				progress <- p
			}
		}))
		assert.NoError(t, err)
		done <- s
	}()

	first := <-progress
	assert.Equal(t, 1, first.ProcessedItems)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, inv.Calls(), 1, "no dispatch while paused")

	job, err := o.GetJob(ctx, exec.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPaused, job.Status)
	assert.Equal(t, 1, job.Progress.Current)

	require.NoError(t, o.ResumeJob(ctx, exec.JobID()))

	select {
	case s := <-done:
		require.NotNil(t, s)
		assert.Equal(t, 3, s.Counters.EmailsProcessed)
		assert.Equal(t, 3, s.Counters.TransactionsCreated)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish after resume")
	}
}

func TestExecution_CancelDiscardsBufferAndStaysResumable(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	inv := newScriptedInvoker()
	o := f.orchestrator(inv, Config{Concurrency: 1, CommitBatchSize: 10})

	exec, err := o.Begin(ctx, f.request("gpt-test"))
	require.NoError(t, err)
	inv.hook = func(ctx context.Context, rec email.Record) {
		_ = o.Cancel(ctx, exec.JobID(), "stop please")
	}

	rec := &recorder{}
	_, err = exec.Run(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.Equal(t, "stop please", err.Error())

	assert.Equal(t, 1, rec.Count(EventError))
	assert.Equal(t, ErrorData{Error: "stop please"}, rec.Last().Data)
	assert.Len(t, inv.Calls(), 1)
	assert.Equal(t, 0, f.count(`SELECT COUNT(*) FROM extraction_records`))

	job, err := o.GetJob(ctx, exec.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, job.Status)
	assert.Equal(t, "stop please", job.Error)

	run, err := o.GetRun(ctx, exec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.True(t, run.Stats.CanResume)
	assert.Equal(t, "stop please", run.Stats.Error)

	summary, err := f.orchestrator(newScriptedInvoker(), Config{}).Resume(ctx, run.ID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Counters.EmailsProcessed)
}

func TestExecution_ContextCancel(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := newScriptedInvoker()
	inv.hook = func(context.Context, email.Record) { cancel() }
	o := f.orchestrator(inv, Config{Concurrency: 1})

	exec, err := o.Begin(ctx, f.request("gpt-test"))
	require.NoError(t, err)
	rec := &recorder{}
	_, err = exec.Run(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.Equal(t, EventError, rec.Last().Type)

	run, err := o.GetRun(context.Background(), exec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.True(t, run.Stats.CanResume)
}

func TestExecution_PanicBecomesRecordFailure(t *testing.T) {
	f := newFixture(t, "ok", "boom")
	inv := newScriptedInvoker()
	inv.hook = func(_ context.Context, rec email.Record) {
		if rec.Subject == "boom" {
			panic("model adapter exploded")
		}
	}
	o := f.orchestrator(inv, Config{Concurrency: 2})

	summary, err := o.Start(context.Background(), f.request("gpt-test"), nil)
	require.NoError(t, err)
	assert.Equal(t, Counters{EmailsProcessed: 2, TransactionsCreated: 1, ErrorCount: 1}, summary.Counters)

	entries, err := NewErrorLog(f.db).ListByRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "model adapter exploded")
}

func TestExecution_TransactionalWithoutCandidates(t *testing.T) {
	f := newFixture(t, "empty")
	inv := newScriptedInvoker()
	inv.results["empty"] = &extract.Result{IsTransactional: true, Transactions: []extract.Candidate{}}
	o := f.orchestrator(inv, Config{})

	summary, err := o.Start(context.Background(), f.request("gpt-test"), nil)
	require.NoError(t, err)
	assert.Equal(t, Counters{EmailsProcessed: 1}, summary.Counters)
	assert.Equal(t, email.StatusCompleted, f.emailStatus(f.ids[0]))

	records, err := NewRecordStore(f.db).ListByRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].AverageConfidence)
	assert.Empty(t, records[0].TransactionIDs)
}

func TestRecoverOrphaned(t *testing.T) {
	f := newFixture(t, "a")
	ctx := context.Background()
	o := f.orchestrator(newScriptedInvoker(), Config{StaleRunThreshold: time.Minute})

	exec, err := o.Begin(ctx, f.request("gpt-test"))
	require.NoError(t, err)

	n, err := o.RecoverOrphaned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh heartbeat is never swept")

	old := time.Now().Add(-time.Hour).UTC()
	_, err = f.db.Exec(`UPDATE extraction_runs SET heartbeat_at = ? WHERE id = ?`, old, exec.RunID())
	require.NoError(t, err)
	_, err = f.db.Exec(`UPDATE jobs SET updated_at = ? WHERE id = ?`, old, exec.JobID())
	require.NoError(t, err)

	o.Registry().Register(exec.JobID(), exec.RunID(), NewControl(), time.Now())
	n, err = o.RecoverOrphaned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "registered executions are never swept")
	o.Registry().Unregister(exec.JobID())

	n, err = o.RecoverOrphaned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	run, err := o.GetRun(ctx, exec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.True(t, run.Stats.CanResume)
	assert.Contains(t, run.Stats.Error, "orphaned")

	job, err := o.GetJob(ctx, exec.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)

	summary, err := o.Resume(ctx, run.ID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counters.EmailsProcessed)
}

func TestStream_ClosesAfterTerminalEvent(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	o := f.orchestrator(newScriptedInvoker(), Config{Concurrency: 2, CommitBatchSize: 2})

	events, exec, err := o.Stream(context.Background(), f.request("gpt-test"))
	require.NoError(t, err)

	var all []Event
	for e := range events {
		all = append(all, e)
	}
	require.NotEmpty(t, all)
	assert.Equal(t, EventStarted, all[0].Type)
	terminal := 0
	for _, e := range all {
		if e.Type.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, EventCompleted, all[len(all)-1].Type)

	raw, err := json.Marshal(all[0])
	require.NoError(t, err)
	var decoded struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "started", decoded.Type)
	assert.Equal(t, exec.RunID(), decoded.Data["runId"])
	assert.Equal(t, float64(3), decoded.Data["totalItems"])
}

func TestStream_ConsumerStopsReading(t *testing.T) {
	subjects := make([]string, 40)
	for i := range subjects {
		subjects[i] = fmt.Sprintf("email-%02d", i)
	}
	f := newFixture(t, subjects...)
	o := f.orchestrator(newScriptedInvoker(), Config{Concurrency: 1, CommitBatchSize: 5})
	ctx := context.Background()

	events, exec, err := o.Stream(ctx, f.request("gpt-test"))
	require.NoError(t, err)
	first := <-events
	assert.Equal(t, EventStarted, first.Type)

	require.Eventually(t, func() bool {
		run, err := o.GetRun(ctx, exec.RunID())
		return err == nil && run.Status == RunStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	run, err := o.GetRun(ctx, exec.RunID())
	require.NoError(t, err)
	assert.Equal(t, 40, run.Counters.EmailsProcessed)
	job, err := o.GetJob(ctx, exec.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, 40, job.Progress.Current)

	var last Event
	for e := range events {
		last = e
	}
	assert.Equal(t, EventCompleted, last.Type)
}

func TestExecution_JobCancelledElsewhereDuringLastWindow(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	inv := newScriptedInvoker()
	o := f.orchestrator(inv, Config{Concurrency: 1, CommitBatchSize: 10})

	exec, err := o.Begin(ctx, f.request("gpt-test"))
	require.NoError(t, err)
	inv.hook = func(_ context.Context, rec email.Record) {
		if rec.Subject != "b" {
			return
		}
		// a second process sharing the database only touches the job row
		_, err := f.db.Exec(`UPDATE jobs SET status = 'cancelled', error = 'cancelled from another process' WHERE id = ?`, exec.JobID())
		assert.NoError(t, err)
	}

	rec := &recorder{}
	_, err = exec.Run(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.Equal(t, ErrorData{Error: "cancelled from another process"}, rec.Last().Data)
	assert.Equal(t, 0, rec.Count(EventCompleted))
	assert.Equal(t, 0, f.count(`SELECT COUNT(*) FROM extraction_records`))

	run, err := o.GetRun(ctx, exec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.True(t, run.Stats.CanResume)

	job, err := o.GetJob(ctx, exec.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, job.Status)
}
