package extraction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mattsoldo/email-extractor-sub001/account"
	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/ledger"
	"github.com/mattsoldo/email-extractor-sub001/logger"
)

// DefaultStatusChunkSize bounds the rows touched by one batched statement.
const DefaultStatusChunkSize = 100

// CommitProgress is what a run has durably committed before a flush.
type CommitProgress struct {
	JobID    string
	ModelID  string
	Counters Counters
	Stats    Stats
}

// BatchCommitter turns a buffered batch into durable state. Flush writes
// everything or nothing and returns the number of transactions committed.
type BatchCommitter interface {
	Flush(ctx context.Context, runID string, batch *Batch, base CommitProgress) (int, error)
}

// Committer is the SQLite batch committer.
type Committer struct {
	db        *sql.DB
	accounts  *account.Store
	ledger    *ledger.Store
	records   *RecordStore
	errorLog  *ErrorLog
	emails    *email.Store
	runs      *RunStore
	chunkSize int
	now       func() time.Time
	newID     func() string
	logger    *zap.SugaredLogger
}

// NewCommitter creates a committer writing through conn.
func NewCommitter(conn *sql.DB, chunkSize int, log *zap.SugaredLogger) *Committer {
	if chunkSize <= 0 {
		chunkSize = DefaultStatusChunkSize
	}
	log = logger.OrNop(log)
	return &Committer{
		db:        conn,
		accounts:  account.NewStore(conn, log),
		ledger:    ledger.NewStore(conn),
		records:   NewRecordStore(conn),
		errorLog:  NewErrorLog(conn),
		emails:    email.NewStore(conn),
		runs:      NewRunStore(conn),
		chunkSize: chunkSize,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    log,
	}
}

// Flush commits batch for runID in one transaction. On success the batch
// is reset; on failure nothing is written and the batch is left intact.
func (c *Committer) Flush(ctx context.Context, runID string, batch *Batch, base CommitProgress) (int, error) {
	if batch.Empty() {
		return 0, nil
	}
	now := c.now().UTC()
	delta, deltaStats := batch.Delta()
	counters := base.Counters.Add(delta)
	stats := base.Stats.Merge(deltaStats)

	var suggestions []account.CorpusSuggestion
	err := db.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		existing, err := c.accounts.ListAllTx(ctx, tx)
		if err != nil {
			return err
		}
		resolver := account.NewResolver(existing, now)

		txns := make([]ledger.Transaction, 0, len(batch.Candidates))
		byEmail := make(map[string][]string)
		for _, pc := range batch.Candidates {
			cand := pc.Candidate
			var fromID, toID *string
			if id, ok := resolver.Resolve(identification(cand.AccountNumber, cand.AccountName,
				cand.Institution, cand.AccountType, cand.AccountIsExternal)); ok {
				fromID = &id
			}
			if id, ok := resolver.Resolve(identification(cand.ToAccountNumber, cand.ToAccountName,
				cand.ToInstitution, "", cand.ToAccountIsExternal)); ok {
				toID = &id
			}
			t := ledger.Normalize(cand, fromID, toID, now)
			t.ID = c.newID()
			t.SourceEmailID = pc.EmailID
			t.ExtractionRunID = runID
			txns = append(txns, t)
			byEmail[pc.EmailID] = append(byEmail[pc.EmailID], t.ID)
		}

		if err := c.accounts.InsertTx(ctx, tx, resolver.Created()); err != nil {
			return err
		}
		if err := c.accounts.UpdateTx(ctx, tx, resolver.Updated()); err != nil {
			return err
		}
		if err := c.ledger.InsertTx(ctx, tx, txns, c.chunkSize); err != nil {
			return err
		}

		records := make([]Record, 0, len(batch.Results))
		updates := make([]email.StatusUpdate, 0, batch.Len())
		notes := make(map[string]string, len(batch.Informational))
		for _, n := range batch.Informational {
			notes[n.EmailID] = n.Notes
		}
		for _, pr := range batch.Results {
			raw, err := json.Marshal(pr.Result)
			if err != nil {
				return errors.Wrapf(err, "failed to encode result for email %s", pr.EmailID)
			}
			rec := Record{
				ID:             c.newID(),
				RunID:          runID,
				EmailID:        pr.EmailID,
				ModelID:        base.ModelID,
				Result:         raw,
				TransactionIDs: byEmail[pr.EmailID],
				CreatedAt:      now,
			}
			if avg, ok := pr.Result.AverageConfidence(); ok {
				rec.AverageConfidence = &avg
			}
			records = append(records, rec)

			u := email.StatusUpdate{ID: pr.EmailID, Status: email.StatusCompleted, Payload: raw}
			if !pr.Result.IsTransactional {
				u.Status = email.StatusInformational
				u.Notes = notes[pr.EmailID]
			}
			updates = append(updates, u)
		}
		if err := c.records.InsertTx(ctx, tx, records, c.chunkSize); err != nil {
			return err
		}

		entries := make([]ErrorLogEntry, 0, len(batch.Failures))
		for _, f := range batch.Failures {
			entries = append(entries, ErrorLogEntry{
				ID:        c.newID(),
				RunID:     runID,
				JobID:     base.JobID,
				EmailID:   f.EmailID,
				ErrorType: f.ErrorType,
				Message:   f.Message,
				CreatedAt: now,
			})
			updates = append(updates, email.StatusUpdate{ID: f.EmailID, Status: email.StatusFailed, Error: f.Message})
		}
		if err := c.errorLog.InsertTx(ctx, tx, entries, c.chunkSize); err != nil {
			return err
		}
		if err := c.emails.ApplyStatusUpdatesTx(ctx, tx, updates, c.chunkSize); err != nil {
			return err
		}
		if err := c.runs.UpdateProgressTx(ctx, tx, runID, counters, stats, now); err != nil {
			return err
		}
		suggestions = resolver.Suggestions()
		return nil
	})
	if err != nil {
		err = errors.Wrap(err, "batch commit failed")
		return 0, errors.WithDetail(err, fmt.Sprintf("Run ID: %s, records: %d", runID, batch.Len()))
	}

	committed := len(batch.Candidates)
	batch.Reset()

	if len(suggestions) > 0 {
		if err := c.accounts.InsertSuggestions(ctx, suggestions); err != nil {
			c.logger.Warnw("Failed to record corpus suggestions",
				logger.FieldRunID, runID,
				logger.FieldCount, len(suggestions),
				logger.FieldError, err)
		}
	}
	return committed, nil
}

func identification(number, name, institution, accountType string, external bool) account.Identification {
	return account.Identification{
		Number:      number,
		Name:        name,
		Institution: institution,
		AccountType: accountType,
		IsExternal:  external,
	}
}
