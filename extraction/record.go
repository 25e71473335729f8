package extraction

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
)

const recordColumnCount = 8

// Record is the durable outcome of extracting one email inside a run.
// Its presence marks the email as covered by the run.
type Record struct {
	ID                string           `json:"id"`
	RunID             string           `json:"runId"`
	EmailID           string           `json:"emailId"`
	ModelID           string           `json:"modelId"`
	Result            json.RawMessage  `json:"result"`
	AverageConfidence *decimal.Decimal `json:"averageConfidence,omitempty"`
	TransactionIDs    []string         `json:"transactionIds"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// RecordStore persists extraction records.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a record store.
func NewRecordStore(conn *sql.DB) *RecordStore {
	return &RecordStore{db: conn}
}

// InsertTx inserts records through q in chunks of chunkSize rows.
func (s *RecordStore) InsertTx(ctx context.Context, q db.Execer, records []Record, chunkSize int) error {
	for _, chunk := range db.Chunk(records, chunkSize) {
		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*recordColumnCount)
		for _, r := range chunk {
			ids := r.TransactionIDs
			if ids == nil {
				ids = []string{}
			}
			rawIDs, err := json.Marshal(ids)
			if err != nil {
				return errors.Wrapf(err, "failed to encode transaction ids for email %s", r.EmailID)
			}
			var avg interface{}
			if r.AverageConfidence != nil {
				avg = r.AverageConfidence.String()
			}
			values = append(values, "("+db.Placeholders(recordColumnCount)+")")
			args = append(args, r.ID, r.RunID, r.EmailID, r.ModelID, string(r.Result),
				avg, string(rawIDs), r.CreatedAt.UTC())
		}
		query := `INSERT INTO extraction_records
			(id, run_id, email_id, model_id, result, average_confidence, transaction_ids, created_at)
			VALUES ` + strings.Join(values, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "failed to insert %d extraction records", len(chunk))
		}
	}
	return nil
}

// CoveredEmailIDs returns the emails that already have a record in runID.
func (s *RecordStore) CoveredEmailIDs(ctx context.Context, runID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email_id FROM extraction_records WHERE run_id = ?`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list covered emails of run %s", runID)
	}
	defer rows.Close()

	covered := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan covered email")
		}
		covered[id] = struct{}{}
	}
	return covered, errors.Wrap(rows.Err(), "failed to iterate covered emails")
}

// CountByRun returns the number of records in runID.
func (s *RecordStore) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_records WHERE run_id = ?`, runID).Scan(&n)
	return n, errors.Wrapf(err, "failed to count records of run %s", runID)
}

// ListByRun returns the records of runID in insertion order.
func (s *RecordStore) ListByRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, email_id, model_id, result, average_confidence, transaction_ids, created_at
		FROM extraction_records WHERE run_id = ? ORDER BY created_at, email_id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list records of run %s", runID)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var result, ids string
		var avg sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.EmailID, &r.ModelID, &result, &avg, &ids, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan extraction record")
		}
		r.Result = json.RawMessage(result)
		if avg.Valid {
			d, err := decimal.NewFromString(avg.String)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid average confidence on record %s", r.ID)
			}
			r.AverageConfidence = &d
		}
		if err := json.Unmarshal([]byte(ids), &r.TransactionIDs); err != nil {
			return nil, errors.Wrapf(err, "invalid transaction ids on record %s", r.ID)
		}
		records = append(records, r)
	}
	return records, errors.Wrap(rows.Err(), "failed to iterate extraction records")
}
