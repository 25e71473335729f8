package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/extract"
)

const transactionColumns = `id, source_email_id, extraction_run_id, account_id, to_account_id,
	type, date, amount, currency, description, symbol, quantity, price, fees,
	confidence, data, run_completed, created_at`

const transactionColumnCount = 18

// DefaultChunkSize bounds rows per multi-row INSERT.
const DefaultChunkSize = 100

// Store persists transactions.
type Store struct {
	db *sql.DB
}

// NewStore creates a transaction store.
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

func decimalString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// InsertTx inserts txns through q in chunks of chunkSize rows.
func (s *Store) InsertTx(ctx context.Context, q db.Execer, txns []Transaction, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	for _, chunk := range db.Chunk(txns, chunkSize) {
		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*transactionColumnCount)
		for _, t := range chunk {
			data, err := json.Marshal(t.Data)
			if err != nil {
				return errors.Wrapf(err, "failed to encode data for transaction %s", t.ID)
			}
			values = append(values, "("+db.Placeholders(transactionColumnCount)+")")
			args = append(args,
				t.ID, t.SourceEmailID, t.ExtractionRunID, t.AccountID, t.ToAccountID,
				string(t.Type), t.Date.UTC(), t.Amount.String(), t.Currency, t.Description, t.Symbol,
				decimalString(t.Quantity), decimalString(t.Price), decimalString(t.Fees),
				t.Confidence.String(), string(data), t.RunCompleted, t.CreatedAt.UTC())
		}
		query := `INSERT INTO transactions (` + transactionColumns + `) VALUES ` + strings.Join(values, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return errors.WithDetailf(errors.Wrap(err, "failed to insert transactions"), "chunk size: %d", len(chunk))
		}
	}
	return nil
}

// MarkRunCompletedTx flags every transaction of runID as belonging to a
// completed run.
func (s *Store) MarkRunCompletedTx(ctx context.Context, q db.Execer, runID string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE transactions SET run_completed = 1 WHERE extraction_run_id = ? AND run_completed = 0`, runID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to mark transactions of run %s completed", runID)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkRunCompleted is MarkRunCompletedTx outside a transaction.
func (s *Store) MarkRunCompleted(ctx context.Context, runID string) (int64, error) {
	return s.MarkRunCompletedTx(ctx, s.db, runID)
}

// CountByRun returns how many transactions runID produced.
func (s *Store) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE extraction_run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count transactions of run %s", runID)
	}
	return n, nil
}

// ListByRun returns the transactions of runID ordered by date.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE extraction_run_id = ? ORDER BY date, id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list transactions of run %s", runID)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate transactions")
}

func scanTransaction(rows *sql.Rows) (Transaction, error) {
	var t Transaction
	var accountID, toAccountID, symbol, quantity, price, fees sql.NullString
	var txType, amount, confidence, data string
	var runCompleted int

	if err := rows.Scan(&t.ID, &t.SourceEmailID, &t.ExtractionRunID, &accountID, &toAccountID,
		&txType, &t.Date, &amount, &t.Currency, &t.Description, &symbol, &quantity, &price, &fees,
		&confidence, &data, &runCompleted, &t.CreatedAt); err != nil {
		return t, errors.Wrap(err, "failed to scan transaction")
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, errors.Wrapf(err, "invalid amount on transaction %s", t.ID)
	}
	if t.Confidence, err = decimal.NewFromString(confidence); err != nil {
		return t, errors.Wrapf(err, "invalid confidence on transaction %s", t.ID)
	}
	for _, f := range []struct {
		src sql.NullString
		dst **decimal.Decimal
	}{{quantity, &t.Quantity}, {price, &t.Price}, {fees, &t.Fees}} {
		if !f.src.Valid {
			continue
		}
		d, err := decimal.NewFromString(f.src.String)
		if err != nil {
			return t, errors.Wrapf(err, "invalid decimal on transaction %s", t.ID)
		}
		*f.dst = &d
	}
	if err := json.Unmarshal([]byte(data), &t.Data); err != nil {
		return t, errors.Wrapf(err, "invalid data on transaction %s", t.ID)
	}

	t.Type = extract.TransactionType(txType)
	t.AccountID = nullable(accountID)
	t.ToAccountID = nullable(toAccountID)
	t.Symbol = nullable(symbol)
	t.RunCompleted = runCompleted != 0
	return t, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
