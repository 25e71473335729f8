package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// insertChunkSize bounds rows per multi-row INSERT.
const insertChunkSize = 100

const accountColumns = `id, display_name, institution, account_number, masked_number,
	account_type, is_external, corpus_id, created_at, updated_at`

// Store persists accounts, corpora and corpus suggestions.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewStore creates an account store.
func NewStore(conn *sql.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: conn, now: time.Now, logger: logger}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var number, masked, corp sql.NullString
	var external int
	if err := row.Scan(&a.ID, &a.DisplayName, &a.Institution, &number, &masked,
		&a.AccountType, &external, &corp, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AccountNumber = nullString(number)
	a.MaskedNumber = nullString(masked)
	a.CorpusID = nullString(corp)
	a.IsExternal = external != 0
	return &a, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func queryAccounts(ctx context.Context, q db.Execer, query string, args ...interface{}) ([]*Account, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query accounts")
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan account")
		}
		accounts = append(accounts, a)
	}
	return accounts, errors.Wrap(rows.Err(), "failed to iterate accounts")
}

// ListAllTx reads every account through q, which is normally the batch
// commit transaction.
func (s *Store) ListAllTx(ctx context.Context, q db.Execer) ([]*Account, error) {
	return queryAccounts(ctx, q, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
}

// List returns all accounts.
func (s *Store) List(ctx context.Context) ([]*Account, error) {
	return s.ListAllTx(ctx, s.db)
}

// Get returns one account.
func (s *Store) Get(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("account not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get account %s", id)
	}
	return a, nil
}

// InsertTx inserts accounts with multi-row statements.
func (s *Store) InsertTx(ctx context.Context, q db.Execer, accounts []*Account) error {
	for _, chunk := range db.Chunk(accounts, insertChunkSize) {
		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*10)
		for _, a := range chunk {
			values = append(values, "("+db.Placeholders(10)+")")
			args = append(args, a.ID, a.DisplayName, a.Institution, a.AccountNumber, a.MaskedNumber,
				a.AccountType, a.IsExternal, a.CorpusID, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
		}
		query := `INSERT INTO accounts (` + accountColumns + `) VALUES ` + strings.Join(values, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return errors.WithDetailf(errors.Wrap(err, "failed to insert accounts"), "chunk size: %d", len(chunk))
		}
	}
	return nil
}

// UpdateTx writes back enriched accounts.
func (s *Store) UpdateTx(ctx context.Context, q db.Execer, accounts []*Account) error {
	for _, a := range accounts {
		_, err := q.ExecContext(ctx, `
			UPDATE accounts SET display_name = ?, institution = ?, account_number = ?,
				masked_number = ?, account_type = ?, updated_at = ?
			WHERE id = ?`,
			a.DisplayName, a.Institution, a.AccountNumber, a.MaskedNumber, a.AccountType, a.UpdatedAt.UTC(), a.ID)
		if err != nil {
			return errors.Wrapf(err, "failed to update account %s", a.ID)
		}
	}
	return nil
}

// InsertSuggestions records corpus suggestions. A pair already suggested
// is left as it is.
func (s *Store) InsertSuggestions(ctx context.Context, suggestions []CorpusSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, sg := range suggestions {
			reasons, err := json.Marshal(sg.Reasons)
			if err != nil {
				return errors.Wrap(err, "failed to encode suggestion reasons")
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO account_corpus_suggestions
					(id, account_id, candidate_id, confidence, level, reasons, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (account_id, candidate_id) DO NOTHING`,
				sg.ID, sg.AccountID, sg.CandidateID, sg.Confidence.String(), string(sg.Level),
				string(reasons), sg.CreatedAt.UTC())
			if err != nil {
				return errors.Wrapf(err, "failed to insert suggestion %s -> %s", sg.AccountID, sg.CandidateID)
			}
		}
		return nil
	})
}

// ListSuggestions returns suggestions, strongest first. A nil level
// returns every level.
func (s *Store) ListSuggestions(ctx context.Context, level *SuggestionLevel) ([]CorpusSuggestion, error) {
	query := `SELECT id, account_id, candidate_id, confidence, level, reasons, created_at
		FROM account_corpus_suggestions`
	var args []interface{}
	if level != nil {
		query += ` WHERE level = ?`
		args = append(args, string(*level))
	}
	query += ` ORDER BY CAST(confidence AS REAL) DESC, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list suggestions")
	}
	defer rows.Close()

	var out []CorpusSuggestion
	for rows.Next() {
		var sg CorpusSuggestion
		var confidence, level, reasons string
		if err := rows.Scan(&sg.ID, &sg.AccountID, &sg.CandidateID, &confidence, &level, &reasons, &sg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan suggestion")
		}
		if sg.Confidence, err = decimal.NewFromString(confidence); err != nil {
			return nil, errors.Wrapf(err, "invalid confidence on suggestion %s", sg.ID)
		}
		sg.Level = SuggestionLevel(level)
		if err := json.Unmarshal([]byte(reasons), &sg.Reasons); err != nil {
			return nil, errors.Wrapf(err, "invalid reasons on suggestion %s", sg.ID)
		}
		out = append(out, sg)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate suggestions")
}

// CreateCorpus groups accountIDs under a new corpus and drops the
// suggestions the grouping settles.
func (s *Store) CreateCorpus(ctx context.Context, name string, accountIDs []string) (*Corpus, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewInvalidRequestError("corpus name cannot be empty")
	}
	if len(accountIDs) < 2 {
		return nil, errors.NewInvalidRequestError("a corpus needs at least two accounts, got %d", len(accountIDs))
	}

	corpus := &Corpus{ID: uuid.NewString(), Name: name, CreatedAt: s.now().UTC()}
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_corpora (id, name, created_at) VALUES (?, ?, ?)`,
			corpus.ID, corpus.Name, corpus.CreatedAt); err != nil {
			return errors.Wrap(err, "failed to insert corpus")
		}
		return s.assign(ctx, tx, corpus.ID, accountIDs)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Created account corpus",
		"corpus_id", corpus.ID,
		"name", corpus.Name,
		"count", len(accountIDs),
	)
	return corpus, nil
}

// AssignCorpus adds accounts to an existing corpus.
func (s *Store) AssignCorpus(ctx context.Context, corpusID string, accountIDs []string) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM account_corpora WHERE id = ?`, corpusID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("corpus not found: %s", corpusID)
		}
		if err != nil {
			return errors.Wrap(err, "failed to look up corpus")
		}
		return s.assign(ctx, tx, corpusID, accountIDs)
	})
}

func (s *Store) assign(ctx context.Context, tx *sql.Tx, corpusID string, accountIDs []string) error {
	now := s.now().UTC()
	for _, id := range accountIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET corpus_id = ?, updated_at = ? WHERE id = ?`, corpusID, now, id)
		if err != nil {
			return errors.Wrapf(err, "failed to assign account %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFoundError("account not found: %s", id)
		}
	}

	_, err := tx.ExecContext(ctx, `
		DELETE FROM account_corpus_suggestions
		WHERE account_id IN (SELECT id FROM accounts WHERE corpus_id = ?)
		  AND candidate_id IN (SELECT id FROM accounts WHERE corpus_id = ?)`, corpusID, corpusID)
	return errors.Wrap(err, "failed to clear settled suggestions")
}
