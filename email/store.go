package email

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// Store handles persistence of email sets and records
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new email store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateSet creates a named set, or returns the existing one with that name.
func (s *Store) CreateSet(ctx context.Context, name string) (*Set, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewInvalidRequestError("set name cannot be empty")
	}

	if existing, err := s.getSetBy(ctx, "name", name); err == nil {
		return existing, nil
	} else if !errors.IsNotFoundError(err) {
		return nil, err
	}

	set := &Set{ID: uuid.NewString(), Name: name, CreatedAt: s.now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_sets (id, name, created_at) VALUES (?, ?, ?)`,
		set.ID, set.Name, set.CreatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create set %q", name)
	}
	return set, nil
}

// GetSet retrieves a set by ID
func (s *Store) GetSet(ctx context.Context, id string) (*Set, error) {
	return s.getSetBy(ctx, "id", id)
}

// GetSetByName retrieves a set by its unique name
func (s *Store) GetSetByName(ctx context.Context, name string) (*Set, error) {
	return s.getSetBy(ctx, "name", name)
}

func (s *Store) getSetBy(ctx context.Context, column, value string) (*Set, error) {
	var set Set
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM email_sets WHERE `+column+` = ?`, value).
		Scan(&set.ID, &set.Name, &set.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("email set not found: %s", value)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get email set")
	}
	return &set, nil
}

// ListSets returns all sets ordered by name
func (s *Store) ListSets(ctx context.Context) ([]*Set, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM email_sets ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list email sets")
	}
	defer rows.Close()

	var sets []*Set
	for rows.Next() {
		var set Set
		if err := rows.Scan(&set.ID, &set.Name, &set.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan email set")
		}
		sets = append(sets, &set)
	}
	return sets, errors.Wrap(rows.Err(), "error iterating email sets")
}

// AddRecord inserts rec into its set. ID, status and timestamps are filled
// in when empty.
func (s *Store) AddRecord(ctx context.Context, rec *Record) error {
	if rec.SetID == "" {
		return errors.NewInvalidRequestError("record has no set")
	}
	now := s.now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (
			id, set_id, filename, subject, sender, received_at, body,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SetID, rec.Filename, rec.Subject, rec.Sender, utcPtr(rec.ReceivedAt), rec.Body,
		rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		err = errors.Wrap(err, "failed to add email")
		return errors.WithDetail(err, fmt.Sprintf("Set ID: %s", rec.SetID))
	}
	return nil
}

const recordColumns = `id, set_id, filename, subject, sender, received_at, body,
	status, error, skip_reason, notes, extracted_payload, created_at, updated_at`

// Get retrieves a record by ID
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM emails WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("email not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get email")
	}
	return rec, nil
}

// ListBySet returns the records of a set in insertion order, optionally
// filtered by status.
func (s *Store) ListBySet(ctx context.Context, setID string, status *Status) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM emails WHERE set_id = ?`
	args := []interface{}{setID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list emails")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListIDsBySet returns the record ids of a set in insertion order.
func (s *Store) ListIDsBySet(ctx context.Context, setID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM emails WHERE set_id = ? ORDER BY created_at, id`, setID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list email ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan email id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "error iterating email ids")
}

// ListByIDs loads the given records, in the order of ids. Unknown ids are
// skipped.
func (s *Store) ListByIDs(ctx context.Context, ids []string, chunkSize int) ([]*Record, error) {
	byID := make(map[string]*Record, len(ids))
	for _, chunk := range db.Chunk(ids, chunkSize) {
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+recordColumns+` FROM emails WHERE id IN (`+db.Placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load emails")
		}
		recs, err := scanRecords(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			byID[r.ID] = r
		}
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// CountByStatus returns the number of records per status in a set.
func (s *Store) CountByStatus(ctx context.Context, setID string) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM emails WHERE set_id = ? GROUP BY status`, setID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count emails")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan email count")
		}
		counts[st] = n
	}
	return counts, errors.Wrap(rows.Err(), "error iterating email counts")
}

// ApplyStatusUpdatesTx writes updates inside tx. Updates are grouped by
// status and each group is written in sub-chunks of chunkSize rows, one
// UPDATE per chunk.
func (s *Store) ApplyStatusUpdatesTx(ctx context.Context, tx db.Execer, updates []StatusUpdate, chunkSize int) error {
	if len(updates) == 0 {
		return nil
	}
	now := s.now().UTC()

	groups := make(map[Status][]StatusUpdate)
	var order []Status
	for _, u := range updates {
		if !u.Status.Valid() {
			return errors.NewInvalidRequestError("invalid email status %q for %s", u.Status, u.ID)
		}
		if _, seen := groups[u.Status]; !seen {
			order = append(order, u.Status)
		}
		groups[u.Status] = append(groups[u.Status], u)
	}

	for _, status := range order {
		for _, chunk := range db.Chunk(groups[status], chunkSize) {
			if err := updateChunk(ctx, tx, status, chunk, now); err != nil {
				err = errors.Wrapf(err, "failed to mark %d emails %s", len(chunk), status)
				return errors.WithDetail(err, fmt.Sprintf("Status: %s", status))
			}
		}
	}
	return nil
}

func updateChunk(ctx context.Context, tx db.Execer, status Status, chunk []StatusUpdate, now time.Time) error {
	var errCase, notesCase, payloadCase strings.Builder
	var errArgs, notesArgs, payloadArgs, idArgs []interface{}

	for _, u := range chunk {
		errCase.WriteString(" WHEN ? THEN ?")
		errArgs = append(errArgs, u.ID, nullIfEmpty(u.Error))
		notesCase.WriteString(" WHEN ? THEN ?")
		notesArgs = append(notesArgs, u.ID, nullIfEmpty(u.Notes))
		payloadCase.WriteString(" WHEN ? THEN ?")
		payloadArgs = append(payloadArgs, u.ID, nullIfEmpty(string(u.Payload)))
		idArgs = append(idArgs, u.ID)
	}

	query := fmt.Sprintf(`
		UPDATE emails
		SET status = ?,
		    error = CASE id%s ELSE error END,
		    notes = CASE id%s ELSE notes END,
		    extracted_payload = COALESCE(CASE id%s END, extracted_payload),
		    updated_at = ?
		WHERE id IN (%s)`,
		errCase.String(), notesCase.String(), payloadCase.String(), db.Placeholders(len(chunk)))

	args := []interface{}{status}
	args = append(args, errArgs...)
	args = append(args, notesArgs...)
	args = append(args, payloadArgs...)
	args = append(args, now)
	args = append(args, idArgs...)

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var received sql.NullTime
	var errMsg, skip, notes, payload sql.NullString
	err := row.Scan(&rec.ID, &rec.SetID, &rec.Filename, &rec.Subject, &rec.Sender, &received, &rec.Body,
		&rec.Status, &errMsg, &skip, &notes, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if received.Valid {
		t := received.Time
		rec.ReceivedAt = &t
	}
	rec.Error = errMsg.String
	rec.SkipReason = skip.String
	rec.Notes = notes.String
	if payload.Valid {
		rec.ExtractedPayload = []byte(payload.String)
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan email")
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating emails")
	}
	return recs, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
