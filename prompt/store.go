package prompt

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// Store handles persistence of prompts
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new prompt store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Upsert inserts p or replaces the content of the prompt with the same id.
func (s *Store) Upsert(ctx context.Context, p *Prompt) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	p.ContentHash = Hash(p.Content, p.OutputSchema)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	var schema interface{}
	if len(p.OutputSchema) > 0 {
		schema = string(p.OutputSchema)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompts (id, name, content, output_schema, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			output_schema = excluded.output_schema,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Content, schema, p.ContentHash, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to save prompt %s", p.ID)
	}
	return nil
}

// Get retrieves a prompt by ID
func (s *Store) Get(ctx context.Context, id string) (*Prompt, error) {
	p, err := scanPrompt(s.db.QueryRowContext(ctx,
		`SELECT id, name, content, output_schema, content_hash, created_at, updated_at FROM prompts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("prompt not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get prompt")
	}
	return p, nil
}

// List returns all prompts ordered by id
func (s *Store) List(ctx context.Context) ([]*Prompt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, output_schema, content_hash, created_at, updated_at FROM prompts ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list prompts")
	}
	defer rows.Close()

	var prompts []*Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan prompt")
		}
		prompts = append(prompts, p)
	}
	return prompts, errors.Wrap(rows.Err(), "error iterating prompts")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrompt(row rowScanner) (*Prompt, error) {
	var p Prompt
	var schema sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Content, &schema, &p.ContentHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if schema.Valid {
		p.OutputSchema = []byte(schema.String)
	}
	return &p, nil
}
