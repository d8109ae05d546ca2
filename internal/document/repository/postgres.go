package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docedit/docedit/internal/document"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_updated_at_idx ON documents (updated_at DESC);
`

// PostgresRepo stores documents in a single PostgreSQL table.
type PostgresRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepo creates the documents table when it is missing.
func NewPostgresRepo(ctx context.Context, db *sql.DB) (*PostgresRepo, error) {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("ensure documents schema: %w", err)
	}
	return &PostgresRepo{db: db, now: document.Now}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var d document.Document
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (p *PostgresRepo) Create(ctx context.Context, d *document.Document) (*document.Document, error) {
	doc := clone(d)
	document.Stamp(doc, p.now())
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (p *PostgresRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	return d, nil
}

func (p *PostgresRepo) List(ctx context.Context) ([]*document.Document, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := []*document.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

// Update locks the row for the read-modify-write so updatedAt stays strictly
// increasing under concurrent writers.
func (p *PostgresRepo) Update(ctx context.Context, id string, patch document.Patch) (*document.Document, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM documents WHERE id = $1 FOR UPDATE`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	patch.Apply(d, p.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET title = $2, content = $3, updated_at = $4 WHERE id = $1`,
		d.ID, d.Title, d.Content, d.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return d, nil
}

func (p *PostgresRepo) Delete(ctx context.Context, id string) (*document.Document, error) {
	row := p.db.QueryRowContext(ctx,
		`DELETE FROM documents WHERE id = $1 RETURNING id, title, content, created_at, updated_at`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	return d, nil
}
