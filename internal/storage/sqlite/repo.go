// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the pure-Go modernc.org/sqlite driver. Each AddCompanies
// call runs in its own transaction with a prepared INSERT.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"hs2sf/internal/fieldmap"
	"hs2sf/internal/storage"
)

// maxVars bounds the number of bound parameters per name lookup query.
const maxVars = 500

var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
	id        TEXT    NOT NULL PRIMARY KEY,
	attrs     JSON    NOT NULL,
	name      TEXT,
	duplicate BOOLEAN NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS ix_companies_name ON companies (name)`,
	`CREATE INDEX IF NOT EXISTS ix_companies_duplicate ON companies (duplicate)`,
}

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// Open opens a SQLite database. A single connection is used so that
// ":memory:" databases are shared by all statements.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// New wraps an already opened database. The schema is not touched; call
// EnsureSchema for that.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// NewRepository opens the database at cfg.DSN, creates the companies table
// when missing and returns the Repository plus a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := Open(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	r := New(db)
	if err := r.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	closeFn := func() { _ = r.Close() }
	return r, closeFn, nil
}

// Close releases the database handle. Calling it again is a no-op.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

var _ storage.Repository = (*Repository)(nil)

// EnsureSchema creates the companies table and its indexes if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// AddCompanies implements storage.Repository.
func (r *Repository) AddCompanies(ctx context.Context, companies []storage.Company) error {
	if err := storage.CheckCompanies(companies); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO companies (id, attrs, name, duplicate) VALUES (?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range companies {
		attrs, err := c.Attrs.MarshalJSON()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: encode attrs of %q: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, string(attrs), storage.NullableName(c.Name), c.Duplicate); err != nil {
			_ = tx.Rollback()
			if isConstraint(err) {
				return fmt.Errorf("%w: insert company %q: %v", storage.ErrIntegrity, c.ID, err)
			}
			return fmt.Errorf("sqlite: insert company %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// GetCompany implements storage.Repository.
func (r *Repository) GetCompany(ctx context.Context, id string) (storage.Company, error) {
	if id == "" {
		return storage.Company{}, storage.ErrNoID
	}

	var (
		raw  []byte
		name sql.NullString
		dup  bool
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT attrs, name, duplicate FROM companies WHERE id = ?", id).
		Scan(&raw, &name, &dup)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Company{}, fmt.Errorf("%w: id %q", storage.ErrCompanyNotFound, id)
	}
	if err != nil {
		return storage.Company{}, fmt.Errorf("sqlite: get company %q: %w", id, err)
	}

	attrs := &fieldmap.Row{}
	if err := attrs.UnmarshalJSON(raw); err != nil {
		return storage.Company{}, fmt.Errorf("sqlite: decode attrs of %q: %w", id, err)
	}
	return storage.Company{ID: id, Attrs: attrs, Name: name.String, Duplicate: dup}, nil
}

// FindCompaniesByName implements storage.Repository.
func (r *Repository) FindCompaniesByName(ctx context.Context, names []string) ([]string, error) {
	if err := storage.CheckNames(names); err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(names))
	for start := 0; start < len(names); start += maxVars {
		end := start + maxVars
		if end > len(names) {
			end = len(names)
		}
		if err := r.findChunk(ctx, names[start:end], byName); err != nil {
			return nil, err
		}
	}

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = byName[n]
	}
	return out, nil
}

func (r *Repository) findChunk(ctx context.Context, names []string, into map[string]string) error {
	args := make([]any, 0, len(names)+1)
	args = append(args, false)
	for _, n := range names {
		args = append(args, n)
	}
	q := "SELECT name, id FROM companies WHERE duplicate = ? AND name IN (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite: find by name: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return fmt.Errorf("sqlite: scan name: %w", err)
		}
		into[name] = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: find by name: %w", err)
	}
	return nil
}

// Reset implements storage.Repository.
func (r *Repository) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM companies"); err != nil {
		return fmt.Errorf("sqlite: reset: %w", err)
	}
	return nil
}

// isConstraint reports whether err is a SQLite constraint violation such as
// a repeated primary key.
func isConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "constraint failed")
}
