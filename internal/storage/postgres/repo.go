// Package postgres implements a Postgres company store using pgx v5. Inserts
// of one batch are queued into a single pgx.Batch inside a transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hs2sf/internal/fieldmap"
	"hs2sf/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN string // connection string for pgxpool
}

// uniqueViolation is the SQLSTATE of a unique or primary key violation.
const uniqueViolation = "23505"

// attrs is stored as json (not jsonb) so the label order survives.
const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS companies (
	id        TEXT    NOT NULL PRIMARY KEY,
	attrs     JSON    NOT NULL,
	name      TEXT,
	duplicate BOOLEAN NOT NULL DEFAULT false
)`
	createNameIndexSQL = `CREATE INDEX IF NOT EXISTS ix_companies_name ON companies (name)`
	createDupIndexSQL  = `CREATE INDEX IF NOT EXISTS ix_companies_duplicate ON companies (duplicate)`

	insertSQL     = `INSERT INTO companies (id, attrs, name, duplicate) VALUES ($1, $2, $3, $4)`
	getSQL        = `SELECT attrs, name, duplicate FROM companies WHERE id = $1`
	findByNameSQL = `SELECT name, id FROM companies WHERE duplicate = false AND name = ANY($1)`
	resetSQL      = `TRUNCATE companies`
)

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects, creates the companies table when missing and
// returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}

	r := &Repository{pool: pool}
	for _, stmt := range []string{createTableSQL, createNameIndexSQL, createDupIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	closeFn := func() { _ = r.Close() }
	return r, closeFn, nil
}

// Close releases the pool. Calling it again is a no-op.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

var _ storage.Repository = (*Repository)(nil)

// AddCompanies implements storage.Repository.
func (r *Repository) AddCompanies(ctx context.Context, companies []storage.Company) error {
	if err := storage.CheckCompanies(companies); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, c := range companies {
		attrs, err := c.Attrs.MarshalJSON()
		if err != nil {
			return fmt.Errorf("postgres: encode attrs of %q: %w", c.ID, err)
		}
		batch.Queue(insertSQL, c.ID, string(attrs), storage.NullableName(c.Name), c.Duplicate)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for _, c := range companies {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return classify(err, c.ID)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
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
		name *string
		dup  bool
	)
	err := r.pool.QueryRow(ctx, getSQL, id).Scan(&raw, &name, &dup)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Company{}, fmt.Errorf("%w: id %q", storage.ErrCompanyNotFound, id)
	}
	if err != nil {
		return storage.Company{}, fmt.Errorf("postgres: get company %q: %w", id, err)
	}

	attrs := &fieldmap.Row{}
	if err := attrs.UnmarshalJSON(raw); err != nil {
		return storage.Company{}, fmt.Errorf("postgres: decode attrs of %q: %w", id, err)
	}
	c := storage.Company{ID: id, Attrs: attrs, Duplicate: dup}
	if name != nil {
		c.Name = *name
	}
	return c, nil
}

// FindCompaniesByName implements storage.Repository.
func (r *Repository) FindCompaniesByName(ctx context.Context, names []string) ([]string, error) {
	if err := storage.CheckNames(names); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, findByNameSQL, names)
	if err != nil {
		return nil, fmt.Errorf("postgres: find by name: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]string, len(names))
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("postgres: scan name: %w", err)
		}
		byName[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find by name: %w", err)
	}

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = byName[n]
	}
	return out, nil
}

// Reset implements storage.Repository.
func (r *Repository) Reset(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, resetSQL); err != nil {
		return fmt.Errorf("postgres: reset: %w", err)
	}
	return nil
}

// classify maps a unique violation onto storage.ErrIntegrity and keeps the
// server's detail message.
func classify(err error, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: insert company %q: %s (%s)", storage.ErrIntegrity, id, pgErr.Detail, pgErr.SQLState())
	}
	return fmt.Errorf("postgres: insert company %q: %w", id, err)
}
