// Package companies wraps a storage.Repository with the name de-duplication
// policy applied while ingesting HubSpot companies.
//
// The policy is keep-first across the whole run: the first company to
// arrive with a given display name is the canonical one; every later company
// with that name, whether in the same page or a later one, is stored with
// Duplicate set. Duplicates are kept so that contacts and deals pointing at
// them still resolve, but name lookups never return them.
//
// The walk over a batch is not safe for concurrent use. Batches must be
// upserted one after another.
package companies

import (
	"context"
	"fmt"

	"hs2sf/internal/fieldmap"
	"hs2sf/internal/storage"
)

// Entry is one incoming company before its duplicate flag is known.
type Entry struct {
	ID    string
	Attrs *fieldmap.Row
	Name  string
}

// Store applies the de-duplication policy on top of a Repository.
type Store struct {
	repo storage.Repository
}

// New returns a Store backed by repo.
func New(repo storage.Repository) *Store {
	return &Store{repo: repo}
}

// Repository returns the underlying repository.
func (s *Store) Repository() storage.Repository { return s.repo }

// UpsertBatch flags and persists one batch of companies and returns them
// with their computed Duplicate flags.
//
// A company is a duplicate when a non-duplicate company with the same name
// is already stored, or when an earlier entry of this batch carries the same
// name. All entries are persisted, duplicates included.
func (s *Store) UpsertBatch(ctx context.Context, entries []Entry) ([]storage.Company, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	existing, err := s.existingNames(ctx, entries)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(entries))
	out := make([]storage.Company, len(entries))
	for i, e := range entries {
		_, dupInBatch := seen[e.Name]
		out[i] = storage.Company{
			ID:        e.ID,
			Attrs:     e.Attrs,
			Name:      e.Name,
			Duplicate: existing[e.Name] || dupInBatch,
		}
		seen[e.Name] = struct{}{}
	}

	if err := s.repo.AddCompanies(ctx, out); err != nil {
		return nil, fmt.Errorf("companies: upsert batch: %w", err)
	}
	return out, nil
}

// existingNames looks up every distinct name of the batch once and reports
// which ones already belong to a stored non-duplicate company.
func (s *Store) existingNames(ctx context.Context, entries []Entry) (map[string]bool, error) {
	distinct := make([]string, 0, len(entries))
	idx := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := idx[e.Name]; ok {
			continue
		}
		idx[e.Name] = struct{}{}
		distinct = append(distinct, e.Name)
	}

	ids, err := s.repo.FindCompaniesByName(ctx, distinct)
	if err != nil {
		return nil, fmt.Errorf("companies: look up names: %w", err)
	}

	existing := make(map[string]bool, len(distinct))
	for i, name := range distinct {
		existing[name] = ids[i] != ""
	}
	return existing, nil
}

// Get returns the company stored under id.
func (s *Store) Get(ctx context.Context, id string) (storage.Company, error) {
	return s.repo.GetCompany(ctx, id)
}

// FindByName returns ids of non-duplicate companies aligned with names, ""
// where no company matches.
func (s *Store) FindByName(ctx context.Context, names []string) ([]string, error) {
	return s.repo.FindCompaniesByName(ctx, names)
}
