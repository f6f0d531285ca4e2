// Package storage defines the company store abstraction and a small factory
// that lets backends register themselves by kind.
//
// A company store keeps one row per HubSpot company:
//
//	companies(id TEXT PRIMARY KEY, attrs JSON NOT NULL, name TEXT, duplicate BOOL)
//
// attrs holds the mapped Salesforce account row, name its display key and
// duplicate whether an earlier company already claimed that name. Name
// lookups only ever see non-duplicate companies.
//
// Backends live in subpackages (sqlite, postgres) and register in init:
//
//	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) { ... })
//
// Callers import hs2sf/internal/storage/all for side effects and open a
// backend with storage.New without knowing which one they got.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"hs2sf/internal/fieldmap"
)

var (
	// ErrNoCompanies is returned when AddCompanies is called without input.
	ErrNoCompanies = errors.New("storage: no companies provided")
	// ErrNoAttrs is returned for a company without attributes.
	ErrNoAttrs = errors.New("storage: no attrs provided")
	// ErrNoID is returned when GetCompany is called with an empty id.
	ErrNoID = errors.New("storage: no id provided")
	// ErrCompanyNotFound is returned by GetCompany for an unknown id.
	ErrCompanyNotFound = errors.New("storage: company not found")
	// ErrNoNames is returned when FindCompaniesByName is called without input.
	ErrNoNames = errors.New("storage: no names list provided")
	// ErrAmbiguousNames is returned when a name list repeats a name.
	ErrAmbiguousNames = errors.New("storage: duplicate names in list")
	// ErrIntegrity wraps constraint violations: empty or repeated ids.
	ErrIntegrity = errors.New("storage: integrity violation")
)

// Company is one stored HubSpot company.
type Company struct {
	ID        string
	Attrs     *fieldmap.Row
	Name      string
	Duplicate bool
}

// Repository is the contract every company store backend fulfils.
type Repository interface {
	// AddCompanies inserts all companies in one transaction. Ids must be
	// non-empty and unused.
	AddCompanies(ctx context.Context, companies []Company) error

	// GetCompany returns the company stored under id.
	GetCompany(ctx context.Context, id string) (Company, error)

	// FindCompaniesByName returns, for each name, the id of the
	// non-duplicate company carrying it or "" when there is none. The result
	// is aligned with names.
	FindCompaniesByName(ctx context.Context, names []string) ([]string, error)

	// Reset removes every stored company.
	Reset(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name, e.g. "sqlite" or "postgres".
	Kind string
	// DSN is passed to the backend unchanged. For sqlite it is a file path.
	DSN string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Registering the same kind
// twice replaces the earlier factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CheckCompanies applies the input rules shared by all backends.
func CheckCompanies(companies []Company) error {
	if len(companies) == 0 {
		return ErrNoCompanies
	}
	for _, c := range companies {
		if c.Attrs.Len() == 0 {
			return fmt.Errorf("%w for company with id %q", ErrNoAttrs, c.ID)
		}
		if c.ID == "" {
			return fmt.Errorf("%w: company id must not be empty", ErrIntegrity)
		}
	}
	return nil
}

// CheckNames applies the input rules of FindCompaniesByName shared by all
// backends.
func CheckNames(names []string) error {
	if len(names) == 0 {
		return ErrNoNames
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return fmt.Errorf("%w: %q", ErrAmbiguousNames, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// NullableName maps an empty display name onto SQL NULL so that it never
// matches a name lookup.
func NullableName(name string) any {
	if name == "" {
		return nil
	}
	return name
}
