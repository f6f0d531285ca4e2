// Package migrate runs the build phase: it joins the downloaded intermediates
// into Salesforce import files, then optionally removes the intermediates.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"hs2sf/internal/companies"
	"hs2sf/internal/fieldmap"
	"hs2sf/internal/hubspot"
	"hs2sf/internal/join"
	"hs2sf/internal/mapping"
	"hs2sf/internal/metrics"
	"hs2sf/internal/rowfile"
)

// File names inside the output directory.
const (
	ContactsFile         = "contacts.parquet"
	DealsFile            = "deals.parquet"
	CompaniesFile        = "companies.sqlite"
	AccountsContactsFile = "accounts_contacts.csv"
	AccountsContactsErrs = "errors_accounts_contacts.csv"
	OpportunitiesFile    = "opportunities.csv"
	OpportunitiesErrs    = "errors_opportunities.csv"
)

// Output names used for stats and metrics.
const (
	AccountsContacts = "accounts_contacts"
	Opportunities    = "opportunities"
)

// ErrMissingIntermediate is returned when a download artifact is absent.
var ErrMissingIntermediate = errors.New("migrate: intermediate file not found")

// Layout resolves file paths inside an output directory.
type Layout struct {
	Dir string
}

func (l Layout) path(name string) string { return filepath.Join(l.Dir, name) }

func (l Layout) Contacts() string  { return l.path(ContactsFile) }
func (l Layout) Deals() string     { return l.path(DealsFile) }
func (l Layout) Companies() string { return l.path(CompaniesFile) }

// Intermediates lists the files the build phase reads. The companies file is
// only an intermediate when the store is the local sqlite file.
func (l Layout) Intermediates(localStore bool) []string {
	out := []string{l.Contacts(), l.Deals()}
	if localStore {
		out = append(out, l.Companies())
	}
	return out
}

// Stats holds the row counts of both outputs.
type Stats struct {
	AccountsContacts join.Stats
	Opportunities    join.Stats
}

// Map returns the stats under their flat report keys, e.g.
// accounts_contacts_valid_rows.
func (s Stats) Map() map[string]int64 {
	return map[string]int64{
		AccountsContacts + "_total_rows": s.AccountsContacts.Total,
		AccountsContacts + "_valid_rows": s.AccountsContacts.Valid,
		AccountsContacts + "_error_rows": s.AccountsContacts.Error,
		Opportunities + "_total_rows":    s.Opportunities.Total,
		Opportunities + "_valid_rows":    s.Opportunities.Valid,
		Opportunities + "_error_rows":    s.Opportunities.Error,
	}
}

// Options tune a build.
type Options struct {
	// LocalStore reports whether the company store lives in the output
	// directory and must exist before the build.
	LocalStore bool

	// Presence decides whether required values are set; nil means
	// fieldmap.Truthy.
	Presence fieldmap.Presence

	// Deals is the deal table; nil selects mapping.Deals(time.Now).
	Deals fieldmap.Table

	// BatchSize is the row file read batch; <= 0 selects the default.
	BatchSize int

	// Progress receives "[1/2] 42.0%" style status lines.
	Progress func(status string)

	Logger *slog.Logger
}

// CheckIntermediates reports every missing intermediate at once.
func CheckIntermediates(l Layout, localStore bool) error {
	var err error
	for _, p := range l.Intermediates(localStore) {
		if _, serr := os.Stat(p); serr != nil {
			if errors.Is(serr, os.ErrNotExist) {
				err = multierr.Append(err, fmt.Errorf("%w: %s", ErrMissingIntermediate, filepath.Base(p)))
				continue
			}
			err = multierr.Append(err, fmt.Errorf("migrate: stat %s: %w", p, serr))
		}
	}
	return err
}

// Build writes the accounts+contacts and opportunities files from the
// intermediates in l, resolving companies through store. The store stays
// open across both passes.
func Build(ctx context.Context, l Layout, store *companies.Store, opts Options) (Stats, error) {
	var stats Stats
	if err := CheckIntermediates(l, opts.LocalStore); err != nil {
		return stats, err
	}
	if opts.Deals == nil {
		opts.Deals = mapping.Deals(time.Now)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	passes := []struct {
		step   string
		name   string
		mode   join.Mode
		child  fieldmap.Table
		object hubspot.Object
		src    string
		valid  string
		errs   string
		out    *join.Stats
	}{
		{"[1/2]", AccountsContacts, join.ContactMerge, mapping.Contacts, hubspot.Contacts,
			l.Contacts(), l.path(AccountsContactsFile), l.path(AccountsContactsErrs), &stats.AccountsContacts},
		{"[2/2]", Opportunities, join.DealLink, opts.Deals, hubspot.Deals,
			l.Deals(), l.path(OpportunitiesFile), l.path(OpportunitiesErrs), &stats.Opportunities},
	}

	for _, p := range passes {
		step := p.step
		e, err := join.New(join.Config{
			Mode:         p.mode,
			Child:        p.child,
			ChildPath:    p.object.Path(),
			Accounts:     mapping.Accounts,
			AccountsPath: hubspot.Companies.Path(),
			ValidPath:    p.valid,
			ErrorPath:    p.errs,
			Presence:     opts.Presence,
			Progress: func(done float64) {
				if opts.Progress != nil {
					opts.Progress(fmt.Sprintf("%s %.1f%%", step, done*100))
				}
			},
			Logger: log.With(slog.String("output", p.name)),
		}, store)
		if err != nil {
			return stats, err
		}

		s, err := runPass(ctx, e, p.src, opts.BatchSize)
		*p.out = s
		recordRows(p.name, s)
		if err != nil {
			return stats, fmt.Errorf("migrate: %s: %w", p.name, err)
		}
	}
	return stats, nil
}

func runPass(ctx context.Context, e *join.Engine, src string, batchSize int) (s join.Stats, err error) {
	r, err := rowfile.Open(src, batchSize)
	if err != nil {
		return s, err
	}
	defer func() {
		err = multierr.Append(err, r.Close())
	}()
	return e.Run(ctx, r)
}

func recordRows(output string, s join.Stats) {
	metrics.RecordRows(output, "total", s.Total)
	metrics.RecordRows(output, "valid", s.Valid)
	metrics.RecordRows(output, "error", s.Error)
}

// Cleanup removes the intermediates. Missing files are not an error.
func Cleanup(l Layout, localStore bool) error {
	var err error
	for _, p := range l.Intermediates(localStore) {
		if rerr := os.Remove(p); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("migrate: remove %s: %w", p, rerr))
		}
	}
	return err
}
