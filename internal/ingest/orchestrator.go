// Package ingest downloads HubSpot objects and stores them for the build
// phase: companies in the company store, contacts and deals in row files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"hs2sf/internal/companies"
	"hs2sf/internal/fieldmap"
	"hs2sf/internal/hubspot"
	"hs2sf/internal/mapping"
	"hs2sf/internal/metrics"
	"hs2sf/internal/rowfile"
)

// Pager walks every page of a HubSpot object type.
type Pager interface {
	Walk(ctx context.Context, o hubspot.Object, fn func(p *hubspot.Page, size int) error) error
}

// Config wires an Orchestrator.
type Config struct {
	Pager  Pager
	Store  *companies.Store
	Layout Layout

	// Deals is the deal table; nil selects mapping.Deals(time.Now).
	Deals fieldmap.Table

	// Progress receives the running total of downloaded bytes after each
	// page.
	Progress func(totalBytes int64)

	Logger *slog.Logger
}

// Layout names the intermediate files written by the download phase.
type Layout struct {
	Contacts string
	Deals    string
}

// Stats summarizes a download.
type Stats struct {
	Companies  int64
	Duplicates int64
	Contacts   int64
	Deals      int64
	Pages      int64
	Bytes      int64
}

// Orchestrator runs the download phase.
type Orchestrator struct {
	cfg   Config
	log   *slog.Logger
	stats Stats
}

// New checks cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var err error
	if cfg.Pager == nil {
		err = multierr.Append(err, errors.New("ingest: pager required"))
	}
	if cfg.Store == nil {
		err = multierr.Append(err, errors.New("ingest: company store required"))
	}
	if cfg.Layout.Contacts == "" || cfg.Layout.Deals == "" {
		err = multierr.Append(err, errors.New("ingest: contacts and deals paths required"))
	}
	if err != nil {
		return nil, err
	}
	if cfg.Deals == nil {
		cfg.Deals = mapping.Deals(time.Now)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{cfg: cfg, log: log}, nil
}

// Run downloads companies, then contacts, then deals. The company store is
// reset first so a run never mixes with an earlier one.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	o.stats = Stats{}

	if err := o.cfg.Store.Repository().Reset(ctx); err != nil {
		return o.stats, fmt.Errorf("ingest: reset company store: %w", err)
	}
	if err := o.downloadCompanies(ctx); err != nil {
		return o.stats, err
	}
	n, err := o.children(ctx, hubspot.Contacts, mapping.Contacts, o.cfg.Layout.Contacts)
	o.stats.Contacts = n
	if err != nil {
		return o.stats, err
	}
	n, err = o.children(ctx, hubspot.Deals, o.cfg.Deals, o.cfg.Layout.Deals)
	o.stats.Deals = n
	if err != nil {
		return o.stats, err
	}

	o.log.Info("ingest: done",
		slog.Int64("companies", o.stats.Companies),
		slog.Int64("duplicates", o.stats.Duplicates),
		slog.Int64("contacts", o.stats.Contacts),
		slog.Int64("deals", o.stats.Deals),
		slog.Int64("bytes", o.stats.Bytes))
	return o.stats, nil
}

func (o *Orchestrator) page(obj hubspot.Object, size int) {
	o.stats.Pages++
	o.stats.Bytes += int64(size)
	metrics.RecordPage(string(obj), size)
	if o.cfg.Progress != nil {
		o.cfg.Progress(o.stats.Bytes)
	}
}

func (o *Orchestrator) downloadCompanies(ctx context.Context) error {
	err := o.cfg.Pager.Walk(ctx, hubspot.Companies, func(p *hubspot.Page, size int) error {
		o.page(hubspot.Companies, size)
		if len(p.Results) == 0 {
			return nil
		}

		entries := make([]companies.Entry, len(p.Results))
		for i, r := range p.Results {
			attrs := fieldmap.Apply(mapping.Accounts, fieldmap.Source(r.Properties))
			entries[i] = companies.Entry{
				ID:    r.ID,
				Attrs: attrs,
				Name:  attrs.Value(mapping.AccountName).OrEmpty(),
			}
		}
		stored, err := o.cfg.Store.UpsertBatch(ctx, entries)
		if err != nil {
			return err
		}
		for _, c := range stored {
			if c.Duplicate {
				o.stats.Duplicates++
			}
		}
		o.stats.Companies += int64(len(stored))
		o.log.Debug("ingest: companies page", slog.Int("results", len(stored)), slog.Int("bytes", size))
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest: companies: %w", err)
	}
	return nil
}

// children writes every page of obj, mapped with t, to path and returns the
// number of rows written.
func (o *Orchestrator) children(ctx context.Context, obj hubspot.Object, t fieldmap.Table, path string) (_ int64, err error) {
	w, err := rowfile.Create(path, t.Labels())
	if err != nil {
		return 0, fmt.Errorf("ingest: %s: %w", obj, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("ingest: %s: %w", obj, cerr)
		}
	}()

	err = o.cfg.Pager.Walk(ctx, obj, func(p *hubspot.Page, size int) error {
		o.page(obj, size)
		rows := make([]*fieldmap.Row, len(p.Results))
		for i, r := range p.Results {
			rows[i] = fieldmap.Apply(t, Source(r))
		}
		return w.WriteBatch(rows)
	})
	if err != nil {
		return w.Rows(), fmt.Errorf("ingest: %s: %w", obj, err)
	}
	return w.Rows(), nil
}

// Source returns the mapping source of a contact or deal: its properties
// plus the company associations under mapping.AssociationsField.
func Source(r hubspot.Result) fieldmap.Source {
	src := make(fieldmap.Source, len(r.Properties)+1)
	for k, v := range r.Properties {
		src[k] = v
	}
	src[mapping.AssociationsField] = r.CompanyAssociations()
	return src
}
