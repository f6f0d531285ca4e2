// Package join merges mapped child records with their companies and
// partitions the result into a valid CSV and an error CSV.
//
// An Engine runs once per output pair. It moves through three states:
//
//	Open       both writers created, headers written
//	Streaming  consuming batches from the row source
//	Closed     writers flushed; the error file is removed if it got no rows
//
// Each child row is classified by the first problem found, in fixed order:
// a missing required child field, a missing required company field, then a
// duplicate company. Rows with a problem go to the error file with the
// diagnostic in a leading "Error" column.
package join

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hs2sf/internal/fieldmap"
	"hs2sf/internal/mapping"
	"hs2sf/internal/storage"
)

// Mode selects how company attributes reach the output row.
type Mode int

const (
	// ContactMerge merges all company attributes under the child row.
	ContactMerge Mode = iota
	// DealLink copies only the company name into NextStep.
	DealLink
)

func (m Mode) String() string {
	switch m {
	case ContactMerge:
		return "contact-merge"
	case DealLink:
		return "deal-link"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

const (
	// ErrorColumn is the leading column of an error file.
	ErrorColumn = "Error"
	// NextStep carries the linked account name of an opportunity. The
	// Salesforce import flow uses it to look up the account.
	NextStep = "Next Step"
	// DuplicateCompany is the diagnostic for rows whose company shares its
	// name with an earlier company.
	DuplicateCompany = "Duplicate company name (" + mapping.AccountName + ")"
)

// MissingValue formats the diagnostic for a required field without a value.
// path is the HubSpot API path of the entity the field belongs to.
func MissingValue(path string, m fieldmap.Missing) string {
	return fmt.Sprintf("Missing value %s %s (%s)", path, m.Source, m.Label)
}

var (
	// ErrNoOutput is returned by New when an output path is empty.
	ErrNoOutput = errors.New("join: output path required")
	// ErrClosed is returned by Run on an engine that already ran.
	ErrClosed = errors.New("join: engine already closed")
)

// RowSource yields mapped child rows in batches. NumRows must be known
// before iteration starts.
type RowSource interface {
	NumRows() int64
	Each(ctx context.Context, fn func(rows []*fieldmap.Row) error) error
}

// Companies resolves a company by id.
type Companies interface {
	Get(ctx context.Context, id string) (storage.Company, error)
}

// Config describes one output pair.
type Config struct {
	Mode Mode

	// Child is the table the child rows were mapped with; ChildPath is the
	// API path named in its diagnostics.
	Child     fieldmap.Table
	ChildPath string

	// Accounts is the company table; AccountsPath is the API path named in
	// company diagnostics.
	Accounts     fieldmap.Table
	AccountsPath string

	ValidPath string
	ErrorPath string

	// Presence decides whether a required value is set. nil means
	// fieldmap.Truthy.
	Presence fieldmap.Presence

	// Progress is called after each batch with the processed fraction.
	Progress func(done float64)

	Logger *slog.Logger
}

// Stats counts the rows of one run.
type Stats struct {
	Total int64
	Valid int64
	Error int64
}

// State is the lifecycle state of an Engine.
type State int

const (
	StateNew State = iota
	StateOpen
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Engine joins one child source against the company store.
type Engine struct {
	cfg       Config
	companies Companies
	header    []string
	state     State
	log       *slog.Logger
}

// New validates cfg and returns an engine ready to Run.
func New(cfg Config, companies Companies) (*Engine, error) {
	if cfg.ValidPath == "" || cfg.ErrorPath == "" {
		return nil, ErrNoOutput
	}
	if companies == nil {
		return nil, errors.New("join: nil company store")
	}
	if cfg.Presence == nil {
		cfg.Presence = fieldmap.Truthy
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:       cfg,
		companies: companies,
		header:    Header(cfg.Mode, cfg.Accounts, cfg.Child),
		log:       log.With(slog.String("mode", cfg.Mode.String())),
	}, nil
}

// Header returns the valid-file columns for mode.
func Header(mode Mode, accounts, child fieldmap.Table) []string {
	switch mode {
	case DealLink:
		return append(child.LabelsWithout(mapping.CompanyID), NextStep)
	default:
		return append(accounts.Labels(), child.LabelsWithout(mapping.CompanyID)...)
	}
}

// Header returns the valid-file columns of e.
func (e *Engine) Header() []string { return e.header }

// State reports the lifecycle state.
func (e *Engine) State() State { return e.state }

// Run streams src through the engine. An unknown company id aborts the run;
// outputs written so far are flushed but incomplete.
func (e *Engine) Run(ctx context.Context, src RowSource) (stats Stats, err error) {
	if e.state != StateNew {
		return Stats{}, ErrClosed
	}

	out, err := openPair(e.cfg.ValidPath, e.cfg.ErrorPath, e.header)
	if err != nil {
		e.state = StateClosed
		return Stats{}, err
	}
	e.state = StateOpen
	defer func() {
		e.state = StateClosed
		if cerr := out.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	total := src.NumRows()
	e.log.Debug("join: start", slog.Int64("rows", total), slog.String("valid", e.cfg.ValidPath))

	e.state = StateStreaming
	reported := false
	err = src.Each(ctx, func(rows []*fieldmap.Row) error {
		for _, r := range rows {
			diag, merged, err := e.classify(ctx, r)
			if err != nil {
				return err
			}
			stats.Total++
			if diag != "" {
				stats.Error++
				if err := out.writeError(diag, merged); err != nil {
					return err
				}
				continue
			}
			stats.Valid++
			if err := out.writeValid(merged); err != nil {
				return err
			}
		}
		e.report(stats.Total, total)
		reported = true
		return nil
	})
	if err != nil {
		return stats, err
	}
	// A source without batches still finishes at 100%.
	if !reported {
		e.report(stats.Total, total)
	}

	e.log.Info("join: done",
		slog.Int64("total", stats.Total),
		slog.Int64("valid", stats.Valid),
		slog.Int64("error", stats.Error))
	return stats, nil
}

func (e *Engine) report(done, total int64) {
	if e.cfg.Progress == nil {
		return
	}
	if total <= 0 {
		e.cfg.Progress(1)
		return
	}
	e.cfg.Progress(float64(done) / float64(total))
}

// classify resolves the company of r, builds the output row and returns the
// diagnostic of its first problem, "" when it is valid.
func (e *Engine) classify(ctx context.Context, r *fieldmap.Row) (string, *fieldmap.Row, error) {
	var diag string
	if m, ok := fieldmap.FirstMissing(e.cfg.Child, r, e.cfg.Presence); ok {
		diag = MissingValue(e.cfg.ChildPath, m)
	}

	row := r.Clone()
	id := row.Pop(mapping.CompanyID)
	if !id.Truthy() {
		if e.cfg.Mode == DealLink {
			row.Set(NextStep, fieldmap.Null)
		}
		return diag, row, nil
	}

	company, err := e.companies.Get(ctx, id.String)
	if err != nil {
		return "", nil, fmt.Errorf("join: company %q: %w", id.String, err)
	}

	switch e.cfg.Mode {
	case DealLink:
		row.Set(NextStep, company.Attrs.Value(mapping.AccountName))
	default:
		row = row.Under(company.Attrs)
	}

	if diag == "" {
		if m, ok := fieldmap.FirstMissing(e.cfg.Accounts, company.Attrs, e.cfg.Presence); ok {
			diag = MissingValue(e.cfg.AccountsPath, m)
		} else if company.Duplicate {
			diag = DuplicateCompany
		}
	}
	return diag, row, nil
}
