// Package fieldmap implements declarative, table-driven record mapping.
//
// A Table is an ordered list of Mappings. Each Mapping names the source field
// to read, the target label to write, an optional Transform and whether the
// target value is required. Applying a table to a source record yields a Row
// holding every label of the table in declaration order, null where no value
// could be produced.
//
// Transforms form a closed set of small value types (Prefix, Lookup,
// AddressSplit, ContextValue, FirstAssociationID, DateNormalize). They may
// publish derived values into a per-record Context which later mappings of
// the same table read. Table.Validate rejects tables in which a mapping reads
// a context key before any earlier mapping writes it.
//
// Required checks use "falsy" semantics by default: null and the empty string
// count as missing. NonNull switches to a null-only check.
package fieldmap

import (
	"errors"
	"fmt"
)

// ErrInvalidTable is returned by Table.Validate.
var ErrInvalidTable = errors.New("fieldmap: invalid table")

// Source is one decoded source record (e.g. HubSpot "properties").
type Source map[string]any

// Mapping maps one source field onto one target label.
type Mapping struct {
	Label     string
	Source    string
	Transform Transform
	Required  bool
}

// Table is an ordered list of mappings. Order defines the output column
// order and the scan order of FirstMissingRequired.
type Table []Mapping

// Labels returns the target labels in declaration order.
func (t Table) Labels() []string {
	out := make([]string, len(t))
	for i, m := range t {
		out[i] = m.Label
	}
	return out
}

// LabelsWithout returns the target labels in order, skipping the given ones.
func (t Table) LabelsWithout(skip ...string) []string {
	out := make([]string, 0, len(t))
next:
	for _, m := range t {
		for _, s := range skip {
			if m.Label == s {
				continue next
			}
		}
		out = append(out, m.Label)
	}
	return out
}

// Validate checks that labels are non-empty and unique and that every
// context key read by a transform is written by an earlier mapping.
func (t Table) Validate() error {
	seen := make(map[string]struct{}, len(t))
	written := map[string]struct{}{}
	for i, m := range t {
		if m.Label == "" {
			return fmt.Errorf("%w: mapping %d has an empty label", ErrInvalidTable, i)
		}
		if _, dup := seen[m.Label]; dup {
			return fmt.Errorf("%w: label %q declared twice", ErrInvalidTable, m.Label)
		}
		seen[m.Label] = struct{}{}

		if r, ok := m.Transform.(ContextReader); ok {
			for _, k := range r.ReadsContext() {
				if _, ok := written[k]; !ok {
					return fmt.Errorf("%w: %q reads context key %q before it is written", ErrInvalidTable, m.Label, k)
				}
			}
		}
		if w, ok := m.Transform.(ContextWriter); ok {
			for _, k := range w.WritesContext() {
				written[k] = struct{}{}
			}
		}
	}
	return nil
}

// Apply maps src through t. Mappings run in order with a context seeded
// empty; each transform's patch is merged before the next mapping runs.
// Without a transform the source value is copied verbatim.
func Apply(t Table, src Source) *Row {
	row := NewRow(len(t))
	ctx := Context{}
	for _, m := range t {
		raw := src[m.Source]
		if m.Transform == nil {
			row.Set(m.Label, ValueOf(raw))
			continue
		}
		v, patch := m.Transform.Apply(raw, ctx)
		for k, pv := range patch {
			ctx[k] = pv
		}
		row.Set(m.Label, v)
	}
	return row
}

// Missing identifies a required mapping without a value.
type Missing struct {
	Source string
	Label  string
}

// Presence decides whether a value satisfies a required mapping.
type Presence func(Value) bool

var (
	// Truthy treats null and "" as missing.
	Truthy Presence = Value.Truthy
	// NonNull treats only null as missing.
	NonNull Presence = func(v Value) bool { return v.Valid }
)

// FirstMissingRequired returns the first required mapping, in declaration
// order, whose value in r is null or empty.
func FirstMissingRequired(t Table, r *Row) (Missing, bool) {
	return FirstMissing(t, r, Truthy)
}

// FirstMissing is FirstMissingRequired with a custom presence check.
func FirstMissing(t Table, r *Row, present Presence) (Missing, bool) {
	if present == nil {
		present = Truthy
	}
	for _, m := range t {
		if !m.Required {
			continue
		}
		if !present(r.Value(m.Label)) {
			return Missing{Source: m.Source, Label: m.Label}, true
		}
	}
	return Missing{}, false
}
