package fieldmap

import (
	"strings"
	"time"

	"hs2sf/internal/address"
)

// Context carries values derived by earlier mappings of the same record,
// such as the city split off an address. A fresh Context is used for every
// record.
type Context map[string]Value

// Transform converts one source value into a target value. It receives the
// context accumulated so far and returns an optional patch that is merged
// before the next mapping runs. Implementations must not modify ctx.
type Transform interface {
	Apply(in any, ctx Context) (Value, Context)
}

// ContextReader is implemented by transforms that read context keys.
type ContextReader interface {
	ReadsContext() []string
}

// ContextWriter is implemented by transforms that write context keys.
type ContextWriter interface {
	WritesContext() []string
}

// Prefix prepends a fixed string to a non-null value.
type Prefix struct {
	With string
}

func (p Prefix) Apply(in any, _ Context) (Value, Context) {
	v := ValueOf(in)
	if !v.Valid {
		return Null, nil
	}
	return Text(p.With + v.String), nil
}

// Lookup maps a source code onto a label. Unknown codes map to null.
type Lookup struct {
	Table map[string]string
}

func (l Lookup) Apply(in any, _ Context) (Value, Context) {
	v := ValueOf(in)
	if !v.Valid {
		return Null, nil
	}
	out, ok := l.Table[v.String]
	if !ok {
		return Null, nil
	}
	return Text(out), nil
}

// Default context keys written by AddressSplit.
const (
	CityKey       = "city"
	PostalCodeKey = "zip_code"
)

// AddressSplit parses a free-text address. The street becomes the value; the
// city and postal code are published in the context under CityKey and
// PostalKey (CityKey/PostalCodeKey when empty). An unparsable address yields
// null for all three.
type AddressSplit struct {
	CityKey   string
	PostalKey string
}

func (a AddressSplit) keys() (string, string) {
	city, postal := a.CityKey, a.PostalKey
	if city == "" {
		city = CityKey
	}
	if postal == "" {
		postal = PostalCodeKey
	}
	return city, postal
}

func (a AddressSplit) Apply(in any, _ Context) (Value, Context) {
	cityKey, postalKey := a.keys()
	v := ValueOf(in)
	parts, ok := address.Parse(v.OrEmpty())
	if !ok {
		return Null, Context{cityKey: Null, postalKey: Null}
	}
	return Text(parts.Street), Context{
		cityKey:   Text(parts.City),
		postalKey: Text(parts.PostalCode),
	}
}

func (a AddressSplit) WritesContext() []string {
	city, postal := a.keys()
	return []string{city, postal}
}

// ContextValue ignores its input and returns a context value written by an
// earlier mapping.
type ContextValue struct {
	Key string
}

func (c ContextValue) Apply(_ any, ctx Context) (Value, Context) {
	return ctx[c.Key], nil
}

func (c ContextValue) ReadsContext() []string { return []string{c.Key} }

// FirstAssociationID extracts the id of the first entry of a HubSpot
// associations result list, e.g. [{"id":"42","type":"contact_to_company"}].
// Further associations are ignored.
type FirstAssociationID struct{}

func (FirstAssociationID) Apply(in any, _ Context) (Value, Context) {
	list, ok := in.([]any)
	if !ok || len(list) == 0 {
		return Null, nil
	}
	obj, ok := list[0].(map[string]any)
	if !ok {
		return Null, nil
	}
	return ValueOf(obj["id"]), nil
}

// DateTimeLayout is the timestamp layout expected by the Salesforce import
// wizard.
const DateTimeLayout = "2006-01-02 15:04:05"

// DateNormalize rewrites ISO-8601 timestamps ("2020-01-01T12:00:00Z") into
// DateTimeLayout form by replacing T with a space and dropping Z. An empty
// value becomes today's local midnight.
type DateNormalize struct {
	// Now returns the current time; time.Now when nil.
	Now func() time.Time
}

func (d DateNormalize) Apply(in any, _ Context) (Value, Context) {
	v := ValueOf(in)
	if v.Truthy() {
		s := strings.ReplaceAll(v.String, "T", " ")
		return Text(strings.ReplaceAll(s, "Z", "")), nil
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	t := now()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return Text(midnight.Format(DateTimeLayout)), nil
}
