package fieldmap

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is an ordered attribute map keyed by target label. Iteration order is
// insertion order; setting an existing label keeps its position.
//
// The zero value is ready to use.
type Row struct {
	labels []string
	values map[string]Value
}

// NewRow returns an empty Row with room for n labels.
func NewRow(n int) *Row {
	return &Row{labels: make([]string, 0, n), values: make(map[string]Value, n)}
}

// Set stores v under label.
func (r *Row) Set(label string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[label]; !ok {
		r.labels = append(r.labels, label)
	}
	r.values[label] = v
}

// Get returns the value stored under label and whether the label exists.
func (r *Row) Get(label string) (Value, bool) {
	if r == nil {
		return Null, false
	}
	v, ok := r.values[label]
	return v, ok
}

// Value returns the value stored under label, or Null.
func (r *Row) Value(label string) Value {
	v, _ := r.Get(label)
	return v
}

// Pop removes label from the row and returns its value.
func (r *Row) Pop(label string) Value {
	v, ok := r.values[label]
	if !ok {
		return Null
	}
	delete(r.values, label)
	for i, l := range r.labels {
		if l == label {
			r.labels = append(r.labels[:i], r.labels[i+1:]...)
			break
		}
	}
	return v
}

// Labels returns the labels in order. The slice must not be modified.
func (r *Row) Labels() []string {
	if r == nil {
		return nil
	}
	return r.labels
}

// Len returns the number of labels.
func (r *Row) Len() int {
	if r == nil {
		return 0
	}
	return len(r.labels)
}

// Clone returns a deep copy of r.
func (r *Row) Clone() *Row {
	out := NewRow(r.Len())
	for _, l := range r.Labels() {
		out.Set(l, r.values[l])
	}
	return out
}

// Under returns a new row holding base's labels followed by r's new labels.
// On a collision r's value wins.
func (r *Row) Under(base *Row) *Row {
	out := NewRow(base.Len() + r.Len())
	for _, l := range base.Labels() {
		out.Set(l, base.values[l])
	}
	for _, l := range r.Labels() {
		out.Set(l, r.values[l])
	}
	return out
}

// MarshalJSON encodes the row as a JSON object preserving label order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range r.Labels() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := r.values[l].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the key order of the input.
func (r *Row) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("fieldmap: decode row: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fieldmap: decode row: expected object, got %v", tok)
	}

	*r = Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("fieldmap: decode row: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fieldmap: decode row: unexpected key %v", tok)
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("fieldmap: decode row: key %q: %w", key, err)
		}
		r.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("fieldmap: decode row: %w", err)
	}
	return nil
}
