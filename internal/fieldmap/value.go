package fieldmap

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a nullable text cell. Every column produced by a Table is text;
// HubSpot properties arrive as JSON strings or null.
type Value struct {
	String string
	Valid  bool
}

// Null is the absent value.
var Null = Value{}

// Text returns a valid Value holding s.
func Text(s string) Value { return Value{String: s, Valid: true} }

// Truthy reports whether v counts as present for required checks: not null
// and not empty. The string "0" is present.
func (v Value) Truthy() bool { return v.Valid && v.String != "" }

// OrEmpty returns the text of v, or "" when v is null.
func (v Value) OrEmpty() string {
	if !v.Valid {
		return ""
	}
	return v.String
}

// Ptr returns a pointer to the text or nil when v is null.
func (v Value) Ptr() *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// MarshalJSON encodes null values as JSON null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.String)
}

// UnmarshalJSON accepts null, strings and any other scalar, which is kept in
// its literal JSON text form.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Null
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("fieldmap: decode value: %w", err)
		}
		*v = Text(s)
		return nil
	}
	*v = Text(string(b))
	return nil
}

// ValueOf converts a decoded JSON value into a Value. nil maps to Null,
// strings are kept verbatim, other scalars are formatted as text and
// composite values are re-encoded as JSON.
func ValueOf(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case Value:
		return t
	case string:
		return Text(t)
	case json.Number:
		return Text(t.String())
	case float64:
		return Text(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		return Text(strconv.FormatBool(t))
	case int:
		return Text(strconv.Itoa(t))
	case int64:
		return Text(strconv.FormatInt(t, 10))
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return Text(fmt.Sprint(t))
		}
		return Text(string(b))
	}
}
