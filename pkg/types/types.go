package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a text-or-number value, as used by record results and variables
type Value struct {
	text   string
	number float64
	isNum  bool
}

// Text creates a textual Value
func Text(s string) Value {
	return Value{text: s}
}

// Number creates a numeric Value
func Number(f float64) Value {
	return Value{number: f, isNum: true}
}

// IsNumber reports whether the value holds a number
func (v Value) IsNumber() bool {
	return v.isNum
}

// Float returns the numeric value and whether the value is numeric
func (v Value) Float() (float64, bool) {
	return v.number, v.isNum
}

// String renders the value the way it is shown to users
func (v Value) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	}
	return v.text
}

// MarshalJSON encodes the value as a JSON number or string
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return []byte(strconv.FormatFloat(v.number, 'f', -1, 64)), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts a JSON string or number and rejects every other kind
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid number %s: %w", data, err)
		}
		*v = Number(f)
		return nil
	default:
		return fmt.Errorf("value must be a string or a number, got %s", data)
	}
}

// Variables maps variable names to the values the model may substitute
type Variables map[string]Value

// Compact serializes the variables as compact JSON. An empty or nil mapping yields "{}".
func (vs Variables) Compact() string {
	if len(vs) == 0 {
		return "{}"
	}
	// map keys are sorted by encoding/json, so the output is stable
	data, err := json.Marshal(map[string]Value(vs))
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UnmarshalJSON decodes a JSON object of string or number values. A null value means the
// variable is unset and its key is dropped.
func (vs *Variables) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Variables, len(raw))
	for name, value := range raw {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		var v Value
		if err := v.UnmarshalJSON(value); err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		out[name] = v
	}
	*vs = out
	return nil
}

// Clone returns a shallow copy that can be extended without touching the original
func (vs Variables) Clone() Variables {
	out := make(Variables, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// ParseVariables decodes a JSON object of variable names to string or number values
func ParseVariables(data []byte) (Variables, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Variables{}, nil
	}
	var vs Variables
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("failed to parse variables: %w", err)
	}
	if vs == nil {
		vs = Variables{}
	}
	return vs, nil
}

// Record is one decoded unit of the model's answer
type Record struct {
	Expr   string `json:"expr"`
	Result Value  `json:"result"`
	Assign bool   `json:"assign"`
}

// String renders the record for logs and CLI output
func (r Record) String() string {
	if r.Assign {
		return fmt.Sprintf("%s = %s", r.Expr, r.Result)
	}
	return fmt.Sprintf("%s => %s", r.Expr, r.Result)
}
