package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/menta2k/canvas-calc/pkg/types"
)

var validate = validator.New()

// wireRecord is the shape a reply element must have. Pointers tell "absent" from "zero".
type wireRecord struct {
	Expr   *string      `json:"expr" validate:"required"`
	Result *types.Value `json:"result" validate:"required"`
	Assign *bool        `json:"assign"`
}

// ParseRecords decodes a model reply into records.
//
// The reply must be exactly one JSON array of objects. Each object needs a string "expr"
// and a string or number "result"; "assign" is optional and defaults to false. Anything
// else, including markdown fences or prose around the array, is rejected.
func ParseRecords(raw string) ([]types.Record, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty reply")
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("reply is not a list: starts with %q", preview(trimmed))
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	var elems []json.RawMessage
	if err := dec.Decode(&elems); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected content after the list")
	}

	records := make([]types.Record, 0, len(elems))
	for i, elem := range elems {
		if err := checkKeys(elem); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		w := &wireRecord{}
		if err := json.Unmarshal(elem, w); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if err := validate.Struct(w); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, describe(err))
		}
		rec := types.Record{
			Expr:   *w.Expr,
			Result: *w.Result,
		}
		if w.Assign != nil {
			rec.Assign = *w.Assign
		}
		records = append(records, rec)
	}
	return records, nil
}

var recordKeys = []string{"expr", "result", "assign"}

// checkKeys requires elem to be an object whose record keys are spelled exactly and appear
// once. encoding/json alone would match them case-insensitively and keep the last duplicate.
func checkKeys(elem json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(elem))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("not an object")
	}

	seen := make(map[string]bool, len(recordKeys))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		for _, name := range recordKeys {
			if !strings.EqualFold(key, name) {
				continue
			}
			if key != name {
				return fmt.Errorf("key %q must be spelled %q", key, name)
			}
			if seen[name] {
				return fmt.Errorf("duplicate key %q", name)
			}
			seen[name] = true
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	return nil
}

// describe turns validator output into "missing expr" style messages
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, strings.ToLower(fe.Field()))
	}
	return fmt.Errorf("missing %s", strings.Join(missing, ", "))
}

func preview(s string) string {
	const max = 24
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Compact returns the reply on a single line when it is valid JSON, or trimmed otherwise
func Compact(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(strings.TrimSpace(raw))); err != nil {
		return strings.TrimSpace(raw)
	}
	return buf.String()
}
