package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// printJSON writes v as indented JSON, or each result of the --jq filter
// applied to it.
func (d *deps) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if d.query == nil {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return nil
	}

	input, err := toJQInput(v)
	if err != nil {
		return err
	}
	iter := d.query.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := out.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return fmt.Errorf("jq: %w", err)
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
	}
}

// toJQInput converts v to the plain maps and slices gojq operates on,
// using the same field names as the JSON output.
func toJQInput(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return input, nil
}
