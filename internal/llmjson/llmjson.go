// Package llmjson decodes the JSON objects that LLMs return in JSON mode.
//
// Models asked for JSON still sometimes wrap it in markdown fences, prefix
// it with a sentence, or emit trailing commas and unquoted keys. Decode
// strips the wrapping, tries a strict decode, and on a syntax error retries
// once after running the text through jsonrepair.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoObject is returned when the text contains no JSON object at all.
var ErrNoObject = errors.New("llmjson: no JSON object in response")

// Decode extracts the outermost JSON object from raw and unmarshals it into v.
func Decode(raw string, v any) error {
	obj, err := Extract(raw)
	if err != nil {
		return err
	}
	err = json.Unmarshal([]byte(obj), v)
	if err == nil {
		return nil
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		return fmt.Errorf("llmjson: %w", err)
	}
	fixed, rerr := jsonrepair.JSONRepair(obj)
	if rerr != nil {
		return fmt.Errorf("llmjson: repair: %w (original error: %w)", rerr, err)
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return fmt.Errorf("llmjson: decode repaired object: %w", err)
	}
	return nil
}

// Extract returns the text from the first '{' to the last '}' after removing
// a surrounding markdown code fence.
func Extract(raw string) (string, error) {
	s := stripFence(strings.TrimSpace(raw))
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoObject
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		// Truncated output; let the repair step try to close it.
		return s[start:], nil
	}
	return s[start : end+1], nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "```"); i >= 0 {
			// Prose before the fence.
			s = s[i:]
		} else {
			return s
		}
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string ("json", "JSON", ...).
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
