package transactions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// SchemaError reports a completion whose payload is not a JSON list of records.
type SchemaError struct {
	Raw string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("extraction schema error: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Rejection records why one candidate record was dropped.
type Rejection struct {
	Index  int
	Reason string
}

// ParseResult is the outcome of reading one completion: either the records it
// carried (possibly none) or a schema error with the raw text. Candidates that
// fail validation are listed in Rejected and do not affect the others.
type ParseResult struct {
	Records   []domain.TransactionRecord
	Rejected  []Rejection
	SchemaErr *SchemaError
}

// Ok reports whether the response was a decodable list.
func (r ParseResult) Ok() bool {
	return r.SchemaErr == nil
}

// ParseResponse locates the JSON list inside a completion and validates each
// candidate record.
func ParseResponse(raw string) ParseResult {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return ParseResult{SchemaErr: &SchemaError{Raw: raw, Err: errors.New("empty response")}}
	}

	items, err := locateList(clean)
	if err != nil {
		return ParseResult{SchemaErr: &SchemaError{Raw: raw, Err: err}}
	}

	result := ParseResult{Records: make([]domain.TransactionRecord, 0, len(items))}
	for i, item := range items {
		rec, err := validateCandidate(item)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Index: i, Reason: err.Error()})
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result
}

// candidateList accepts a top-level array, or an object wrapping one array
// under "transactions".
func candidateList(parsed interface{}) ([]interface{}, error) {
	switch v := parsed.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		if inner, ok := v["transactions"].([]interface{}); ok {
			return inner, nil
		}
		return nil, errors.New("top-level object has no 'transactions' list")
	default:
		return nil, fmt.Errorf("top-level value is %T, want a list", parsed)
	}
}

// locateList finds the record list in s. A reply that is one JSON value is
// taken as is. Otherwise every '[' or '{' is tried in order and the first value
// that carries at least one object wins, so bracketed prose such as "[2]" or
// "see note [1]" is skipped. An empty list is used only when nothing better
// is found.
func locateList(s string) ([]interface{}, error) {
	if v, err := decodeWhole(s); err == nil {
		return candidateList(v)
	}

	var empty []interface{}
	for i := 0; i < len(s); i++ {
		if s[i] != '[' && s[i] != '{' {
			continue
		}
		v, err := decodeFirst(s[i:])
		if err != nil {
			continue
		}
		items, err := candidateList(v)
		if err != nil {
			continue
		}
		if hasObject(items) {
			return items, nil
		}
		if len(items) == 0 && empty == nil {
			empty = items
		}
	}
	if empty != nil {
		return empty, nil
	}
	return nil, errors.New("no JSON list of transaction objects in response")
}

// decodeWhole decodes s and fails if anything but whitespace follows the value.
func decodeWhole(s string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected content after JSON value at offset %d", dec.InputOffset())
	}
	return v, nil
}

// decodeFirst decodes the JSON value at the start of s, ignoring what follows.
func decodeFirst(s string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func hasObject(items []interface{}) bool {
	for _, item := range items {
		if _, ok := item.(map[string]interface{}); ok {
			return true
		}
	}
	return false
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers anywhere in the reply.
	if start := strings.Index(s, "```"); start != -1 {
		body := s[start+3:]
		// Drop the rest of the opening fence line (``` or ```json).
		if idx := strings.Index(body, "\n"); idx != -1 {
			body = body[idx+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			body = body[:end]
		}
		s = strings.TrimSpace(body)
	}

	return s
}
