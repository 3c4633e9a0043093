// Package records defines the breach-record data model shared by record
// sources, the column projector and the CSV sink.
package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PageSize is the number of records requested per remote page.
const PageSize = 500

// Record is one breach-exposure entry. The field set is open-ended and
// defined by the service; a missing key means the field is absent.
type Record map[string]string

// Get returns the value for field, or "" when it is absent.
func (r Record) Get(field string) string {
	return r[field]
}

// Page is one batch of records in service order.
type Page struct {
	Number  int
	Records []Record
}

// Count returns the number of records on the page.
func (p Page) Count() int {
	return len(p.Records)
}

// Empty reports whether the page is the pagination terminal signal.
func (p Page) Empty() bool {
	return len(p.Records) == 0
}

// OutcomeKind drives the per-page retry state machine.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	RetryableFailure
	FatalFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case FatalFailure:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one fetch attempt.
type Outcome struct {
	Kind OutcomeKind
	Page Page
	// Err carries the failure reason for non-success outcomes.
	Err error
}

// Succeeded wraps a page in a Success outcome.
func Succeeded(page Page) Outcome {
	return Outcome{Kind: Success, Page: page}
}

// Retryable builds a RetryableFailure outcome.
func Retryable(err error) Outcome {
	return Outcome{Kind: RetryableFailure, Err: err}
}

// Fatal builds a FatalFailure outcome.
func Fatal(err error) Outcome {
	return Outcome{Kind: FatalFailure, Err: err}
}

// Unmarshal decodes a JSON document into v, keeping numbers as json.Number
// so identifiers beyond float64 precision reach the CSV unchanged.
func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON document")
	}
	return nil
}

// FromEntries converts decoded JSON entries into records. Null values are
// dropped, scalars are formatted and arrays are joined with ";".
func FromEntries(entries []map[string]any) []Record {
	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		rec := make(Record, len(entry))
		for key, raw := range entry {
			if value, ok := stringify(raw); ok {
				rec[key] = value
			}
		}
		out = append(out, rec)
	}
	return out
}

func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := stringify(item); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ";"), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}
