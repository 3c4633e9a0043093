// Package schemas provides JSON Schema validation for search payloads and
// fixture files.
package schemas

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	shipped "github.com/jonathan/breachcase/schemas"
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

var (
	searchOnce   sync.Once
	searchSchema *gojsonschema.Schema
	searchErr    error
)

func loadSearchSchema() (*gojsonschema.Schema, error) {
	searchOnce.Do(func() {
		data, err := shipped.FS.ReadFile(shipped.SearchResponse)
		if err != nil {
			searchErr = &SchemaLoadError{Path: shipped.SearchResponse, Message: "schema not embedded", Cause: err}
			return
		}
		searchSchema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			searchErr = &SchemaLoadError{Path: shipped.SearchResponse, Message: "invalid schema", Cause: err}
		}
	})
	return searchSchema, searchErr
}

// ValidateSearchPayload checks that data has the search response shape:
// an object with an "entries" array of flat records.
func ValidateSearchPayload(data []byte) error {
	schema, err := loadSearchSchema()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return toValidationError(result)
}

func toValidationError(result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}

	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}

	return validationErr
}
