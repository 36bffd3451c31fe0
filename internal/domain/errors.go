package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput       = errors.New("no input provided")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrNotFound         = errors.New("record not found")
	ErrInvalidName      = errors.New("invalid report name")
	ErrInvalidRuleInput = errors.New("invalid reason rule")
)

// SchemaValidationError reports a required semantic column that could not
// be identified in the input table. It aborts ingestion before any graph
// is built.
type SchemaValidationError struct {
	Column string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("Missing column: %s", e.Column)
}

// IsSchemaError reports whether err is (or wraps) a SchemaValidationError.
func IsSchemaError(err error) bool {
	var se *SchemaValidationError
	return errors.As(err, &se)
}
