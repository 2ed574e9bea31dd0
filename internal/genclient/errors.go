package genclient

import (
	"fmt"
	"strings"

	"mangaflow/internal/schema"
)

// FailureKind labels why structured generation gave up.
type FailureKind string

const (
	FailTimeout         FailureKind = "timeout"
	FailSchemaViolation FailureKind = "schema_violation"
	FailEmptyResult     FailureKind = "empty_result"
)

// GenerationError is the terminal failure of a structured generation call,
// returned only after every attempt and provider has been exhausted.
type GenerationError struct {
	Kind       FailureKind
	Operation  string
	Attempts   int
	Violations []schema.Violation
	Cause      error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "generation failed (%s) for %s after %d attempt(s)", e.Kind, e.Operation, e.Attempts)
	if len(e.Violations) > 0 {
		b.WriteString(": ")
		b.WriteString(schema.FormatViolations(e.Violations))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error { return e.Cause }
