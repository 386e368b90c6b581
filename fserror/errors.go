// Package fserror defines the error types surfaced by the feature store
// engine. Callers distinguish them with errors.As / errors.Is.
package fserror

import (
	"fmt"
	"strings"
)

// ValidationError reports a bad declaration: a dangling reference, a field
// name collision or a schema problem. It is raised at registry load or plan
// time and is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// CycleError reports a cyclic on-demand dependency graph. The registry
// refuses to load with one.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return "cycle detected among on demand feature views: " + strings.Join(e.Nodes, ", ")
}

// MissingInputError reports a required request-time input that the caller
// did not supply.
type MissingInputError struct {
	Field string
	View  string
}

func (e *MissingInputError) Error() string {
	if e.View != "" {
		return fmt.Sprintf("missing required input %q for view %q", e.Field, e.View)
	}
	return fmt.Sprintf("missing required input %q", e.Field)
}

// SchemaViolationError reports a transformation output that does not match
// its declared schema. It is a defect in the transformation, never coerced
// away.
type SchemaViolationError struct {
	View   string
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation in view %q, field %q: %s", e.View, e.Field, e.Reason)
}

// TimeoutError reports that a single base view fetch exceeded its deadline.
// Sibling fetches are unaffected.
type TimeoutError struct {
	View string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch timeout for view %q", e.View)
}

// CancelledError reports that the serving request's context was cancelled
// before the response could be assembled.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return "request cancelled: " + e.Cause.Error()
	}
	return "request cancelled"
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}
