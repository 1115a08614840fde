package qcheck

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a validation failure: type mismatches, missing or
// null-when-forbidden fields, value/range constraint violations,
// cross-field and temporal rule failures, and runtime warnings raised by
// the logic interpreter.
type ErrorKind string

const (
	ErrTypeMismatch        ErrorKind = "type_mismatch"
	ErrMissingRequired     ErrorKind = "missing_required"
	ErrNullNotAllowed      ErrorKind = "null_not_allowed"
	ErrConstraintViolation ErrorKind = "constraint_violation"
	ErrCrossField          ErrorKind = "cross_field"
	ErrTemporal            ErrorKind = "temporal"
	ErrRuntimeWarning      ErrorKind = "runtime_warning"
)

// FieldError is one leaf in the error tree: a single rule violation on a
// single field.
type FieldError struct {
	Field      string    `json:"field"`
	Rule       string    `json:"rule"`
	Kind       ErrorKind `json:"kind"`
	Constraint any       `json:"constraint,omitempty"`
	Value      any       `json:"value,omitempty"`
	Message    string    `json:"message"`
	RuleIndex  *int      `json:"rule_index,omitempty"`

	// Children carries nested sub-validator errors (compatibility,
	// temporalrules, anyof) attached to the outer field, preserving the
	// schema path under nested subschema recursion.
	Children []FieldError `json:"children,omitempty"`
}

// ErrorTree is the field-keyed root of the error tree returned by
// ValidateRecord: each field maps to the ordered list of rule failures
// produced for it — a required/nullable failure first, then the rest in
// rule dispatch order.
type ErrorTree map[string][]FieldError

// Flat renders the tree down to `errors: mapping<field,
// list<string>>` shape.
func (t ErrorTree) Flat() map[string][]string {
	out := make(map[string][]string, len(t))
	for field, errs := range t {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Message)
		}
		out[field] = msgs
	}
	return out
}

// systemError builds an internal fault (malformed rule argument or
// unknown rule detected at runtime, missing datastore, division by zero,
// unknown operator) with stack context via github.com/pkg/errors;
// wrapSystemError does the same for an error returned by the datastore.
func systemError(format string, args ...any) error {
	return errors.New(fmt.Sprintf(format, args...))
}

func wrapSystemError(err error, msg string) error {
	return errors.Wrap(err, msg)
}
