package qcheck

import (
	"context"
	"sort"
	"time"
)

// RoundingMode controls how compute_gds prorates a partial score.
type RoundingMode int

const (
	RoundHalfUp RoundingMode = iota
	RoundHalfEven
)

// Evaluator is the core rule-dispatch engine. One instance is
// bound to a schema, a primary-key field name, and a datastore; it is not
// safe for concurrent use by multiple goroutines — callers
// validating distinct records concurrently need one Evaluator per
// goroutine (schema and datastore may be shared if the datastore
// implementation is itself thread-safe).
type Evaluator struct {
	schema       *Schema
	primaryKey   string
	datastore    Datastore
	now          func() time.Time
	roundingMode RoundingMode

	// scoreTable accumulates score_variables side totals,
	// keyed by the name each rule invocation declares. Shared with every
	// sub-evaluator spawned via sub() so a total written inside a nested
	// compatibility/temporalrules subschema is still visible to the
	// driver after the outer Evaluate call returns.
	scoreTable map[string]Value
}

// NewEvaluator builds an Evaluator for schema, bound to primaryKey and an
// optional datastore (nil is valid when no rule in schema needs one; a
// rule that does will raise a system error at evaluation time).
func NewEvaluator(schema *Schema, primaryKey string, datastore Datastore) *Evaluator {
	return &Evaluator{
		schema:       schema,
		primaryKey:   primaryKey,
		datastore:    datastore,
		now:          time.Now,
		roundingMode: RoundHalfUp,
	}
}

// WithClock overrides the evaluator's notion of "now", for the
// current_year/current_month/current_day/current_date literals used by
// min/max and compare_with.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// WithRoundingMode overrides compute_gds's proration rounding.
func (e *Evaluator) WithRoundingMode(m RoundingMode) *Evaluator {
	e.roundingMode = m
	return e
}

// sub constructs a fresh Evaluator instance sharing schema, datastore,
// primary-key field, clock and rounding mode — used by every recursive
// invocation (compatibility, temporalrules): the only mutable
// state shared between outer and inner evaluators is the scoreTable map.
func (e *Evaluator) sub() *Evaluator {
	if e.scoreTable == nil {
		e.scoreTable = make(map[string]Value)
	}
	return &Evaluator{
		schema:       e.schema,
		primaryKey:   e.primaryKey,
		datastore:    e.datastore,
		now:          e.now,
		roundingMode: e.roundingMode,
		scoreTable:   e.scoreTable,
	}
}

// Evaluate walks every (field, field-schema) pair of the bound schema
// against record, dispatching each declared rule in fixed order and
// collecting a structured ErrorTree. record should be the record as
// originally supplied (not pre-cast) so that "required" can distinguish
// a genuinely absent field from one explicitly set to null.
//
// A non-nil returned error is a system fault: malformed schema
// detected at runtime, datastore failure, division by zero, or an
// unknown operator. The caller (Driver) converts it to system_failure
// and does not report partial field errors for that record.
func (e *Evaluator) Evaluate(ctx context.Context, record Record) (ErrorTree, error) {
	tree := make(ErrorTree)

	for _, fs := range e.schema.Fields {
		errs, err := e.evaluateField(ctx, fs, record)
		if err != nil {
			return nil, err
		}
		if len(errs) > 0 {
			tree[fs.Name] = errs
		}
	}

	return tree, nil
}

// evaluateField dispatches every rule declared on one field, in fixed
// order, short-circuiting only the null-intolerant rules when the value
// is null and the field is nullable.
func (e *Evaluator) evaluateField(ctx context.Context, fs *FieldSchema, record Record) ([]FieldError, error) {
	value := record.Get(fs.Name)
	nullable := fs.Nullable()
	isNullSkip := value.IsNull() && nullable

	var out []FieldError

	for _, ruleName := range fs.OrderedRules() {
		if ruleName == "required" || ruleName == "nullable" {
			// handled specially below, not dispatched as a normal rule
			continue
		}
		if isNullSkip && !nullTolerantRules[ruleName] {
			continue
		}

		arg := fs.Rules[ruleName]
		fail, err := e.dispatch(ctx, ruleName, arg, fs, value, record)
		if err != nil {
			return nil, err
		}
		if fail != nil {
			out = append(out, *fail)
		}
	}

	// required / nullable are evaluated against raw presence, ahead of
	// (conceptually) everything else, but added here, at the front of the
	// list, so the field's other errors aren't suppressed by a single
	// missing/null check.
	if !record.Has(fs.Name) {
		if fs.Required() {
			out = append([]FieldError{{
				Field:   fs.Name,
				Rule:    "required",
				Kind:    ErrMissingRequired,
				Message: "required field",
			}}, out...)
		}
	} else if value.IsNull() && !nullable {
		out = append([]FieldError{{
			Field:   fs.Name,
			Rule:    "nullable",
			Kind:    ErrNullNotAllowed,
			Value:   nil,
			Message: "null value not allowed",
		}}, out...)
	}

	return out, nil
}

// dispatch routes a single rule to its handler. Returning (nil, nil)
// means the rule passed.
func (e *Evaluator) dispatch(ctx context.Context, rule string, arg any, fs *FieldSchema, value Value, record Record) (*FieldError, error) {
	switch rule {
	case "type":
		return e.ruleType(fs, arg, value), nil
	case "allowed":
		return e.ruleAllowed(fs, arg, value), nil
	case "forbidden":
		return e.ruleForbidden(fs, arg, value), nil
	case "min":
		return e.ruleMin(fs, arg, value), nil
	case "max":
		return e.ruleMax(fs, arg, value), nil
	case "regex":
		return e.ruleRegex(fs, arg, value), nil
	case "anyof":
		return e.ruleAnyOf(ctx, fs, arg, record)
	case "filled":
		return e.ruleFilled(fs, arg, value), nil

	case "compare_with":
		return e.ruleCompareWith(ctx, fs, arg, value, record)
	case "compare_age":
		return e.ruleCompareAge(fs, arg, value, record), nil
	case "compatibility":
		return e.ruleCompatibility(ctx, fs, arg, record)
	case "logic":
		return e.ruleLogic(fs, arg, record), nil
	case "temporalrules":
		return e.ruleTemporalRules(ctx, fs, arg, record)
	case "compute_gds":
		return e.ruleComputeGDS(fs, arg, value, record), nil
	case "rxnorm":
		return e.ruleRxnorm(ctx, fs, value)
	case "_check_adcid":
		return e.ruleCheckADCID(ctx, fs, value)
	case "function", "score_variables":
		return e.ruleFunction(fs, rule, arg, record), nil

	default:
		return nil, systemError("unrecognized rule %q on field %q", rule, fs.Name)
	}
}

// runSubschema evaluates an ad-hoc subschema (a field→rule-mapping, as
// used by compatibility's if/then/else and temporalrules' previous/
// current clauses) against record with a fresh Evaluator instance, and
// combines per-field pass/fail with the given combinator ("and"/"or",
// default "and"). It returns whether the subschema is satisfied and the
// inner errors (for messages summarizing the failure).
func (e *Evaluator) runSubschema(ctx context.Context, subschema map[string]any, record Record, op string) (bool, ErrorTree, error) {
	fields := make([]string, 0, len(subschema))
	for name := range subschema {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	ordered := make([]OrderedField, 0, len(fields))
	for _, name := range fields {
		ordered = append(ordered, OrderedField{Name: name, Value: subschema[name]})
	}

	sub, err := BuildSchema(ordered, "")
	if err != nil {
		return false, nil, err
	}

	inner := e.sub()
	inner.schema = sub

	tree, err := inner.Evaluate(ctx, record)
	if err != nil {
		return false, nil, err
	}

	switch op {
	case "or":
		if len(fields) == 0 {
			return true, tree, nil
		}
		for _, name := range fields {
			if _, failed := tree[name]; !failed {
				return true, tree, nil
			}
		}
		return false, tree, nil
	default: // "and"
		return len(tree) == 0, tree, nil
	}
}

func defaultOp(op string) string {
	if op == "" {
		return "and"
	}
	return op
}

// summarizeInner renders a nested ErrorTree into one outer-field message,
// following the same captured-and-summarized-into-one-error policy used
// for compatibility and temporalrules failures.
func summarizeInner(tree ErrorTree) string {
	flat := tree.Flat()
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ""
	for i, name := range names {
		if i > 0 {
			out += "; "
		}
		out += name + ": "
		for j, msg := range flat[name] {
			if j > 0 {
				out += ", "
			}
			out += msg
		}
	}
	return out
}
