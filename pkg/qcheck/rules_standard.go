package qcheck

import (
	"context"
	"fmt"
	"regexp"
)

// resolveClockLiteral resolves the four system-clock literals
// (current_year, current_month, current_day, current_date) min/max and
// compare_with's base may reference, returning ok=false for anything else.
func (e *Evaluator) resolveClockLiteral(s string) (Value, bool) {
	now := e.now()
	switch s {
	case "current_year":
		return NewInt(int64(now.Year())), true
	case "current_month":
		return NewInt(int64(now.Month())), true
	case "current_day":
		return NewInt(int64(now.Day())), true
	case "current_date":
		return NewDate(now), true
	default:
		return Null, false
	}
}

// numericArg resolves a min/max-style argument: either a literal number
// or one of the current_year/current_month/current_day clock literals.
func (e *Evaluator) numericArg(arg any) (Value, bool) {
	if s, ok := arg.(string); ok {
		if v, ok := e.resolveClockLiteral(s); ok {
			return v, true
		}
		return Null, false
	}
	return FromAny(arg), true
}

func fail(fs *FieldSchema, rule string, kind ErrorKind, value Value, msg string, constraint any) *FieldError {
	return &FieldError{
		Field:      fs.Name,
		Rule:       rule,
		Kind:       kind,
		Constraint: constraint,
		Value:      value.ToAny(),
		Message:    msg,
	}
}

var typeKindNames = map[string]ValueKind{
	"integer": KindInt,
	"float":   KindFloat,
	"string":  KindString,
	"bool":    KindBool,
	"date":    KindDate,
	"list":    KindList,
}

// IsValidTypeTag reports whether tag is a recognized "type" rule tag, for
// the lint CLI's rule-argument shape checks.
func IsValidTypeTag(tag string) bool {
	_, ok := typeKindNames[tag]
	return ok
}

// ruleType checks the value's scalar type against one or more permitted
// tags. Float accepts integer values.
func (e *Evaluator) ruleType(fs *FieldSchema, arg any, value Value) *FieldError {
	if value.IsNull() {
		return nil
	}

	var tags []string
	switch a := arg.(type) {
	case string:
		tags = []string{a}
	case []any:
		for _, t := range a {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	default:
		return nil
	}

	for _, tag := range tags {
		want, ok := typeKindNames[tag]
		if !ok {
			continue
		}
		if value.Kind() == want {
			return nil
		}
		if want == KindFloat && value.Kind() == KindInt {
			return nil
		}
		if want == KindDate && value.Kind() == KindString {
			if s, _ := value.String(); looksLikeDate(s) {
				return nil
			}
		}
	}

	return fail(fs, "type", ErrTypeMismatch, value,
		fmt.Sprintf("value does not match type %v", tags), tags)
}

// ruleAllowed checks membership in an explicit value list (soft equality).
func (e *Evaluator) ruleAllowed(fs *FieldSchema, arg any, value Value) *FieldError {
	if value.IsNull() {
		return nil
	}
	list, ok := arg.([]any)
	if !ok {
		return nil
	}
	for _, raw := range list {
		if value.Equal(FromAny(raw)) {
			return nil
		}
	}
	return fail(fs, "allowed", ErrConstraintViolation, value,
		fmt.Sprintf("unallowed value %s", value.displayString()), list)
}

// ruleForbidden checks non-membership in an explicit value list.
func (e *Evaluator) ruleForbidden(fs *FieldSchema, arg any, value Value) *FieldError {
	if value.IsNull() {
		return nil
	}
	list, ok := arg.([]any)
	if !ok {
		return nil
	}
	for _, raw := range list {
		if value.Equal(FromAny(raw)) {
			return fail(fs, "forbidden", ErrConstraintViolation, value,
				fmt.Sprintf("forbidden value %s", value.displayString()), list)
		}
	}
	return nil
}

// ruleMin enforces a numeric lower bound, resolving current_year/_month/
// _day literals from the system clock.
func (e *Evaluator) ruleMin(fs *FieldSchema, arg any, value Value) *FieldError {
	if value.IsNull() || !value.IsNumeric() {
		return nil
	}
	bound, ok := e.numericArg(arg)
	if !ok || !bound.IsNumeric() {
		return nil
	}
	cmp, ok := Ordering(value, bound)
	if ok && cmp < 0 {
		bf, _ := bound.Float()
		return fail(fs, "min", ErrConstraintViolation, value,
			fmt.Sprintf("value is below minimum %v", bf), arg)
	}
	return nil
}

// ruleMax enforces a numeric upper bound.
func (e *Evaluator) ruleMax(fs *FieldSchema, arg any, value Value) *FieldError {
	if value.IsNull() || !value.IsNumeric() {
		return nil
	}
	bound, ok := e.numericArg(arg)
	if !ok || !bound.IsNumeric() {
		return nil
	}
	cmp, ok := Ordering(value, bound)
	if ok && cmp > 0 {
		bf, _ := bound.Float()
		return fail(fs, "max", ErrConstraintViolation, value,
			fmt.Sprintf("value exceeds maximum %v", bf), arg)
	}
	return nil
}

// ruleRegex anchors a full-string match against string values only.
func (e *Evaluator) ruleRegex(fs *FieldSchema, arg any, value Value) *FieldError {
	if value.IsNull() {
		return nil
	}
	pattern, ok := arg.(string)
	if !ok {
		return nil
	}
	s, ok := value.String()
	if !ok {
		return fail(fs, "regex", ErrTypeMismatch, value, "regex rule requires a string value", pattern)
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil || !re.MatchString(s) {
		return fail(fs, "regex", ErrConstraintViolation, value,
			fmt.Sprintf("value does not match pattern %q", pattern), pattern)
	}
	return nil
}

// ruleFilled: true requires a non-null value, false requires null.
func (e *Evaluator) ruleFilled(fs *FieldSchema, arg any, value Value) *FieldError {
	want, _ := arg.(bool)
	if want && value.IsNull() {
		return fail(fs, "filled", ErrNullNotAllowed, value, "field must be filled", want)
	}
	if !want && !value.IsNull() {
		return fail(fs, "filled", ErrConstraintViolation, value, "field must not be filled", want)
	}
	return nil
}

// ruleAnyOf passes if any of a list of sub-rule-mappings passes against
// the same field.
func (e *Evaluator) ruleAnyOf(ctx context.Context, fs *FieldSchema, arg any, record Record) (*FieldError, error) {
	list, ok := arg.([]any)
	if !ok {
		return nil, systemError("anyof on field %q: argument must be a list of sub-schemas", fs.Name)
	}

	var lastErrs, branchErrs []FieldError
	for _, raw := range list {
		ruleMap, ok := raw.(map[string]any)
		if !ok {
			return nil, systemError("anyof on field %q: each entry must be a rule mapping", fs.Name)
		}
		temp := &FieldSchema{Name: fs.Name, Rules: ruleMap}
		errs, err := e.evaluateField(ctx, temp, record)
		if err != nil {
			return nil, err
		}
		if len(errs) == 0 {
			return nil, nil
		}
		lastErrs = errs
		branchErrs = append(branchErrs, errs...)
	}

	msg := "no anyof branch matched"
	if len(lastErrs) > 0 {
		msg = fmt.Sprintf("no anyof branch matched (last: %s)", lastErrs[0].Message)
	}
	fe := fail(fs, "anyof", ErrConstraintViolation, record.Get(fs.Name), msg, list)
	fe.Children = branchErrs
	return fe, nil
}
