package qcheck

import (
	"context"
	"fmt"
	"math"
	"time"
)

// --- compare_with -------------------------------------------

type compareWithArg struct {
	comparator      string
	base            string
	adjustment      any
	op              string
	previousRecord  bool
	ignoreEmptyBool bool
	ignoreEmptyList []string
}

func parseCompareWithArg(raw map[string]any) compareWithArg {
	a := compareWithArg{}
	a.comparator, _ = raw["comparator"].(string)
	a.base, _ = raw["base"].(string)
	a.op, _ = raw["op"].(string)
	a.adjustment = raw["adjustment"]
	a.previousRecord, _ = raw["previous_record"].(bool)

	switch ie := raw["ignore_empty"].(type) {
	case bool:
		a.ignoreEmptyBool = ie
	case []any:
		for _, f := range ie {
			if s, ok := f.(string); ok {
				a.ignoreEmptyList = append(a.ignoreEmptyList, s)
			}
		}
	}
	return a
}

// resolveBase resolves compare_with's "base": one of the clock literals,
// a field name in record, or a literal value.
func (e *Evaluator) resolveBase(base string, record Record) (Value, bool) {
	if v, ok := e.resolveClockLiteral(base); ok {
		return v, true
	}
	if record.Has(base) {
		return record.Get(base), true
	}
	if base == "" {
		return Null, false
	}
	return NewString(base), true
}

func resolveAdjustment(adj any, record Record) Value {
	if s, ok := adj.(string); ok && record.Has(s) {
		return record.Get(s)
	}
	return FromAny(adj)
}

// ruleCompareWith implements `field {comparator} (base {op} adjustment)`,
// with an `abs` form and an optional previous-record base.
func (e *Evaluator) ruleCompareWith(ctx context.Context, fs *FieldSchema, rawArg any, value Value, record Record) (*FieldError, error) {
	if value.IsNull() {
		return nil, nil
	}
	raw, ok := rawArg.(map[string]any)
	if !ok {
		return nil, systemError("compare_with on field %q: argument must be an object", fs.Name)
	}
	arg := parseCompareWithArg(raw)

	baseRecord := record
	if arg.previousRecord {
		if e.datastore == nil {
			return nil, systemError("compare_with on field %q: previous_record requires a datastore", fs.Name)
		}
		ignoreEmpty := arg.ignoreEmptyList
		if arg.ignoreEmptyBool && ignoreEmpty == nil {
			ignoreEmpty = []string{arg.base}
		}
		prev, found, err := e.datastore.GetPreviousRecord(ctx, e.primaryKey, record, ignoreEmpty)
		if err != nil {
			return nil, wrapSystemError(err, "compare_with: fetching previous record")
		}
		if !found {
			return nil, nil // no qualifying prior row: rule is skipped (passes)
		}
		baseRecord = prev
	}

	baseVal, ok := e.resolveBase(arg.base, baseRecord)
	if !ok {
		return nil, nil
	}

	var lhs, rhs Value
	comparator := arg.comparator

	if arg.op == "abs" {
		diff, ok := numericDiff(value, baseVal)
		if !ok {
			return nil, nil
		}
		lhs = NewFloat(math.Abs(diff))
		rhs = resolveAdjustment(arg.adjustment, record)
	} else {
		lhs = value
		rhs = baseVal
		if arg.op != "" && arg.adjustment != nil {
			adjVal := resolveAdjustment(arg.adjustment, record)
			combined, ok := applyArith(arg.op, baseVal, adjVal)
			if !ok {
				return nil, nil
			}
			rhs = combined
		}
	}

	ok2, comparable := compareByOperator(comparator, lhs, rhs)
	if !comparable {
		return nil, nil
	}
	if !ok2 {
		rf, _ := rhs.Float()
		return fail(fs, "compare_with", ErrConstraintViolation, value,
			fmt.Sprintf("value must be %s %v", comparator, rf), raw), nil
	}
	return nil, nil
}

func numericDiff(a, b Value) (float64, bool) {
	af, aok := a.Float()
	bf, bok := b.Float()
	if !aok || !bok {
		return 0, false
	}
	return af - bf, true
}

func applyArith(op string, a, b Value) (Value, bool) {
	af, aok := a.Float()
	bf, bok := b.Float()
	if !aok || !bok {
		return Null, false
	}
	switch op {
	case "+":
		return NewFloat(af + bf), true
	case "-":
		return NewFloat(af - bf), true
	case "*":
		return NewFloat(af * bf), true
	case "/":
		if bf == 0 {
			return Null, false
		}
		return NewFloat(af / bf), true
	default:
		return Null, false
	}
}

func compareByOperator(comparator string, a, b Value) (satisfied bool, comparable bool) {
	switch comparator {
	case "==":
		return a.Equal(b), true
	case "!=":
		return !a.Equal(b), true
	case "<", "<=", ">", ">=":
		cmp, ok := Ordering(a, b)
		if !ok {
			return false, false
		}
		return satisfiesComparator(comparator, cmp), true
	default:
		return false, false
	}
}

// --- compare_age ---------------------------------------------

// ruleCompareAge compares a date field's age in years against a bound,
// passing silently (with no hard failure and no warning) when the birth
// date components don't form a valid date.
func (e *Evaluator) ruleCompareAge(fs *FieldSchema, rawArg any, value Value, record Record) *FieldError {
	if value.IsNull() {
		return nil
	}
	raw, ok := rawArg.(map[string]any)
	if !ok {
		return nil
	}
	comparator, _ := raw["comparator"].(string)

	fieldDate, ok := value.AsDate()
	if !ok {
		return nil
	}

	birthYear, yOk := toInt(raw["birth_year"])
	birthMonth, mOk := toIntOr(raw["birth_month"], 1)
	birthDay, dOk := toIntOr(raw["birth_day"], 1)
	if !yOk || !mOk || !dOk {
		return nil // no hard failure; no warning is emitted either
	}
	birthDate, valid := safeDate(birthYear, birthMonth, birthDay)
	if !valid {
		return nil
	}

	ageYears := fieldDate.Sub(birthDate).Hours() / 24 / 365.25

	compareTo := raw["compare_to"]
	bound, ok := resolveCompareToBound(compareTo, record)
	if !ok {
		return nil
	}

	satisfied, comparable := compareByOperator(comparator, NewFloat(ageYears), NewFloat(bound))
	if !comparable {
		return nil
	}
	if !satisfied {
		return fail(fs, "compare_age", ErrConstraintViolation, value,
			fmt.Sprintf("age %.1f does not satisfy %s %v", ageYears, comparator, bound), raw)
	}
	return nil
}

// resolveCompareToBound resolves compare_age's compare_to: a literal
// number, a field name, or a list of names/numbers (min is taken).
func resolveCompareToBound(compareTo any, record Record) (float64, bool) {
	switch v := compareTo.(type) {
	case []any:
		var min float64
		found := false
		for _, item := range v {
			f, ok := resolveScalarBound(item, record)
			if !ok {
				continue
			}
			if !found || f < min {
				min = f
				found = true
			}
		}
		return min, found
	default:
		return resolveScalarBound(v, record)
	}
}

func resolveScalarBound(item any, record Record) (float64, bool) {
	if s, ok := item.(string); ok {
		if record.Has(s) {
			return record.Get(s).Float()
		}
		return 0, false
	}
	return FromAny(item).Float()
}

func toInt(v any) (int, bool) {
	f, ok := FromAny(v).Float()
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toIntOr(v any, def int) (int, bool) {
	if v == nil {
		return def, true
	}
	return toInt(v)
}

// safeDate builds a UTC date from components, rejecting anything that
// doesn't round-trip (e.g. day 30 in February) rather than silently
// normalizing it the way time.Date does.
func safeDate(year, month, day int) (time.Time, bool) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// --- compatibility -------------------------------------------

// ruleCompatibility evaluates a list of if/then/else constraints against
// the current record. Each failing constraint becomes a
// child of one outer FieldError.
func (e *Evaluator) ruleCompatibility(ctx context.Context, fs *FieldSchema, rawArg any, record Record) (*FieldError, error) {
	list, ok := rawArg.([]any)
	if !ok {
		return nil, systemError("compatibility on field %q: argument must be a list", fs.Name)
	}

	var children []FieldError
	for i, raw := range list {
		constraint, ok := raw.(map[string]any)
		if !ok {
			return nil, systemError("compatibility on field %q: constraint %d must be an object", fs.Name, i)
		}

		ifClause, _ := constraint["if"].(map[string]any)
		thenClause, _ := constraint["then"].(map[string]any)
		elseClause, hasElse := constraint["else"].(map[string]any)
		ifOp := defaultOp(stringOr(constraint["if_op"]))
		thenOp := defaultOp(stringOr(constraint["then_op"]))
		elseOp := defaultOp(stringOr(constraint["else_op"]))

		ifTrue, _, err := e.runSubschema(ctx, ifClause, record, ifOp)
		if err != nil {
			return nil, err
		}

		idx := i
		if ifTrue {
			thenOk, thenTree, err := e.runSubschema(ctx, thenClause, record, thenOp)
			if err != nil {
				return nil, err
			}
			if !thenOk {
				children = append(children, FieldError{
					Field:     fs.Name,
					Rule:      "compatibility",
					Kind:      ErrCrossField,
					RuleIndex: &idx,
					Message:   fmt.Sprintf("constraint %d: if-clause held but then-clause failed (%s)", i, summarizeInner(thenTree)),
				})
			}
		} else if hasElse {
			elseOk, elseTree, err := e.runSubschema(ctx, elseClause, record, elseOp)
			if err != nil {
				return nil, err
			}
			if !elseOk {
				children = append(children, FieldError{
					Field:     fs.Name,
					Rule:      "compatibility",
					Kind:      ErrCrossField,
					RuleIndex: &idx,
					Message:   fmt.Sprintf("constraint %d: if-clause failed but else-clause also failed (%s)", i, summarizeInner(elseTree)),
				})
			}
		}
	}

	if len(children) == 0 {
		return nil, nil
	}
	return &FieldError{
		Field:    fs.Name,
		Rule:     "compatibility",
		Kind:     ErrCrossField,
		Message:  fmt.Sprintf("%d compatibility constraint(s) failed", len(children)),
		Children: children,
	}, nil
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

// --- logic ---------------------------------------------------

// ruleLogic calls the JSON-logic interpreter; a truthy result passes.
func (e *Evaluator) ruleLogic(fs *FieldSchema, rawArg any, record Record) *FieldError {
	raw, ok := rawArg.(map[string]any)
	if !ok {
		return nil
	}
	formula := raw["formula"]
	logic := NewLogic(record)
	result := logic.Evaluate(formula)
	if logic.Err() != nil {
		return fail(fs, "logic", ErrRuntimeWarning, record.Get(fs.Name), logic.Err().Error(), raw)
	}
	if isTruthy(result) {
		return nil
	}
	msg, _ := raw["errormsg"].(string)
	if msg == "" {
		msg = "logic expression evaluated false"
	}
	return fail(fs, "logic", ErrConstraintViolation, record.Get(fs.Name), msg, raw)
}

// --- temporalrules -------------------------------------------

func (e *Evaluator) ruleTemporalRules(ctx context.Context, fs *FieldSchema, rawArg any, record Record) (*FieldError, error) {
	list, ok := rawArg.([]any)
	if !ok {
		return nil, systemError("temporalrules on field %q: argument must be a list", fs.Name)
	}

	var children []FieldError
	for i, raw := range list {
		cm, ok := raw.(map[string]any)
		if !ok {
			return nil, systemError("temporalrules on field %q: constraint %d must be an object", fs.Name, i)
		}

		orderBy, _ := cm["orderby"].(string)
		if orderBy == "" {
			orderBy = e.primaryKey
		}
		prevOp := defaultOp(stringOr(cm["prev_op"]))
		currOp := defaultOp(stringOr(cm["curr_op"]))
		swapOrder, _ := cm["swap_order"].(bool)
		ignoreEmpty := parseIgnoreEmpty(cm["ignore_empty"])

		if e.datastore == nil {
			return nil, systemError("temporalrules on field %q: requires a datastore", fs.Name)
		}
		prev, found, err := e.datastore.GetPreviousRecord(ctx, orderBy, record, ignoreEmpty)
		if err != nil {
			return nil, wrapSystemError(err, "temporalrules: fetching previous record")
		}
		if !found {
			continue // no history: constraint is a conditional no-op
		}

		previousSchema, _ := cm["previous"].(map[string]any)
		currentSchema, _ := cm["current"].(map[string]any)

		idx := i + 1
		if !swapOrder {
			prevOk, _, err := e.runSubschema(ctx, previousSchema, prev, prevOp)
			if err != nil {
				return nil, err
			}
			if !prevOk {
				continue
			}
			currOk, currTree, err := e.runSubschema(ctx, currentSchema, record, currOp)
			if err != nil {
				return nil, err
			}
			if !currOk {
				children = append(children, FieldError{
					Field:     fs.Name,
					Rule:      "temporalrules",
					Kind:      ErrTemporal,
					RuleIndex: &i,
					Message: fmt.Sprintf("(%s, %s) in current visit for constraint in previous visit - temporal rule no: %d",
						fs.Name, summarizeInner(currTree), idx),
				})
			}
		} else {
			currOk, _, err := e.runSubschema(ctx, currentSchema, record, currOp)
			if err != nil {
				return nil, err
			}
			if !currOk {
				continue
			}
			prevOk, prevTree, err := e.runSubschema(ctx, previousSchema, prev, prevOp)
			if err != nil {
				return nil, err
			}
			if !prevOk {
				children = append(children, FieldError{
					Field:     fs.Name,
					Rule:      "temporalrules",
					Kind:      ErrTemporal,
					RuleIndex: &i,
					Message: fmt.Sprintf("(%s, %s) in previous visit for constraint in current visit - temporal rule no: %d",
						fs.Name, summarizeInner(prevTree), idx),
				})
			}
		}
	}

	if len(children) == 0 {
		return nil, nil
	}
	return &FieldError{
		Field:    fs.Name,
		Rule:     "temporalrules",
		Kind:     ErrTemporal,
		Message:  fmt.Sprintf("%d temporal rule(s) failed", len(children)),
		Children: children,
	}, nil
}

func parseIgnoreEmpty(v any) []string {
	switch x := v.(type) {
	case []any:
		var out []string
		for _, f := range x {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case bool:
		if x {
			return []string{}
		}
		return nil
	default:
		return nil
	}
}

// --- compute_gds ---------------------------------------------

// ruleComputeGDS validates a 15-item Geriatric Depression Scale score,
// prorating when up to 3 of the 15 items are missing.
func (e *Evaluator) ruleComputeGDS(fs *FieldSchema, rawArg any, value Value, record Record) *FieldError {
	if value.IsNull() {
		return nil
	}
	items, ok := rawArg.([]any)
	if !ok {
		return nil
	}

	var sum float64
	var answered, missing int
	for _, raw := range items {
		name, ok := raw.(string)
		if !ok {
			continue
		}
		v := record.Get(name)
		if v.IsNull() {
			missing++
			continue
		}
		f, ok := v.Float()
		if !ok {
			continue
		}
		sum += f
		answered++
	}

	if missing > 3 {
		return fail(fs, "compute_gds", ErrConstraintViolation, value,
			"too many missing responses to compute a GDS score", items)
	}

	var expected float64
	if missing == 0 {
		expected = sum
	} else {
		expected = e.round(15 * sum / float64(answered))
	}

	if !value.Equal(NewFloat(expected)) {
		return fail(fs, "compute_gds", ErrConstraintViolation, value,
			fmt.Sprintf("computed GDS score is %v", expected), items)
	}
	return nil
}

// round applies the evaluator's configured rounding mode.
func (e *Evaluator) round(f float64) float64 {
	switch e.roundingMode {
	case RoundHalfEven:
		return math.RoundToEven(f)
	default:
		return math.Floor(f + 0.5)
	}
}

// --- rxnorm / _check_adcid -----------------------------------

func (e *Evaluator) ruleRxnorm(ctx context.Context, fs *FieldSchema, value Value) (*FieldError, error) {
	if value.IsNull() {
		return nil, nil
	}
	if e.datastore == nil {
		return nil, systemError("rxnorm on field %q: requires a datastore", fs.Name)
	}
	code, ok := value.String()
	if !ok {
		return fail(fs, "rxnorm", ErrTypeMismatch, value, "rxnorm rule requires a string value", nil), nil
	}
	valid, err := e.datastore.IsValidRxcui(ctx, code)
	if err != nil {
		return nil, wrapSystemError(err, "rxnorm: checking RXCUI validity")
	}
	if !valid {
		return fail(fs, "rxnorm", ErrConstraintViolation, value, "not a valid RXCUI code", nil), nil
	}
	return nil, nil
}

func (e *Evaluator) ruleCheckADCID(ctx context.Context, fs *FieldSchema, value Value) (*FieldError, error) {
	if value.IsNull() {
		return nil, nil
	}
	if e.datastore == nil {
		return nil, systemError("_check_adcid on field %q: requires a datastore", fs.Name)
	}
	id, ok := value.String()
	if !ok {
		return fail(fs, "_check_adcid", ErrTypeMismatch, value, "_check_adcid rule requires a string value", nil), nil
	}
	valid, err := e.datastore.IsValidADCID(ctx, id)
	if err != nil {
		return nil, wrapSystemError(err, "_check_adcid: checking site identifier")
	}
	if !valid {
		return fail(fs, "_check_adcid", ErrConstraintViolation, value, "not a valid site identifier", nil), nil
	}
	return nil, nil
}

// --- function / score_variables ------------------------------

// functionRegistry indexes the scoring/plausibility computations
// available to the "function" rule.
var functionRegistry = map[string]func([]float64) float64{
	"sum": func(xs []float64) float64 {
		var s float64
		for _, x := range xs {
			s += x
		}
		return s
	},
	"average": func(xs []float64) float64 {
		if len(xs) == 0 {
			return 0
		}
		var s float64
		for _, x := range xs {
			s += x
		}
		return s / float64(len(xs))
	},
	"max": func(xs []float64) float64 {
		m := math.Inf(-1)
		for _, x := range xs {
			if x > m {
				m = x
			}
		}
		if math.IsInf(m, -1) {
			return 0
		}
		return m
	},
	"min": func(xs []float64) float64 {
		m := math.Inf(1)
		for _, x := range xs {
			if x < m {
				m = x
			}
		}
		if math.IsInf(m, 1) {
			return 0
		}
		return m
	},
}

// ruleFunction handles both "function" (registry lookup over named
// arguments) and "score_variables" (sum a field list into a named side
// total).
func (e *Evaluator) ruleFunction(fs *FieldSchema, ruleName string, rawArg any, record Record) *FieldError {
	raw, ok := rawArg.(map[string]any)
	if !ok {
		return nil
	}

	if ruleName == "score_variables" {
		return e.scoreVariables(fs, raw, record)
	}

	functionName, _ := raw["function_name"].(string)
	fn, ok := functionRegistry[functionName]
	if !ok {
		return fail(fs, "function", ErrRuntimeWarning, record.Get(fs.Name),
			fmt.Sprintf("unknown scoring function %q", functionName), raw)
	}

	argNames, _ := raw["arguments"].([]any)
	var xs []float64
	for _, raw := range argNames {
		name, ok := raw.(string)
		if !ok {
			continue
		}
		v := record.Get(name)
		if v.IsNull() {
			continue
		}
		if f, ok := v.Float(); ok {
			xs = append(xs, f)
		}
	}

	result := fn(xs)
	value := record.Get(fs.Name)
	if value.IsNull() {
		return nil
	}
	if !value.Equal(NewFloat(result)) {
		return fail(fs, "function", ErrConstraintViolation, value,
			fmt.Sprintf("computed value is %v", result), raw)
	}
	return nil
}

// scoreVariables sums a field list (nulls skipped) into the evaluator's
// side table under a caller-specified name, optionally checked against an
// expected value.
func (e *Evaluator) scoreVariables(fs *FieldSchema, raw map[string]any, record Record) *FieldError {
	name, _ := raw["name"].(string)
	if name == "" {
		name = fs.Name
	}
	fieldNames, _ := raw["fields"].([]any)

	var sum float64
	for _, raw := range fieldNames {
		fname, ok := raw.(string)
		if !ok {
			continue
		}
		v := record.Get(fname)
		if v.IsNull() {
			continue
		}
		if f, ok := v.Float(); ok {
			sum += f
		}
	}

	if e.scoreTable == nil {
		e.scoreTable = make(map[string]Value)
	}
	e.scoreTable[name] = NewFloat(sum)

	if expected, has := raw["expected"]; has {
		expectedVal := resolveAdjustment(expected, record)
		if !NewFloat(sum).Equal(expectedVal) {
			return fail(fs, "score_variables", ErrConstraintViolation, NewFloat(sum),
				fmt.Sprintf("computed total %v does not match expected value", sum), raw)
		}
	}
	return nil
}
