package qcheck

import "strings"

// Logic is the embedded JSON-logic expression interpreter.
// An expression is either a literal scalar/list, or a single-key mapping
// {op: args}; Evaluate walks it recursively against a Record.
type Logic struct {
	record Record
	// sysErr collects system-level faults raised mid-expression (division
	// by zero, unknown operator) without unwinding via panic/recover —
	// callers check Err() after Evaluate returns.
	sysErr error
}

// NewLogic binds an interpreter instance to a single record. A fresh
// instance is cheap and stateless beyond the bound record and any error
// picked up during its Evaluate calls.
func NewLogic(record Record) *Logic {
	return &Logic{record: record}
}

// Err returns the last system fault (if any) raised by any Evaluate call
// on this instance — e.g. division by zero or an unrecognized operator.
// It is not cleared between calls.
func (l *Logic) Err() error { return l.sysErr }

// Evaluate resolves a JSON-logic expression node to a Value.
func (l *Logic) Evaluate(node any) Value {
	switch v := node.(type) {
	case nil:
		return Null
	case map[string]any:
		if len(v) != 1 {
			// Not a single-key operator mapping: treat as an opaque
			// literal object, which Logic has no scalar representation
			// for, so it resolves to Null.
			return Null
		}
		for op, args := range v {
			return l.apply(op, args)
		}
		return Null
	case []any:
		items := make([]Value, len(v))
		for i, elem := range v {
			items[i] = l.Evaluate(elem)
		}
		return NewList(items)
	default:
		return FromAny(v)
	}
}

// apply dispatches a single JSON-logic operator.
func (l *Logic) apply(op string, args any) Value {
	switch op {
	case "var":
		return l.opVar(args)

	case "==":
		a, b := l.pair(args)
		return NewBool(a.Equal(b))
	case "!=":
		a, b := l.pair(args)
		return NewBool(!a.Equal(b))

	case "<", "<=", ">", ">=":
		a, b := l.pair(args)
		cmp, ok := Ordering(a, b)
		if !ok {
			return NewBool(false)
		}
		return NewBool(satisfiesComparator(op, cmp))

	case "+", "-", "*", "/":
		return l.arithmetic(op, args)

	case "and":
		return l.logicalAnd(args)
	case "or":
		return l.logicalOr(args)
	case "!":
		return NewBool(!isTruthy(l.Evaluate(singleArg(args))))

	case "in":
		a, b := l.pair(args)
		return NewBool(l.opIn(a, b))

	case "if":
		return l.opIf(args)

	case "count":
		return l.opCount(args)
	case "count_exact":
		return l.opCountExact(args)

	default:
		l.sysErr = systemError("unknown json-logic operator %q", op)
		return Null
	}
}

func singleArg(args any) any {
	if arr, ok := args.([]any); ok && len(arr) > 0 {
		return arr[0]
	}
	return args
}

// pair evaluates a two-element argument list, tolerating short lists.
func (l *Logic) pair(args any) (Value, Value) {
	arr, ok := args.([]any)
	if !ok {
		return l.Evaluate(args), Null
	}
	a := Null
	b := Null
	if len(arr) > 0 {
		a = l.Evaluate(arr[0])
	}
	if len(arr) > 1 {
		b = l.Evaluate(arr[1])
	}
	return a, b
}

func (l *Logic) opVar(args any) Value {
	switch a := args.(type) {
	case string:
		return l.lookup(a)
	case []any:
		if len(a) == 0 {
			return Null
		}
		name, _ := a[0].(string)
		v := l.lookup(name)
		if v.IsNull() && len(a) > 1 {
			return l.Evaluate(a[1])
		}
		return v
	default:
		return Null
	}
}

func (l *Logic) lookup(name string) Value {
	if name == "" {
		return Null
	}
	return l.record.Get(name)
}

func satisfiesComparator(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	default:
		return false
	}
}

func (l *Logic) arithmetic(op string, args any) Value {
	arr, ok := args.([]any)
	if !ok {
		return Null
	}
	if len(arr) == 0 {
		return Null
	}

	acc, accOK := l.Evaluate(arr[0]).Float()
	if !accOK {
		return Null
	}

	for _, raw := range arr[1:] {
		v, ok := l.Evaluate(raw).Float()
		if !ok {
			return Null
		}
		switch op {
		case "+":
			acc += v
		case "-":
			acc -= v
		case "*":
			acc *= v
		case "/":
			if v == 0 {
				l.sysErr = systemError("division by zero in json-logic expression")
				return Null
			}
			acc /= v
		}
	}
	return NewFloat(acc)
}

func (l *Logic) logicalAnd(args any) Value {
	arr, ok := args.([]any)
	if !ok {
		return NewBool(isTruthy(l.Evaluate(args)))
	}
	for _, raw := range arr {
		if !isTruthy(l.Evaluate(raw)) {
			return NewBool(false)
		}
	}
	return NewBool(true)
}

func (l *Logic) logicalOr(args any) Value {
	arr, ok := args.([]any)
	if !ok {
		return NewBool(isTruthy(l.Evaluate(args)))
	}
	for _, raw := range arr {
		if isTruthy(l.Evaluate(raw)) {
			return NewBool(true)
		}
	}
	return NewBool(false)
}

func (l *Logic) opIn(needle, haystack Value) bool {
	if items, ok := haystack.List(); ok {
		for _, item := range items {
			if needle.Equal(item) {
				return true
			}
		}
		return false
	}
	if hs, ok := haystack.String(); ok {
		if ns, ok := needle.String(); ok {
			return containsString(hs, ns)
		}
	}
	return false
}

// opIf implements chained ternary logic: {"if": [c1, t1, c2, t2, ..., else]}.
func (l *Logic) opIf(args any) Value {
	arr, ok := args.([]any)
	if !ok || len(arr) < 2 {
		return Null
	}
	for i := 0; i+1 < len(arr); i += 2 {
		if isTruthy(l.Evaluate(arr[i])) {
			return l.Evaluate(arr[i+1])
		}
	}
	if len(arr)%2 == 1 {
		return l.Evaluate(arr[len(arr)-1])
	}
	return Null
}

// opCount counts how many list elements are non-null and non-zero: "count": [a, b, c].
func (l *Logic) opCount(args any) Value {
	arr, ok := args.([]any)
	if !ok {
		return NewInt(0)
	}
	var n int64
	for _, raw := range arr {
		v := l.Evaluate(raw)
		if v.IsNull() {
			continue
		}
		if f, ok := v.Float(); ok && f == 0 {
			continue
		}
		n++
	}
	return NewInt(n)
}

// opCountExact counts how many of x1..xn equal base under soft equality:
// "count_exact": [base, x1, x2, ...].
func (l *Logic) opCountExact(args any) Value {
	arr, ok := args.([]any)
	if !ok || len(arr) == 0 {
		return NewInt(0)
	}
	base := l.Evaluate(arr[0])
	var n int64
	for _, raw := range arr[1:] {
		if l.Evaluate(raw).Equal(base) {
			n++
		}
	}
	return NewInt(n)
}

// isTruthy implements JSON-logic truthiness: nil, false, 0, "" and empty
// lists are falsy; everything else is truthy.
func isTruthy(v Value) bool {
	switch v.Kind() {
	case KindNull:
		return false
	case KindBool:
		b, _ := v.Bool()
		return b
	case KindInt, KindFloat:
		f, _ := v.Float()
		return f != 0
	case KindString:
		s, _ := v.String()
		return s != ""
	case KindList:
		items, _ := v.List()
		return len(items) > 0
	default:
		return true
	}
}

func containsString(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
