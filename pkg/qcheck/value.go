// Package qcheck is a declarative rule-evaluation engine for longitudinal
// clinical-research form records. It walks a flat record (field name to
// scalar value) against a schema of per-field rules — type and range
// checks, cross-field conditionals, temporal rules over prior visits, and
// an embedded JSON-logic interpreter — and reports a structured error tree.
package qcheck

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueKind tags the scalar type carried by a Value.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindBool   ValueKind = "bool"
	KindInt    ValueKind = "integer"
	KindFloat  ValueKind = "float"
	KindString ValueKind = "string"
	KindDate   ValueKind = "date"
	KindList   ValueKind = "list"
)

// floatTolerance is the absolute tolerance used by soft equality.
const floatTolerance = 0.01

// dateLayouts are the string formats a Value recognizes as dates.
var dateLayouts = []string{"2006/01/02", "2006-01-02"}

// Value is a tagged union over the scalar types a record field can hold.
// Zero value is Null.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	d    time.Time
	list []Value
}

// Null is the canonical null value.
var Null = Value{kind: KindNull}

func NewBool(b bool) Value        { return Value{kind: KindBool, b: b} }
func NewInt(i int64) Value        { return Value{kind: KindInt, i: i} }
func NewFloat(f float64) Value    { return Value{kind: KindFloat, f: f} }
func NewString(s string) Value    { return Value{kind: KindString, s: s} }
func NewDate(t time.Time) Value   { return Value{kind: KindDate, d: t} }
func NewList(items []Value) Value { return Value{kind: KindList, list: items} }

// FromAny converts a decoded JSON/YAML scalar (nil, bool, float64, string,
// []any, map[string]any) into a Value. Strings matching a recognized date
// layout are NOT auto-promoted to KindDate here — date semantics are
// requested explicitly by rules (the "type: date" rule, compare_age, etc.)
// via AsDate, since the same string ("2024-01-02") is also a legitimate
// plain string value.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null
	case bool:
		return NewBool(x)
	case int:
		return NewInt(int64(x))
	case int64:
		return NewInt(x)
	case float64:
		return NewFloat(x)
	case string:
		return NewString(x)
	case []any:
		items := make([]Value, len(x))
		for i, elem := range x {
			items[i] = FromAny(elem)
		}
		return NewList(items)
	case time.Time:
		return NewDate(x)
	default:
		return NewString(fmt.Sprintf("%v", x))
	}
}

// ToAny converts a Value back to a plain Go value suitable for
// json.Marshal / yaml.Marshal.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindDate:
		return v.d.Format("2006-01-02")
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Kind reports the value's tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is the null tag.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumeric reports whether the value is an integer or float.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Float returns the value as a float64. ok is false for non-numeric kinds.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// String returns the underlying string. ok is false for non-string kinds.
func (v Value) String() (string, bool) {
	if v.kind == KindString {
		return v.s, true
	}
	return "", false
}

// Bool returns the underlying bool. ok is false for non-bool kinds.
func (v Value) Bool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// List returns the underlying list. ok is false for non-list kinds.
func (v Value) List() ([]Value, bool) {
	if v.kind == KindList {
		return v.list, true
	}
	return nil, false
}

// AsDate attempts to interpret the value as a date, accepting a KindDate
// directly or a KindString matching one of dateLayouts.
func (v Value) AsDate() (time.Time, bool) {
	if v.kind == KindDate {
		return v.d, true
	}
	if v.kind == KindString {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v.s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// looksLikeDate reports whether a string value matches a recognized date
// layout, used by the "type" rule's "date" tag.
func looksLikeDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// Equal implements soft equality: float comparisons use an
// absolute tolerance of 0.01, and null equals null only.
func (v Value) Equal(other Value) bool {
	if v.kind == KindNull || other.kind == KindNull {
		return v.kind == KindNull && other.kind == KindNull
	}

	if v.IsNumeric() && other.IsNumeric() {
		af, _ := v.Float()
		bf, _ := other.Float()
		return math.Abs(af-bf) <= floatTolerance
	}

	if v.kind == KindDate || other.kind == KindDate {
		at, aok := v.AsDate()
		bt, bok := other.AsDate()
		if aok && bok {
			return at.Equal(bt)
		}
	}

	if v.kind == KindBool && other.kind == KindBool {
		return v.b == other.b
	}

	// Fall back to string-form comparison (e.g. string vs string, or a
	// string that happens to format the same as the other side).
	return v.displayString() == other.displayString()
}

func (v Value) displayString() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDate:
		return v.d.Format("2006-01-02")
	default:
		return ""
	}
}

// Ordering compares two values for use by <, <=, >, >=. ok is false when
// ordering is not meaningful — in particular, null compared to anything is
// neither less nor greater. cmp is -1/0/1 when ok is true.
func Ordering(a, b Value) (cmp int, ok bool) {
	if a.kind == KindNull || b.kind == KindNull {
		return 0, false
	}

	if a.IsNumeric() && b.IsNumeric() {
		af, _ := a.Float()
		bf, _ := b.Float()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	at, aok := a.AsDate()
	bt, bok := b.AsDate()
	if aok && bok {
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}

	if a.kind == KindString && b.kind == KindString {
		switch {
		case a.s < b.s:
			return -1, true
		case a.s > b.s:
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}
