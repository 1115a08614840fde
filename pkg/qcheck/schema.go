package qcheck

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Schema is an ordered mapping from field name to FieldSchema. Field order
// is the order fields were declared in the source document.
type Schema struct {
	Fields []*FieldSchema

	index map[string]*FieldSchema
}

// FieldSchema is a field's rule-name to rule-argument mapping, plus the
// dispatch-ordered rule list the evaluator actually walks.
type FieldSchema struct {
	Name  string
	Rules map[string]any // raw rule argument, keyed by rule name

	// standardOrder / customOrder are not populated; OrderedRules takes the
	// dispatch order from the package-level standardRuleOrder and
	// customRuleOrder instead.
	standardOrder []string
	customOrder   []string
}

// standardRuleOrder and customRuleOrder are the two halves of the fixed
// per-field rule dispatch order.
var standardRuleOrder = []string{
	"type", "required", "nullable", "allowed", "forbidden",
	"min", "max", "regex", "anyof", "filled",
}

var customRuleOrder = []string{
	"compare_with", "compare_age", "compatibility", "logic",
	"temporalrules", "compute_gds", "rxnorm", "_check_adcid", "function",
}

// nullTolerantRules may still fire against a null value when the field is
// nullable.
var nullTolerantRules = map[string]bool{
	"compatibility": true,
	"logic":         true,
	"compare_with":  true,
	"compare_age":   true,
	"filled":        true,
}

// knownRuleNames is used by schema-load validation to reject unknown
// top-level rule keys.
var knownRuleNames = func() map[string]bool {
	out := make(map[string]bool, len(standardRuleOrder)+len(customRuleOrder))
	for _, r := range standardRuleOrder {
		out[r] = true
	}
	for _, r := range customRuleOrder {
		out[r] = true
	}
	out["score_variables"] = true // alias handled alongside "function"
	return out
}()

// Field returns the FieldSchema for name, or nil if the field is not
// declared in the schema.
func (s *Schema) Field(name string) *FieldSchema {
	if s.index == nil {
		return nil
	}
	return s.index[name]
}

// Has reports whether name is a declared schema field.
func (s *Schema) Has(name string) bool {
	return s.Field(name) != nil
}

// OrderedRules returns this field's rule names in fixed dispatch order
// (standard rules, then custom rules), skipping rules not present.
func (f *FieldSchema) OrderedRules() []string {
	var out []string
	for _, name := range standardRuleOrder {
		if _, ok := f.Rules[name]; ok {
			out = append(out, name)
		}
	}
	for _, name := range customRuleOrder {
		if _, ok := f.Rules[name]; ok {
			out = append(out, name)
		}
		if name == "function" {
			if _, ok := f.Rules["score_variables"]; ok {
				out = append(out, "score_variables")
			}
		}
	}
	return out
}

// Required reports the field's "required" rule argument (default false).
func (f *FieldSchema) Required() bool {
	return boolArg(f.Rules["required"])
}

// Nullable reports the field's "nullable" rule argument (default false).
func (f *FieldSchema) Nullable() bool {
	return boolArg(f.Rules["nullable"])
}

func boolArg(v any) bool {
	b, _ := v.(bool)
	return b
}

// IsKnownRule reports whether name is a recognized rule, for callers (the
// lint CLI) that need to validate rule names without going through
// BuildSchema's all-or-nothing construction.
func IsKnownRule(name string) bool {
	return knownRuleNames[name]
}

// StandardRuleNames and CustomRuleNames expose the two dispatch-order
// halves read-only, as copies.
func StandardRuleNames() []string { return append([]string(nil), standardRuleOrder...) }
func CustomRuleNames() []string   { return append([]string(nil), customRuleOrder...) }

// BuildSchema constructs a Schema from an ordered list of (name, rule-map)
// pairs, as produced by schemaio's order-preserving decoder. It validates
// that every rule-mapping uses only recognized rule names and that the
// primary key field (if given) is declared "required: true".
func BuildSchema(fields []OrderedField, primaryKey string) (*Schema, error) {
	s := &Schema{index: make(map[string]*FieldSchema, len(fields))}

	for _, of := range fields {
		ruleMap, ok := of.Value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema-load: field %q: rule mapping must be an object", of.Name)
		}
		for ruleName := range ruleMap {
			if !knownRuleNames[ruleName] {
				return nil, fmt.Errorf("schema-load: field %q: unknown rule %q", of.Name, ruleName)
			}
		}
		fs := &FieldSchema{Name: of.Name, Rules: ruleMap}
		s.Fields = append(s.Fields, fs)
		s.index[of.Name] = fs
	}

	normalizeTemporalRules(s)

	if primaryKey != "" {
		pk := s.Field(primaryKey)
		if pk == nil {
			return nil, fmt.Errorf("schema-load: primary key field %q is not declared in schema", primaryKey)
		}
		if !pk.Required() {
			return nil, fmt.Errorf("schema-load: primary key field %q must declare required: true", primaryKey)
		}
	}

	return s, nil
}

// normalizeTemporalRules resolves ambiguity over where `orderby` may live:
// a top-level key of a mapping-form temporalrules argument
// ({orderby, constraints}), or per constraint. Top-level values are pushed
// down onto every constraint that doesn't declare its own, and the
// argument is replaced by the bare constraint list.
func normalizeTemporalRules(s *Schema) {
	for _, fs := range s.Fields {
		raw, ok := fs.Rules["temporalrules"]
		if !ok {
			continue
		}
		m, ok := raw.(map[string]any)
		if !ok {
			continue // already a bare list; nothing to hoist
		}
		topOrderBy, _ := m["orderby"].(string)
		constraints, _ := m["constraints"].([]any)
		if topOrderBy == "" || constraints == nil {
			continue
		}
		for _, c := range constraints {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if _, has := cm["orderby"]; !has {
				cm["orderby"] = topOrderBy
			}
		}
		fs.Rules["temporalrules"] = constraints
	}
}

// OrderedField is one (name, value) pair from an order-preserving document
// decode; see package schemaio.
type OrderedField struct {
	Name  string
	Value any
}

// MarshalJSON encodes a Schema as a JSON object, emitting fields in
// declared order.
func (s *Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fs := range s.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(fs.Name)
		buf.Write(name)
		buf.WriteByte(':')
		rules, err := json.Marshal(fs.Rules)
		if err != nil {
			return nil, err
		}
		buf.Write(rules)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
