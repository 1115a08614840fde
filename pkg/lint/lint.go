// Package lint provides static analysis for quality-check schema
// documents. It detects likely-mistake shapes without evaluating a
// record against the schema.
package lint

import (
	"fmt"
	"sort"

	"github.com/qualitycheck/qcheck/pkg/qcheck"
)

// Issue is a single problem found during static analysis.
type Issue struct {
	Severity string `json:"severity"` // "error" or "warning"
	Field    string `json:"field,omitempty"`
	Rule     string `json:"rule,omitempty"`
	Message  string `json:"message"`
}

// Result collects every issue found across a schema document.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

func (r *Result) addError(field, rule, format string, args ...any) {
	r.Valid = false
	r.Issues = append(r.Issues, Issue{Severity: "error", Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(field, rule, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Severity: "warning", Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// Run performs static analysis on an order-preserving field list (as
// produced by schemaio.Load). It checks rule names and the primary key's
// declaration as BuildSchema does, and additionally each rule's argument
// shape, which BuildSchema does not check (temporalrules is accepted only
// in its list form here). It does not stop at the first problem — every
// issue across the whole document is collected and returned together.
func Run(fields []qcheck.OrderedField, primaryKey string) *Result {
	result := &Result{Valid: true, Issues: make([]Issue, 0)}

	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true
	}

	sawPrimaryKey := false

	for _, f := range fields {
		ruleMap, ok := f.Value.(map[string]any)
		if !ok {
			result.addError(f.Name, "", "field %q must be a rule mapping (object)", f.Name)
			continue
		}

		if len(ruleMap) == 0 {
			result.addWarning(f.Name, "", "field %q declares no rules", f.Name)
		}

		if f.Name == primaryKey {
			sawPrimaryKey = true
			if want, _ := ruleMap["required"].(bool); !want {
				result.addError(f.Name, "required", "primary key field %q must declare required: true", f.Name)
			}
		}

		for ruleName, arg := range ruleMap {
			if !qcheck.IsKnownRule(ruleName) {
				result.addError(f.Name, ruleName, "unrecognized rule %q", ruleName)
				continue
			}
			lintRuleShape(result, declared, f.Name, ruleName, arg)
		}
	}

	if primaryKey != "" && !sawPrimaryKey {
		result.addError(primaryKey, "", "primary key field %q is not declared in the schema", primaryKey)
	}

	return result
}

// lintRuleShape checks one rule's argument against the shape it's
// expected to have, and — for "logic" — that every variable it
// references resolves to a declared field.
func lintRuleShape(result *Result, declared map[string]bool, field, rule string, arg any) {
	switch rule {
	case "type":
		tags := stringOrList(arg)
		if len(tags) == 0 {
			result.addError(field, rule, "type rule requires a string or list of type tags")
			return
		}
		for _, tag := range tags {
			if !qcheck.IsValidTypeTag(tag) {
				result.addWarning(field, rule, "unrecognized type tag %q", tag)
			}
		}

	case "required", "nullable":
		if _, ok := arg.(bool); !ok {
			result.addError(field, rule, "%s rule requires a boolean", rule)
		}

	case "allowed", "forbidden":
		if _, ok := arg.([]any); !ok {
			result.addError(field, rule, "%s rule requires a list", rule)
		}

	case "min", "max":
		switch arg.(type) {
		case float64, int, int64, string:
		default:
			result.addError(field, rule, "%s rule requires a number or a clock literal", rule)
		}

	case "regex":
		if _, ok := arg.(string); !ok {
			result.addError(field, rule, "regex rule requires a string pattern")
		}

	case "filled":
		if _, ok := arg.(bool); !ok {
			result.addError(field, rule, "filled rule requires a boolean")
		}

	case "anyof":
		list, ok := arg.([]any)
		if !ok {
			result.addError(field, rule, "anyof rule requires a list of rule mappings")
			return
		}
		for i, raw := range list {
			sub, ok := raw.(map[string]any)
			if !ok {
				result.addError(field, rule, "anyof branch %d must be a rule mapping", i)
				continue
			}
			lintSubschemaRules(result, declared, field, rule, sub)
		}

	case "compatibility":
		list, ok := arg.([]any)
		if !ok {
			result.addError(field, rule, "compatibility rule requires a list of constraints")
			return
		}
		for i, raw := range list {
			cm, ok := raw.(map[string]any)
			if !ok {
				result.addError(field, rule, "compatibility constraint %d must be an object", i)
				continue
			}
			for _, key := range []string{"if", "then", "else"} {
				sub, ok := cm[key].(map[string]any)
				if !ok {
					if key != "else" {
						result.addError(field, rule, "compatibility constraint %d is missing %q", i, key)
					}
					continue
				}
				lintSubschemaRules(result, declared, field, rule, sub)
			}
		}

	case "temporalrules":
		list, ok := arg.([]any)
		if !ok {
			result.addError(field, rule, "temporalrules rule requires a list of constraints")
			return
		}
		for i, raw := range list {
			cm, ok := raw.(map[string]any)
			if !ok {
				result.addError(field, rule, "temporalrules constraint %d must be an object", i)
				continue
			}
			for _, key := range []string{"previous", "current"} {
				sub, ok := cm[key].(map[string]any)
				if !ok {
					result.addError(field, rule, "temporalrules constraint %d is missing %q", i, key)
					continue
				}
				lintSubschemaRules(result, declared, field, rule, sub)
			}
		}

	case "logic":
		lm, ok := arg.(map[string]any)
		if !ok {
			result.addError(field, rule, "logic rule requires an object with a formula")
			return
		}
		for _, v := range extractVars(lm["formula"]) {
			if !declared[v] {
				result.addWarning(field, rule, "logic formula references undeclared field %q", v)
			}
		}

	case "compute_gds":
		list, ok := arg.([]any)
		if !ok || len(list) != 15 {
			result.addError(field, rule, "compute_gds rule requires a list of exactly 15 field names")
			return
		}
		for _, raw := range list {
			name, ok := raw.(string)
			if !ok {
				result.addError(field, rule, "compute_gds item must be a field name")
				continue
			}
			if !declared[name] {
				result.addWarning(field, rule, "compute_gds references undeclared field %q", name)
			}
		}

	case "compare_with", "compare_age":
		if _, ok := arg.(map[string]any); !ok {
			result.addError(field, rule, "%s rule requires an object argument", rule)
		}

	case "rxnorm", "_check_adcid":
		// No argument shape to check — presence of the datastore is a
		// runtime concern, not a schema-load one.

	case "function", "score_variables":
		fm, ok := arg.(map[string]any)
		if !ok {
			result.addError(field, rule, "%s rule requires an object argument", rule)
			return
		}
		if rule == "score_variables" {
			names, _ := fm["fields"].([]any)
			for _, raw := range names {
				name, ok := raw.(string)
				if ok && !declared[name] {
					result.addWarning(field, rule, "score_variables references undeclared field %q", name)
				}
			}
		}
	}
}

// lintSubschemaRules validates an ad-hoc nested rule mapping (as used by
// anyof/compatibility/temporalrules), reporting unknown rule names the
// same way top-level fields are checked.
func lintSubschemaRules(result *Result, declared map[string]bool, field, parentRule string, sub map[string]any) {
	for subField, raw := range sub {
		ruleMap, ok := raw.(map[string]any)
		if !ok {
			result.addError(field, parentRule, "nested field %q must be a rule mapping", subField)
			continue
		}
		for ruleName, arg := range ruleMap {
			if !qcheck.IsKnownRule(ruleName) {
				result.addError(field, parentRule, "nested field %q uses unrecognized rule %q", subField, ruleName)
				continue
			}
			lintRuleShape(result, declared, field, ruleName, arg)
		}
	}
}

func stringOrList(arg any) []string {
	switch a := arg.(type) {
	case string:
		return []string{a}
	case []any:
		out := make([]string, 0, len(a))
		for _, t := range a {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// extractVars recursively finds every {"var": "name"} reference in a
// JSON-logic expression tree, returning the root variable name (before
// any "." path) of each.
func extractVars(node any) []string {
	if node == nil {
		return nil
	}

	var vars []string
	switch v := node.(type) {
	case map[string]any:
		if varName, ok := v["var"]; ok {
			if name, ok := varName.(string); ok {
				vars = append(vars, splitFirst(name, "."))
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			vars = append(vars, extractVars(v[k])...)
		}
	case []any:
		for _, elem := range v {
			vars = append(vars, extractVars(elem)...)
		}
	}
	return vars
}

func splitFirst(s, sep string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == sep[0] {
			return s[:i]
		}
	}
	return s
}
