package qcheck

import "testing"

func fieldsFromMap(order []string, m map[string]any) []OrderedField {
	out := make([]OrderedField, 0, len(order))
	for _, name := range order {
		out = append(out, OrderedField{Name: name, Value: m[name]})
	}
	return out
}

func TestBuildSchemaOrderPreserved(t *testing.T) {
	order := []string{"ptid", "visit_date", "age"}
	fields := fieldsFromMap(order, map[string]any{
		"ptid":       map[string]any{"type": "string", "required": true},
		"visit_date": map[string]any{"type": "date"},
		"age":        map[string]any{"type": "integer"},
	})

	schema, err := BuildSchema(fields, "ptid")
	if err != nil {
		t.Fatalf("BuildSchema: %v", err)
	}

	for i, want := range order {
		if schema.Fields[i].Name != want {
			t.Errorf("schema.Fields[%d].Name = %q, want %q", i, schema.Fields[i].Name, want)
		}
	}
}

func TestBuildSchemaUnknownRuleRejected(t *testing.T) {
	fields := fieldsFromMap([]string{"x"}, map[string]any{
		"x": map[string]any{"bogus_rule": true},
	})
	if _, err := BuildSchema(fields, ""); err == nil {
		t.Errorf("expected BuildSchema to reject an unknown rule name")
	}
}

func TestBuildSchemaMissingPrimaryKey(t *testing.T) {
	fields := fieldsFromMap([]string{"x"}, map[string]any{
		"x": map[string]any{"type": "string"},
	})
	if _, err := BuildSchema(fields, "ptid"); err == nil {
		t.Errorf("expected BuildSchema to reject a primary key not declared in the schema")
	}
}

func TestBuildSchemaPrimaryKeyMustBeRequired(t *testing.T) {
	fields := fieldsFromMap([]string{"ptid"}, map[string]any{
		"ptid": map[string]any{"type": "string"},
	})
	if _, err := BuildSchema(fields, "ptid"); err == nil {
		t.Errorf("expected BuildSchema to reject a primary key that isn't required")
	}
}

func TestOrderedRulesDispatchOrder(t *testing.T) {
	fs := &FieldSchema{
		Name: "x",
		Rules: map[string]any{
			"logic":    map[string]any{},
			"required": true,
			"type":     "integer",
			"min":      1.0,
		},
	}
	got := fs.OrderedRules()
	want := []string{"type", "required", "min", "logic"}
	if len(got) != len(want) {
		t.Fatalf("OrderedRules() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OrderedRules()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeTemporalRulesHoistsTopLevelOrderBy(t *testing.T) {
	fields := fieldsFromMap([]string{"ptid", "score"}, map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"score": map[string]any{
			"temporalrules": map[string]any{
				"orderby": "visit_num",
				"constraints": []any{
					map[string]any{"previous": map[string]any{}, "current": map[string]any{}},
				},
			},
		},
	})

	schema, err := BuildSchema(fields, "ptid")
	if err != nil {
		t.Fatalf("BuildSchema: %v", err)
	}

	list, ok := schema.Field("score").Rules["temporalrules"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("expected temporalrules to normalize to a one-item list, got %#v", schema.Field("score").Rules["temporalrules"])
	}
	cm := list[0].(map[string]any)
	if cm["orderby"] != "visit_num" {
		t.Errorf("orderby = %v, want visit_num hoisted from the top level", cm["orderby"])
	}
}

func TestIsKnownRule(t *testing.T) {
	if !IsKnownRule("compare_with") {
		t.Errorf("expected compare_with to be a known rule")
	}
	if IsKnownRule("not_a_real_rule") {
		t.Errorf("did not expect not_a_real_rule to be known")
	}
}
