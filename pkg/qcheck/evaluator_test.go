package qcheck

import (
	"context"
	"testing"
)

func testCtx() context.Context { return context.Background() }

func TestEvaluateHelloWorld(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
	}, []string{"ptid"})

	eval := NewEvaluator(schema, "ptid", nil)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "001"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(tree) != 0 {
		t.Errorf("expected a clean record to produce no errors, got %+v", tree)
	}
}

func TestCompatibilityIfThen(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"sex":  map[string]any{"type": "string"},
		"pregnant": map[string]any{
			"type": "bool",
			"compatibility": []any{
				map[string]any{
					"if":   map[string]any{"sex": map[string]any{"allowed": []any{"M"}}},
					"then": map[string]any{"pregnant": map[string]any{"allowed": []any{false}}},
				},
			},
		},
	}, []string{"ptid", "sex", "pregnant"})

	eval := NewEvaluator(schema, "ptid", nil)

	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "sex": "M", "pregnant": true}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["pregnant"]; !failed {
		t.Errorf("expected sex=M, pregnant=true to violate the compatibility constraint")
	}

	tree, err = eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "sex": "F", "pregnant": true}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["pregnant"]; failed {
		t.Errorf("expected sex=F to skip the constraint (if-clause false), got %+v", tree["pregnant"])
	}
}

func TestLogicRuleWithCountFormula(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"a":    map[string]any{"type": "integer", "nullable": true},
		"b":    map[string]any{"type": "integer", "nullable": true},
		"c":    map[string]any{"type": "integer", "nullable": true},
		"total_filled": map[string]any{
			"type": "integer",
			"logic": map[string]any{
				"formula": map[string]any{
					"==": []any{
						map[string]any{"var": "total_filled"},
						map[string]any{"count": []any{
							map[string]any{"var": "a"},
							map[string]any{"var": "b"},
							map[string]any{"var": "c"},
						}},
					},
				},
			},
		},
	}, []string{"ptid", "a", "b", "c", "total_filled"})

	eval := NewEvaluator(schema, "ptid", nil)
	record := NewRecord(map[string]any{"ptid": "1", "a": 1, "b": nil, "c": 1, "total_filled": 2})
	tree, err := eval.Evaluate(testCtx(), record)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["total_filled"]; failed {
		t.Errorf("expected count(a,b,c)=2 to match total_filled=2, got %+v", tree["total_filled"])
	}
}

// fakeDatastore is a minimal in-memory Datastore for temporal-rule and
// previous-record tests: it always returns the single configured prior
// record (or none).
type fakeDatastore struct {
	prev  Record
	found bool
}

func (f *fakeDatastore) GetPreviousRecord(ctx context.Context, orderByField string, current Record, ignoreEmpty []string) (Record, bool, error) {
	return f.prev, f.found, nil
}

func (f *fakeDatastore) IsValidRxcui(ctx context.Context, code string) (bool, error) {
	return code == "161", nil
}

func (f *fakeDatastore) IsValidADCID(ctx context.Context, id string) (bool, error) {
	return id == "ADC001", nil
}

func TestTemporalRulesNoHistoryIsNoOp(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"diagnosis": map[string]any{
			"type": "string",
			"temporalrules": []any{
				map[string]any{
					"previous": map[string]any{"diagnosis": map[string]any{"allowed": []any{"mci"}}},
					"current":  map[string]any{"diagnosis": map[string]any{"allowed": []any{"mci", "dementia"}}},
				},
			},
		},
	}, []string{"ptid", "diagnosis"})

	ds := &fakeDatastore{found: false}
	eval := NewEvaluator(schema, "ptid", ds)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "diagnosis": "normal"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["diagnosis"]; failed {
		t.Errorf("expected no prior visit to make the temporal rule a no-op, got %+v", tree["diagnosis"])
	}
}

func TestTemporalRulesViolation(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"diagnosis": map[string]any{
			"type": "string",
			"temporalrules": []any{
				map[string]any{
					"previous": map[string]any{"diagnosis": map[string]any{"allowed": []any{"mci"}}},
					"current":  map[string]any{"diagnosis": map[string]any{"allowed": []any{"mci", "dementia"}}},
				},
			},
		},
	}, []string{"ptid", "diagnosis"})

	ds := &fakeDatastore{found: true, prev: NewRecord(map[string]any{"ptid": "1", "diagnosis": "mci"})}
	eval := NewEvaluator(schema, "ptid", ds)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "diagnosis": "normal"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["diagnosis"]; !failed {
		t.Errorf("expected reverting from mci to normal to violate the temporal rule")
	}
}

func TestComputeGDSProration(t *testing.T) {
	items := make([]string, 15)
	rules := map[string]any{
		"ptid":  map[string]any{"type": "string", "required": true},
		"total": map[string]any{"type": "integer", "compute_gds": []any{}},
	}
	var order = []string{"ptid"}
	for i := range items {
		name := itemName(i)
		items[i] = name
		rules[name] = map[string]any{"type": "integer", "nullable": true}
		order = append(order, name)
	}
	order = append(order, "total")
	list := make([]any, len(items))
	for i, n := range items {
		list[i] = n
	}
	rules["total"] = map[string]any{"type": "integer", "compute_gds": list}

	schema := buildTestSchema(t, "ptid", rules, order)
	eval := NewEvaluator(schema, "ptid", nil)

	record := map[string]any{"ptid": "1"}
	for i, n := range items {
		if i < 13 {
			record[n] = 1
		}
	}
	// 13 answered (sum 13), 2 missing: expected = round(15*13/13) = 15
	record["total"] = 15

	tree, err := eval.Evaluate(testCtx(), NewRecord(record))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["total"]; failed {
		t.Errorf("expected prorated GDS total to match, got %+v", tree["total"])
	}
}

func itemName(i int) string {
	return "gds_" + string(rune('a'+i))
}
