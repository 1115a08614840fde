package qcheck

import (
	"testing"
	"time"
)

func TestCompareWithCurrentYear(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"visit_year": map[string]any{
			"type": "integer",
			"compare_with": map[string]any{
				"comparator": "<=",
				"base":       "current_year",
			},
		},
	}, []string{"ptid", "visit_year"})

	fixedNow := fixedClock(2024)
	eval := NewEvaluator(schema, "ptid", nil).WithClock(fixedNow)

	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "visit_year": 2030.0}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["visit_year"]; !failed {
		t.Errorf("expected visit_year 2030 to fail <= current_year (2024)")
	}
}

func TestCompareWithAbsForm(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid":    map[string]any{"type": "string", "required": true},
		"weight2": map[string]any{"type": "float", "nullable": true},
		"weight1": map[string]any{
			"type": "float",
			"compare_with": map[string]any{
				"comparator": "<=",
				"base":       "weight2",
				"op":         "abs",
				"adjustment": 5.0,
			},
		},
	}, []string{"ptid", "weight2", "weight1"})

	eval := NewEvaluator(schema, "ptid", nil)

	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "weight1": 100.0, "weight2": 80.0}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["weight1"]; !failed {
		t.Errorf("expected |100-80|=20 > 5 to fail")
	}

	tree, err = eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "weight1": 82.0, "weight2": 80.0}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["weight1"]; failed {
		t.Errorf("expected |82-80|=2 <= 5 to pass, got %+v", tree["weight1"])
	}
}

func TestCompareWithPreviousRecordNoHistorySkips(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"score": map[string]any{
			"type": "integer",
			"compare_with": map[string]any{
				"comparator":      ">=",
				"base":            "score",
				"previous_record": true,
			},
		},
	}, []string{"ptid", "score"})

	ds := &fakeDatastore{found: false}
	eval := NewEvaluator(schema, "ptid", ds)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "score": 1}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["score"]; failed {
		t.Errorf("expected no prior record to make compare_with a no-op, got %+v", tree["score"])
	}
}

func TestCompareAge(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"visit_date": map[string]any{
			"type": "date",
			"compare_age": map[string]any{
				"comparator":  ">=",
				"birth_year":  1950.0,
				"birth_month": 1.0,
				"birth_day":   1.0,
				"compare_to":  18.0,
			},
		},
	}, []string{"ptid", "visit_date"})

	eval := NewEvaluator(schema, "ptid", nil)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "visit_date": "2020-01-01"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["visit_date"]; failed {
		t.Errorf("expected a 70-year-old at visit to satisfy age >= 18, got %+v", tree["visit_date"])
	}
}

func TestCompareAgeInvalidBirthDatePassesSilently(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"visit_date": map[string]any{
			"type": "date",
			"compare_age": map[string]any{
				"comparator":  ">=",
				"birth_year":  2021.0,
				"birth_month": 2.0,
				"birth_day":   30.0, // does not exist
				"compare_to":  18.0,
			},
		},
	}, []string{"ptid", "visit_date"})

	eval := NewEvaluator(schema, "ptid", nil)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "visit_date": "2024-01-01"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["visit_date"]; failed {
		t.Errorf("expected an invalid birth date to pass without a hard failure, got %+v", tree["visit_date"])
	}
}

func TestRxnormRule(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"med":  map[string]any{"type": "string", "nullable": true, "rxnorm": true},
	}, []string{"ptid", "med"})

	ds := &fakeDatastore{}
	eval := NewEvaluator(schema, "ptid", ds)

	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "med": "999"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["med"]; !failed {
		t.Errorf("expected RXCUI 999 to be rejected by the fake datastore")
	}

	tree, err = eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "med": "161"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["med"]; failed {
		t.Errorf("expected RXCUI 161 to be accepted, got %+v", tree["med"])
	}
}

func TestRxnormWithoutDatastoreIsSystemError(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"med":  map[string]any{"type": "string", "nullable": true, "rxnorm": true},
	}, []string{"ptid", "med"})

	eval := NewEvaluator(schema, "ptid", nil)
	_, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "med": "161"}))
	if err == nil {
		t.Errorf("expected rxnorm without a datastore to raise a system error")
	}
}

func TestCheckADCID(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"site": map[string]any{"type": "string", "_check_adcid": true},
	}, []string{"ptid", "site"})

	ds := &fakeDatastore{}
	eval := NewEvaluator(schema, "ptid", ds)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "site": "ADC999"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["site"]; !failed {
		t.Errorf("expected an unrecognized site id to fail _check_adcid")
	}
}

func TestFunctionRule(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"a":    map[string]any{"type": "integer", "nullable": true},
		"b":    map[string]any{"type": "integer", "nullable": true},
		"total": map[string]any{
			"type": "integer",
			"function": map[string]any{
				"function_name": "sum",
				"arguments":     []any{"a", "b"},
			},
		},
	}, []string{"ptid", "a", "b", "total"})

	eval := NewEvaluator(schema, "ptid", nil)
	tree, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "a": 2, "b": 3, "total": 5}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, failed := tree["total"]; failed {
		t.Errorf("expected sum(2,3)=5 to match, got %+v", tree["total"])
	}
}

func TestScoreVariablesAccumulates(t *testing.T) {
	schema := buildTestSchema(t, "ptid", map[string]any{
		"ptid": map[string]any{"type": "string", "required": true},
		"q1":   map[string]any{"type": "integer", "nullable": true},
		"q2":   map[string]any{"type": "integer", "nullable": true},
		"subscore": map[string]any{
			"type": "integer",
			"nullable": true,
			"score_variables": map[string]any{
				"name":   "total_score",
				"fields": []any{"q1", "q2"},
			},
		},
	}, []string{"ptid", "q1", "q2", "subscore"})

	eval := NewEvaluator(schema, "ptid", nil)
	_, err := eval.Evaluate(testCtx(), NewRecord(map[string]any{"ptid": "1", "q1": 2, "q2": 3, "subscore": 5}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, ok := eval.scoreTable["total_score"]
	if !ok {
		t.Fatalf("expected total_score to be recorded in the score table")
	}
	if f, _ := got.Float(); f != 5 {
		t.Errorf("total_score = %v, want 5", f)
	}
}

func fixedClock(year int) func() time.Time {
	fixed := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return fixed }
}
