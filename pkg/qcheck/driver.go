package qcheck

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Result is the top-level outcome of validating one record:
// Passed is true only when Errors is empty and SystemFailure is false.
type Result struct {
	Passed         bool
	SystemFailure  bool
	SystemError    string              `json:",omitempty"`
	Errors         map[string][]string `json:"errors"`
	ErrorTree      ErrorTree           `json:"error_tree"`
	ScoreVariables map[string]any      `json:"score_variables,omitempty"`
}

// QualityCheck is the top-level driver: it owns a schema, a primary-key
// field, an optional datastore, and a logger, and exposes ValidateRecord as
// the one entry point a host application calls per record.
type QualityCheck struct {
	schema     *Schema
	primaryKey string
	strict     bool
	datastore  Datastore
	logger     *zap.Logger
}

// New builds a QualityCheck. strict controls whether an unknown field in
// the incoming record (one with no matching schema entry) makes that
// record a system failure or is silently ignored.
func New(schema *Schema, primaryKey string, strict bool, datastore Datastore, logger *zap.Logger) (*QualityCheck, error) {
	if schema == nil {
		return nil, fmt.Errorf("qcheck: schema must not be nil")
	}
	if primaryKey == "" {
		return nil, fmt.Errorf("qcheck: primary key field name must not be empty")
	}
	if !schema.Has(primaryKey) {
		return nil, fmt.Errorf("qcheck: primary key field %q is not declared in schema", primaryKey)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityCheck{
		schema:     schema,
		primaryKey: primaryKey,
		strict:     strict,
		datastore:  datastore,
		logger:     logger,
	}, nil
}

// ValidateRecord runs the rule evaluator against record,
// checking the primary key against the record as originally supplied (not
// cast — a cast record can never be distinguished from one where the
// primary key was actually present) before dispatching to the Evaluator.
//
// A panic anywhere in rule dispatch (malformed third-party schema data,
// an evaluator bug) is recovered at this boundary and reported as a
// SystemFailure rather than letting one bad record crash a batch run.
func (q *QualityCheck) ValidateRecord(ctx context.Context, record Record) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("panic during record validation", zap.Any("recover", r))
			result = Result{
				Passed:        false,
				SystemFailure: true,
				SystemError:   fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	if !record.Has(q.primaryKey) || record.Get(q.primaryKey).IsNull() {
		return Result{
			Passed:        false,
			SystemFailure: true,
			SystemError:   fmt.Sprintf("record is missing primary key field %q", q.primaryKey),
		}
	}

	if q.strict {
		for name := range record {
			if !q.schema.Has(name) {
				return Result{
					Passed:        false,
					SystemFailure: true,
					SystemError:   fmt.Sprintf("record has undeclared field %q (strict mode)", name),
				}
			}
		}
	}

	eval := NewEvaluator(q.schema, q.primaryKey, q.datastore)

	tree, err := eval.Evaluate(ctx, record)
	if err != nil {
		q.logger.Warn("system failure during validation",
			zap.String("primary_key", q.primaryKey),
			zap.Error(err))
		return Result{
			Passed:        false,
			SystemFailure: true,
			SystemError:   err.Error(),
		}
	}

	flat := tree.Flat()

	var scoreVars map[string]any
	if len(eval.scoreTable) > 0 {
		scoreVars = make(map[string]any, len(eval.scoreTable))
		for k, v := range eval.scoreTable {
			scoreVars[k] = v.ToAny()
		}
	}

	return Result{
		Passed:         len(flat) == 0,
		SystemFailure:  false,
		Errors:         flat,
		ErrorTree:      tree,
		ScoreVariables: scoreVars,
	}
}

// Schema exposes the bound schema.
func (q *QualityCheck) Schema() *Schema { return q.schema }
