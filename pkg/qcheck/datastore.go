package qcheck

import "context"

// Datastore is the host-supplied collaborator the evaluator calls out to
// for prior-visit lookups and external code validity checks.
// The engine itself never persists or mutates records — this interface is
// the engine's only I/O boundary.
type Datastore interface {
	// GetPreviousRecord returns the most-recent record whose orderByField
	// value is strictly less than current's, among records sharing
	// current's primary key, and which has every field in ignoreEmpty
	// non-null. found is false if no such record exists. ignoreEmpty may
	// be nil: some callers pass it, some don't, and implementations that
	// don't care may ignore it.
	GetPreviousRecord(ctx context.Context, orderByField string, current Record, ignoreEmpty []string) (prev Record, found bool, err error)

	// IsValidRxcui reports whether code is a valid RxNorm concept
	// identifier, backing the rxnorm rule.
	IsValidRxcui(ctx context.Context, code string) (bool, error)

	// IsValidADCID reports whether id is a valid site identifier,
	// backing the optional _check_adcid rule.
	IsValidADCID(ctx context.Context, id string) (bool, error)
}
