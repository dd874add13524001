package eventlog

import "context"

// Repository is the persistence contract for event records.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, r Record) error

	// List returns a call's records in the order they were appended.
	List(ctx context.Context, callID string) ([]Record, error)
}
