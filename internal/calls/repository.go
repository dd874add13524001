package calls

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("calls: not found")

// Repository persists terminal call results.
//
// Results are write-once: saving a second result for the same call id is a no-op.
type Repository interface {
	SaveResult(ctx context.Context, call Call, res CallResult) error
	GetResult(ctx context.Context, callID string) (CallResult, error)
	// ListResults returns results whose StartedAt falls in [from, to).
	ListResults(ctx context.Context, from, to time.Time) ([]CallResult, error)
}
