// Package eventlog keeps an append-only history of call lifecycle events.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"phonon/internal/calls"
	"phonon/internal/events"
)

var (
	ErrInvalidEvent  = errors.New("eventlog: invalid event")
	ErrNotConfigured = errors.New("eventlog: repository not configured")
)

// appendTimeout bounds a single write made from the event handler.
const appendTimeout = 3 * time.Second

// Service records call events.
//
// Callers should treat event logging as best-effort.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e calls.Event) error {
	if s.repo == nil {
		return ErrNotConfigured
	}
	if e.CallID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	rec := Record{
		ID:         uuid.NewString(),
		CallID:     e.CallID,
		Type:       e.Type,
		OccurredAt: e.Timestamp.UTC(),
		CreatedAt:  s.clock().UTC(),
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = rec.CreatedAt
	}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("eventlog: encode data: %w", err)
		}
		rec.Data = raw
	}
	return s.repo.Append(ctx, rec)
}

// History returns every record for a call, oldest first.
func (s *Service) History(ctx context.Context, callID string) ([]Record, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	return s.repo.List(ctx, callID)
}

// Handler adapts the service to the event dispatcher. Failures are logged, never returned.
func (s *Service) Handler() events.Handler {
	return func(e calls.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := s.Append(ctx, e); err != nil {
			s.log.Warn("event log append failed", "call_id", e.CallID, "type", e.Type, "err", err)
		}
	}
}
