package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"phonon/internal/calls"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	ErrNotConfigured  = errors.New("reporting: repository not configured")
)

// Repository abstracts data access for reporting.
//
// Implementations should read immutable sources (stored call results).
type Repository interface {
	ListResults(ctx context.Context, from, to time.Time) ([]calls.CallResult, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if !req.Range.valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, ErrNotConfigured
	}

	rows, err := s.repo.ListResults(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		Range:         req.Range,
		FieldCaptures: map[string]int{},
		EndReasons:    map[string]int{},
	}
	fields := 0
	for _, r := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		if r.EndReason != "" {
			out.EndReasons[string(r.EndReason)]++
		}
		switch r.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		}
		if r.DurationSeconds <= 0 {
			continue
		}
		out.AnsweredCalls++
		if r.ObjectiveAchieved {
			out.ObjectivesAchieved++
		}
		for name := range r.ExtractedData {
			out.FieldCaptures[name]++
			fields++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = round3(out.TotalDurationSeconds / float64(out.TotalCalls))
	}
	if out.AnsweredCalls > 0 {
		out.ObjectiveRate = round3(float64(out.ObjectivesAchieved) / float64(out.AnsweredCalls))
		out.AverageFieldsCaptured = round3(float64(fields) / float64(out.AnsweredCalls))
	}
	out.TotalDurationSeconds = round3(out.TotalDurationSeconds)
	return out, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
