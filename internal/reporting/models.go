package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// CallsSummaryRequest requests aggregated metrics over calls started in Range.
type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	CanceledCalls  int `json:"canceled_calls"`

	// AnsweredCalls had a conversation (non-zero duration).
	AnsweredCalls int `json:"answered_calls"`

	TotalDurationSeconds   float64 `json:"total_duration_seconds"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`

	// Objective figures are over answered calls.
	ObjectivesAchieved int     `json:"objectives_achieved"`
	ObjectiveRate      float64 `json:"objective_rate"`

	// FieldCaptures counts calls that captured each field.
	FieldCaptures         map[string]int `json:"field_captures"`
	AverageFieldsCaptured float64        `json:"average_fields_captured"`

	EndReasons map[string]int `json:"end_reasons"`
}
