package session

import (
	"math"
	"strings"
	"time"

	"phonon/internal/calls"
	"phonon/internal/tracker"
)

// ending is how and why a session terminated.
type ending struct {
	status calls.CallStatus
	reason calls.EndReason
	cause  error
	at     time.Time
}

// buildResult assembles the single CallResult for a call.
//
// Rules:
// - Duration runs from answer to termination; a call never answered lasts 0 seconds.
// - A failed call always carries error text.
// - Extracted data only holds requested fields (the tracker guarantees it).
func buildResult(call calls.Call, providerCallID string, e ending, out tracker.Outcome, startedAt, answeredAt time.Time) calls.CallResult {
	res := calls.CallResult{
		CallID:            call.ID,
		ProviderCallID:    providerCallID,
		Status:            e.status,
		EndReason:         e.reason,
		Transcript:        out.Transcript,
		Summary:           out.Summary,
		ObjectiveAchieved: out.ObjectiveAchieved,
		ExtractedData:     out.ExtractedData,
		StartedAt:         startedAt,
		EndedAt:           e.at,
	}
	if res.Transcript == nil {
		res.Transcript = []calls.TranscriptEntry{}
	}
	if res.ExtractedData == nil {
		res.ExtractedData = map[string]string{}
	}
	if !answeredAt.IsZero() && e.at.After(answeredAt) {
		res.DurationSeconds = seconds(e.at.Sub(answeredAt))
	}

	if e.cause != nil {
		res.Error = e.cause.Error()
	}
	if res.Status == calls.CallStatusFailed && res.Error == "" {
		res.Error = "call failed"
	}
	return res
}

// seconds rounds d to milliseconds.
func seconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return math.Round(d.Seconds()*1000) / 1000
}

func trimSlash(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
