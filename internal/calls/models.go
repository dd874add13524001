package calls

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CallRequest carries everything the caller supplies when asking for an outbound call.
//
// Once the telephony leg is placed the request is frozen; sessions only ever read it.
type CallRequest struct {
	// To is the destination number (E.164, e.g. +56912345678).
	To string `json:"to"`

	// Objective is what the agent should accomplish on the call.
	Objective string `json:"objective"`

	// Context is optional background for the conversation.
	Context string `json:"context,omitempty"`

	// SystemPrompt replaces the generated agent instructions verbatim when set.
	SystemPrompt string `json:"system_prompt,omitempty"`

	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`

	// ExtractFields names the pieces of information to pull out of the conversation.
	ExtractFields []string `json:"extract_fields,omitempty"`

	// MaxDuration caps the call. Zero means the configured default.
	MaxDuration time.Duration `json:"max_duration,omitempty"`

	// WebhookURL overrides the public base used for carrier markup and status
	// callbacks. It is a base, not a full endpoint: the carrier is sent to
	// WebhookURL+"/twiml/<call_id>" and posts status to
	// WebhookURL+"/webhooks/twilio/status/<call_id>". A trailing slash is ignored.
	WebhookURL string `json:"webhook_url,omitempty"`
}

var ErrInvalidRequest = errors.New("calls: invalid request")

// Validate checks the caller-supplied fields. Defaults are applied by the session manager.
func (r CallRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.To) == "" {
		problems = append(problems, "to is required")
	}
	if strings.TrimSpace(r.Objective) == "" {
		problems = append(problems, "objective is required")
	}
	if r.MaxDuration < 0 {
		problems = append(problems, "max_duration must not be negative")
	}
	seen := make(map[string]struct{}, len(r.ExtractFields))
	for _, f := range r.ExtractFields {
		name := strings.TrimSpace(f)
		if name == "" {
			problems = append(problems, "extract_fields must not contain empty names")
			continue
		}
		if _, dup := seen[name]; dup {
			problems = append(problems, fmt.Sprintf("extract_fields contains %q twice", name))
			continue
		}
		seen[name] = struct{}{}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
}

// Call is one outbound telephony session plus its conversation.
type Call struct {
	ID string `json:"call_id"`
	CallRequest

	CreatedAt time.Time `json:"created_at"`
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerHuman Speaker = "human"
)

func (s Speaker) Valid() bool {
	return s == SpeakerAgent || s == SpeakerHuman
}

// TranscriptEntry is one finalized utterance.
// Entries are append-only and ordered by Timestamp.
type TranscriptEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`

	// Timestamp is seconds from call start.
	Timestamp float64 `json:"timestamp"`

	// Confidence is the speech layer's score in [0,1], when it reports one.
	Confidence *float64 `json:"confidence,omitempty"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether a call can finish with this status.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// EndReason records what stopped the call.
type EndReason string

const (
	EndReasonHangup            EndReason = "hangup"
	EndReasonObjectiveComplete EndReason = "objective_complete"
	EndReasonMaxDuration       EndReason = "max_duration"
	EndReasonAgentError        EndReason = "agent_error"
	EndReasonTelephonyError    EndReason = "telephony_error"
	EndReasonCanceled          EndReason = "canceled"
	EndReasonShutdown          EndReason = "shutdown"
)

// CallResult is produced exactly once per call, when it terminates.
type CallResult struct {
	CallID         string     `json:"call_id"`
	ProviderCallID string     `json:"provider_call_id,omitempty"`
	Status         CallStatus `json:"status"`
	EndReason      EndReason  `json:"end_reason,omitempty"`

	DurationSeconds float64 `json:"duration_seconds"`

	Transcript        []TranscriptEntry `json:"transcript"`
	Summary           string            `json:"summary"`
	ObjectiveAchieved bool              `json:"objective_achieved"`
	ExtractedData     map[string]string `json:"extracted_data"`

	Error string `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
