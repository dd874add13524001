package telephony

import (
	"context"
	"errors"
	"net"
	"time"
)

var (
	ErrPlaceCall    = errors.New("telephony: place call failed")
	ErrHangup       = errors.New("telephony: hangup failed")
	ErrInvalidInput = errors.New("telephony: invalid input")
)

// Provider is the carrier-agnostic call control surface used by the session manager.
//
// Rules:
// - No carrier SDK calls outside provider adapters.
// - Request/response types stay carrier-agnostic.
type Provider interface {
	Name() string

	// PlaceCall asks the carrier to dial req.To. The carrier later fetches req.TwiMLURL
	// to learn how to bridge audio, and reports progress to req.StatusCallbackURL.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// Hangup ends an active leg by its carrier-assigned id.
	Hangup(ctx context.Context, providerCallID string) error
}

type PlaceCallRequest struct {
	// CallID is our identifier; carried for logging only.
	CallID string `json:"call_id"`

	To   string `json:"to"`
	From string `json:"from,omitempty"`

	TwiMLURL          string `json:"twiml_url"`
	StatusCallbackURL string `json:"status_callback_url,omitempty"`

	// RingTimeout bounds how long the carrier lets the destination ring. Zero means carrier default.
	RingTimeout time.Duration `json:"ring_timeout,omitempty"`
}

func (r PlaceCallRequest) Validate() error {
	if r.To == "" {
		return errors.Join(ErrInvalidInput, errors.New("to is required"))
	}
	if r.TwiMLURL == "" {
		return errors.Join(ErrInvalidInput, errors.New("twiml url is required"))
	}
	return nil
}

type PlaceCallResult struct {
	ProviderCallID string   `json:"provider_call_id"`
	State          LegState `json:"state"`
}

// LegState is the carrier-side state of the telephony leg.
type LegState string

const (
	LegInitiated LegState = "initiated"
	LegRinging   LegState = "ringing"
	LegAnswered  LegState = "answered"
	LegCompleted LegState = "completed"
	LegBusy      LegState = "busy"
	LegNoAnswer  LegState = "no_answer"
	LegFailed    LegState = "failed"
	LegCanceled  LegState = "canceled"
	LegUnknown   LegState = "unknown"
)

// Terminal reports whether the leg has ended.
func (s LegState) Terminal() bool {
	switch s {
	case LegCompleted, LegBusy, LegNoAnswer, LegFailed, LegCanceled:
		return true
	default:
		return false
	}
}

// Retryable reports whether dialing again later might succeed.
func (s LegState) Retryable() bool {
	return s == LegBusy || s == LegNoAnswer
}

// StatusUpdate is one carrier status callback, normalized.
type StatusUpdate struct {
	ProviderCallID  string    `json:"provider_call_id"`
	RawStatus       string    `json:"raw_status"`
	State           LegState  `json:"state"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	SIPResponseCode int       `json:"sip_response_code,omitempty"`
	AnsweredBy      string    `json:"answered_by,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// IsRetryable classifies transport-level failures. Timeouts and carrier throttling
// are retryable; validation and authentication failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var re *retryableError
	return errors.As(err, &re)
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
