package telephony

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseStatusCallback reads a Twilio status callback.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
func ParseStatusCallback(r *http.Request, now time.Time) (StatusUpdate, error) {
	if err := r.ParseForm(); err != nil {
		return StatusUpdate{}, err
	}
	sid := strings.TrimSpace(r.PostFormValue("CallSid"))
	if sid == "" {
		return StatusUpdate{}, errors.Join(ErrInvalidInput, errors.New("CallSid is required"))
	}
	raw := strings.TrimSpace(r.PostFormValue("CallStatus"))
	if raw == "" {
		return StatusUpdate{}, errors.Join(ErrInvalidInput, errors.New("CallStatus is required"))
	}

	u := StatusUpdate{
		ProviderCallID: sid,
		RawStatus:      raw,
		State:          TwilioLegState(raw),
		AnsweredBy:     r.PostFormValue("AnsweredBy"),
		OccurredAt:     now,
	}
	if v := r.PostFormValue("CallDuration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			u.DurationSeconds = n
		}
	}
	if v := r.PostFormValue("SipResponseCode"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			u.SIPResponseCode = n
		}
	}
	if v := r.PostFormValue("Timestamp"); v != "" {
		if ts, err := time.Parse(time.RFC1123Z, v); err == nil {
			u.OccurredAt = ts
		}
	}
	return u, nil
}

// TwilioLegState maps Twilio's CallStatus vocabulary onto LegState.
func TwilioLegState(raw string) LegState {
	switch strings.ToLower(raw) {
	case "queued", "initiated":
		return LegInitiated
	case "ringing":
		return LegRinging
	case "in-progress", "answered":
		return LegAnswered
	case "completed":
		return LegCompleted
	case "busy":
		return LegBusy
	case "no-answer":
		return LegNoAnswer
	case "failed":
		return LegFailed
	case "canceled":
		return LegCanceled
	default:
		return LegUnknown
	}
}
