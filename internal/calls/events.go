package calls

import (
	"encoding/json"
	"time"
)

// EventType is the lifecycle category of a CallEvent.
type EventType string

const (
	EventStarted    EventType = "started"
	EventRinging    EventType = "ringing"
	EventAnswered   EventType = "answered"
	EventTranscript EventType = "transcript"
	EventEnded      EventType = "ended"
	EventError      EventType = "error"
)

// EventTypes lists every category in lifecycle order.
var EventTypes = []EventType{EventStarted, EventRinging, EventAnswered, EventTranscript, EventEnded, EventError}

// Terminal reports whether no further events may follow this one for the same call.
func (t EventType) Terminal() bool {
	return t == EventEnded || t == EventError
}

// Event is a lifecycle notification for one call.
//
// Data depends on Type: TranscriptEntry for transcript, CallResult for ended/error,
// nil otherwise.
type Event struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// MarshalBinary lets events be handed straight to redis commands.
func (e Event) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}
