// Package agent connects calls to a conversational voice agent.
package agent

import (
	"context"
	"errors"

	"phonon/internal/calls"
)

var (
	ErrDial          = errors.New("agent: dial failed")
	ErrSessionClosed = errors.New("agent: session closed")
	ErrRemote        = errors.New("agent: remote error")
)

// Config is everything the agent needs for one conversation.
type Config struct {
	CallID       string
	Instructions string
	Voice        string
	Language     string
	Greeting     string

	// Fields are offered to the agent as valid names for record_field.
	Fields []string
}

// Dialer opens agent sessions. A failed Dial is terminal for the call; callers do not retry.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}

// Session is one live agent conversation carrying μ-law 8 kHz audio both ways.
//
// Audio and Events are closed when the session ends.
type Session interface {
	SendAudio(ctx context.Context, frame []byte) error
	Audio() <-chan []byte
	Events() <-chan Event
	Close() error
}

type EventKind string

const (
	// EventTranscript carries one finalized utterance.
	EventTranscript EventKind = "transcript"

	// EventUserStartedSpeaking signals barge-in: queued agent audio should be dropped.
	EventUserStartedSpeaking EventKind = "user_started_speaking"

	EventAgentAudioDone EventKind = "agent_audio_done"

	// EventFieldCaptured is the agent recording a requested field.
	EventFieldCaptured EventKind = "field_captured"

	// EventConversationEnd is the agent deciding the conversation is over.
	EventConversationEnd EventKind = "conversation_end"

	EventError EventKind = "error"
)

type Event struct {
	Kind EventKind

	// Transcript
	Speaker    calls.Speaker
	Text       string
	Confidence *float64

	// Field captured
	Field string
	Value string

	// Conversation end
	ObjectiveAchieved bool
	Summary           string

	Err error
}
