package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"phonon/internal/calls"
)

const (
	DefaultDeepgramURL = "wss://agent.deepgram.com/v1/agent/converse"

	settingsTimeout   = 10 * time.Second
	keepAliveInterval = 5 * time.Second
	deepgramWriteWait = 5 * time.Second

	audioBuffer = 256
	eventBuffer = 64
)

// Client-side functions offered to the think model.
const (
	fnRecordField = "record_field"
	fnEndCall     = "end_call"
)

// DeepgramDialer opens Deepgram Voice Agent sessions.
type DeepgramDialer struct {
	APIKey  string
	URL     string
	Profile Profile
	Log     *slog.Logger
}

func NewDeepgramDialer(apiKey, url string, profile Profile, log *slog.Logger) *DeepgramDialer {
	if url == "" {
		url = DefaultDeepgramURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &DeepgramDialer{APIKey: apiKey, URL: url, Profile: profile, Log: log}
}

// Dial connects, sends Settings and waits for SettingsApplied.
func (d *DeepgramDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("%w: api key not configured", ErrDial)
	}

	dialer := websocket.Dialer{HandshakeTimeout: settingsTimeout}
	header := http.Header{}
	header.Set("Authorization", "Token "+d.APIKey)

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: http %d: %w", ErrDial, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}

	s := &deepgramSession{
		conn:   conn,
		log:    d.Log.With("call_id", cfg.CallID),
		fields: cfg.Fields,
		audio:  make(chan []byte, audioBuffer),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	if err := s.writeJSON(d.settings(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: send settings: %w", ErrDial, err)
	}
	if err := s.awaitSettingsApplied(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}

	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

func (d *DeepgramDialer) settings(cfg Config) settingsMessage {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = d.Profile.Greeting(cfg.Language)
	}

	m := settingsMessage{Type: "Settings"}
	m.Audio.Input = audioFormat{Encoding: "mulaw", SampleRate: 8000}
	m.Audio.Output = audioFormat{Encoding: "mulaw", SampleRate: 8000, Container: "none"}
	m.Agent.Language = cfg.Language
	m.Agent.Listen.Provider = provider{Type: "deepgram", Model: d.Profile.ListenModel}
	m.Agent.Think.Provider = provider{Type: d.Profile.ThinkProvider, Model: d.Profile.ThinkModel}
	m.Agent.Think.Prompt = cfg.Instructions
	m.Agent.Think.Functions = agentFunctions(cfg.Fields)
	m.Agent.Speak.Provider = provider{Type: "deepgram", Model: voice}
	m.Agent.Greeting = greeting
	return m
}

func agentFunctions(fields []string) []function {
	nameSchema := map[string]any{"type": "string", "description": "Name of the field being recorded."}
	if len(fields) > 0 {
		nameSchema["enum"] = fields
	}
	return []function{
		{
			Name:        fnRecordField,
			Description: "Record a piece of requested information as soon as the other party states it.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  nameSchema,
					"value": map[string]any{"type": "string", "description": "The value exactly as stated."},
				},
				"required": []string{"name", "value"},
			},
		},
		{
			Name:        fnEndCall,
			Description: "End the call once the objective is met or cannot be met. Say goodbye first.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"objective_achieved": map[string]any{"type": "boolean"},
					"summary":            map[string]any{"type": "string", "description": "Short summary of the call."},
				},
				"required": []string{"objective_achieved", "summary"},
			},
		},
	}
}

// Deepgram Voice Agent messages.
type settingsMessage struct {
	Type  string `json:"type"`
	Audio struct {
		Input  audioFormat `json:"input"`
		Output audioFormat `json:"output"`
	} `json:"audio"`
	Agent struct {
		Language string `json:"language,omitempty"`
		Listen   struct {
			Provider provider `json:"provider"`
		} `json:"listen"`
		Think struct {
			Provider  provider   `json:"provider"`
			Prompt    string     `json:"prompt"`
			Functions []function `json:"functions,omitempty"`
		} `json:"think"`
		Speak struct {
			Provider provider `json:"provider"`
		} `json:"speak"`
		Greeting string `json:"greeting,omitempty"`
	} `json:"agent"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type provider struct {
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
}

type function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type serverMessage struct {
	Type string `json:"type"`

	// ConversationText
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// FunctionCallRequest
	Functions []functionCall `json:"functions,omitempty"`

	// Error, Warning
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
}

type functionCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	ClientSide bool   `json:"client_side"`
}

type functionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type deepgramSession struct {
	conn   *websocket.Conn
	log    *slog.Logger
	fields []string

	audio  chan []byte
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
	closedMu  sync.Mutex
}

func (s *deepgramSession) awaitSettingsApplied(ctx context.Context) error {
	deadline := time.Now().Add(settingsTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await settings: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "SettingsApplied":
			return nil
		case "Error":
			return fmt.Errorf("%w: %s %s", ErrRemote, msg.Code, msg.Description)
		}
	}
}

func (s *deepgramSession) Audio() <-chan []byte { return s.audio }

func (s *deepgramSession) Events() <-chan Event { return s.events }

func (s *deepgramSession) SendAudio(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *deepgramSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteWait))
	return s.conn.WriteJSON(v)
}

func (s *deepgramSession) Close() error {
	s.closeOnce.Do(func() {
		s.closedMu.Lock()
		s.closed = true
		s.closedMu.Unlock()
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *deepgramSession) isClosed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed
}

func (s *deepgramSession) keepAlive() {
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if err := s.writeJSON(map[string]string{"type": "KeepAlive"}); err != nil {
				return
			}
		}
	}
}

func (s *deepgramSession) readLoop() {
	defer close(s.events)
	defer close(s.audio)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: connection lost: %w", ErrRemote, err)})
			}
			return
		}

		if kind == websocket.BinaryMessage {
			s.pushAudio(data)
			continue
		}
		s.handleMessage(data)
	}
}

func (s *deepgramSession) handleMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("agent message undecodable", "err", err)
		return
	}

	switch msg.Type {
	case "ConversationText":
		speaker := calls.SpeakerAgent
		if msg.Role == "user" {
			speaker = calls.SpeakerHuman
		}
		s.emit(Event{Kind: EventTranscript, Speaker: speaker, Text: msg.Content})
	case "UserStartedSpeaking":
		s.emit(Event{Kind: EventUserStartedSpeaking})
	case "AgentAudioDone":
		s.emit(Event{Kind: EventAgentAudioDone})
	case "FunctionCallRequest":
		for _, fc := range msg.Functions {
			s.handleFunctionCall(fc)
		}
	case "Error":
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %s %s", ErrRemote, msg.Code, msg.Description)})
	case "Warning":
		s.log.Warn("agent warning", "code", msg.Code, "description", msg.Description)
	case "Welcome", "SettingsApplied", "AgentThinking", "AgentStartedSpeaking", "PromptUpdated", "SpeakUpdated":
	default:
		s.log.Debug("agent message ignored", "type", msg.Type)
	}
}

func (s *deepgramSession) handleFunctionCall(fc functionCall) {
	content := "ok"
	switch fc.Name {
	case fnRecordField:
		var args struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil || args.Name == "" {
			content = "error: expected name and value"
			break
		}
		s.emit(Event{Kind: EventFieldCaptured, Field: args.Name, Value: args.Value})
		content = "recorded"
	case fnEndCall:
		var args struct {
			ObjectiveAchieved bool   `json:"objective_achieved"`
			Summary           string `json:"summary"`
		}
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			content = "error: expected objective_achieved and summary"
			break
		}
		s.emit(Event{Kind: EventConversationEnd, ObjectiveAchieved: args.ObjectiveAchieved, Summary: args.Summary})
		content = "ending call"
	default:
		content = "error: unknown function " + fc.Name
	}

	if !fc.ClientSide {
		return
	}
	resp := functionCallResponse{Type: "FunctionCallResponse", ID: fc.ID, Name: fc.Name, Content: content}
	if err := s.writeJSON(resp); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.log.Warn("function response failed", "function", fc.Name, "err", err)
	}
}

// emit blocks until the consumer takes the event or the session is closed.
func (s *deepgramSession) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

// pushAudio drops the oldest frame when the consumer falls behind.
func (s *deepgramSession) pushAudio(frame []byte) {
	select {
	case s.audio <- frame:
		return
	default:
	}
	select {
	case <-s.audio:
	default:
	}
	select {
	case s.audio <- frame:
	default:
	}
}
